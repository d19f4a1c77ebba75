package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// Handler receives device events for one acquired stream. OnStop is
// delivered exactly once, after the last OnData.
type Handler interface {
	OnData(chunk []byte)
	OnStop(err error)
}

// HandlerFuncs adapts plain functions to Handler.
type HandlerFuncs struct {
	Data func(chunk []byte)
	Stop func(err error)
}

func (h HandlerFuncs) OnData(chunk []byte) {
	if h.Data != nil {
		h.Data(chunk)
	}
}

func (h HandlerFuncs) OnStop(err error) {
	if h.Stop != nil {
		h.Stop(err)
	}
}

// Device grants exclusive capture streams.
type Device interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Stream is one live capture device handle.
type Stream interface {
	// MediaType is the negotiated container/codec of emitted chunks.
	MediaType() string
	// Start begins delivering events to h.
	Start(h Handler) error
	// Stop asks the device to flush and stop; completion is signalled by OnStop.
	Stop()
	// Release frees the handle. It is idempotent and safe after Stop.
	Release() error
}

// ErrorKind classifies microphone acquisition failures.
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindNotFound         ErrorKind = "not_found"
	KindInUse            ErrorKind = "in_use"
	KindUnknown          ErrorKind = "unknown"
)

// DeviceAccessError reports that the microphone could not be acquired.
type DeviceAccessError struct {
	Kind ErrorKind
	Err  error
}

func (e *DeviceAccessError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("microphone access failed: %s", e.Kind)
	}
	return fmt.Sprintf("microphone access failed: %s: %v", e.Kind, e.Err)
}

func (e *DeviceAccessError) Unwrap() error {
	return e.Err
}

// NewAccessError wraps err with an explicit kind.
func NewAccessError(kind ErrorKind, err error) *DeviceAccessError {
	return &DeviceAccessError{Kind: kind, Err: err}
}

// AccessError wraps err, inferring the kind from the underlying cause.
func AccessError(err error) *DeviceAccessError {
	var existing *DeviceAccessError
	if errors.As(err, &existing) {
		return existing
	}
	return &DeviceAccessError{Kind: Classify(err), Err: err}
}

// Classify infers the failure kind from OS-level errors.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return KindPermissionDenied
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENOENT):
		return KindNotFound
	case errors.Is(err, syscall.EBUSY):
		return KindInUse
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not allowed"):
		return KindPermissionDenied
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no default input"):
		return KindNotFound
	case strings.Contains(msg, "busy"), strings.Contains(msg, "unavailable"), strings.Contains(msg, "in use"):
		return KindInUse
	default:
		return KindUnknown
	}
}
