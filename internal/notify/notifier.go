package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier displays toasts.
type Notifier interface {
	Notify(Toast)
}

// Terminal prints toasts as single lines.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminal returns a Notifier writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Notify(toast Toast) {
	if toast.Title == "" {
		return
	}
	prefix := "•"
	if toast.Variant == VariantDestructive {
		prefix = "✗"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if toast.Description == "" {
		fmt.Fprintf(t.w, "%s %s\n", prefix, toast.Title)
		return
	}
	fmt.Fprintf(t.w, "%s %s: %s\n", prefix, toast.Title, toast.Description)
}

// Desktop raises OS notifications through beeep.
type Desktop struct {
	AppIcon string
	Logger  *zap.Logger

	notify func(title, message, appIcon string) error
	alert  func(title, message, appIcon string) error
}

// NewDesktop returns a desktop notifier.
func NewDesktop(logger *zap.Logger) *Desktop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Desktop{
		Logger: logger,
		notify: func(title, message, appIcon string) error { return beeep.Notify(title, message, appIcon) },
		alert:  func(title, message, appIcon string) error { return beeep.Alert(title, message, appIcon) },
	}
}

func (d *Desktop) Notify(toast Toast) {
	if toast.Title == "" {
		return
	}
	send := d.notify
	if toast.Variant == VariantDestructive {
		send = d.alert
	}
	if err := send(toast.Title, toast.Description, d.AppIcon); err != nil {
		d.Logger.Debug("desktop notification failed", zap.Error(err))
	}
}

// Multi fans a toast out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(toast Toast) {
	for _, n := range m {
		if n != nil {
			n.Notify(toast)
		}
	}
}
