package submission

import (
	"fmt"

	"github.com/tiger/mari-voice/providers/common/httpadapter"
)

// TransportError reports that no HTTP response was received: network
// failure, timeout or cancellation.
type TransportError struct {
	Outcome httpadapter.Outcome
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("webhook transport failure (%s): %v", e.Outcome.Reason, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the attempt hit the submission deadline.
func (e *TransportError) Timeout() bool {
	return e.Outcome.Class == httpadapter.OutcomeTimeout
}

// StatusError reports a well-formed non-2xx webhook response.
type StatusError struct {
	Outcome httpadapter.Outcome
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d (%s)", e.Outcome.StatusCode, e.Outcome.Reason)
}

// ResponseFormatError reports a 2xx response that could not be interpreted.
type ResponseFormatError struct {
	ContentType string
	Reason      string
	Err         error
}

func (e *ResponseFormatError) Error() string {
	msg := fmt.Sprintf("unusable webhook response: %s", e.Reason)
	if e.ContentType != "" {
		msg += " (content-type " + e.ContentType + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResponseFormatError) Unwrap() error {
	return e.Err
}
