package voice

import (
	"fmt"
	"strings"
)

// RecordingState is the normalized microphone session state.
type RecordingState string

const (
	StateIdle       RecordingState = "idle"
	StateRecording  RecordingState = "recording"
	StateStopping   RecordingState = "stopping"
	StateProcessing RecordingState = "processing"
)

// Media types negotiated by capture devices and returned by the webhook.
const (
	MediaTypeWebM = "audio/webm"
	MediaTypeWAV  = "audio/wav"
	MediaTypeOGG  = "audio/ogg"
	MediaTypeMP3  = "audio/mpeg"
	MediaTypePCM  = "audio/L16"
)

// Anonymous defaults applied to missing user metadata fields.
const (
	AnonymousID   = "anonymous"
	AnonymousName = "Usuário Anônimo"
)

// UserMetadata is the identity block attached to every submission.
type UserMetadata struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Gender    string `json:"gender"`
	BirthDate string `json:"birthDate"`
	State     string `json:"state"`
	City      string `json:"city"`
}

// WithDefaults fills missing identity fields with the anonymous placeholders.
func (m UserMetadata) WithDefaults() UserMetadata {
	if strings.TrimSpace(m.ID) == "" {
		m.ID = AnonymousID
	}
	if strings.TrimSpace(m.Name) == "" {
		m.Name = AnonymousName
	}
	return m
}

// AudioPayload is one finalized recording ready for submission.
type AudioPayload struct {
	SessionID string
	Data      []byte
	MediaType string
	User      UserMetadata
}

// NewAudioPayload copies data so the payload stays immutable after construction.
func NewAudioPayload(sessionID string, data []byte, mediaType string, user UserMetadata) AudioPayload {
	buf := make([]byte, len(data))
	copy(buf, data)
	return AudioPayload{
		SessionID: sessionID,
		Data:      buf,
		MediaType: mediaType,
		User:      user.WithDefaults(),
	}
}

// Validate enforces payload invariants before it is sent.
func (p AudioPayload) Validate() error {
	if len(p.Data) == 0 {
		return fmt.Errorf("audio payload is empty")
	}
	if !strings.HasPrefix(p.MediaType, "audio/") {
		return fmt.Errorf("invalid media type: %q", p.MediaType)
	}
	return nil
}

// FileName returns the multipart filename for the payload media type.
func (p AudioPayload) FileName() string {
	return "audio." + ExtensionFor(p.MediaType)
}

// ExtensionFor maps a media type to the file extension used on the wire.
func ExtensionFor(mediaType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mediaType, ";", 2)[0]))
	switch base {
	case MediaTypeWAV, "audio/x-wav", "audio/wave":
		return "wav"
	case MediaTypeOGG:
		return "ogg"
	case MediaTypeMP3, "audio/mp3":
		return "mp3"
	case MediaTypePCM:
		return "pcm"
	case "audio/mp4", "audio/aac":
		return "m4a"
	default:
		return "webm"
	}
}

// ResultKind tags a submission outcome.
type ResultKind string

const (
	ResultPlayableAudio ResultKind = "playable_audio"
	ResultTextOnly      ResultKind = "text_only"
	ResultFailure       ResultKind = "failure"
)

// ErrorClass is the user-facing failure taxonomy.
type ErrorClass string

const (
	ErrorClassNone           ErrorClass = ""
	ErrorClassDeviceAccess   ErrorClass = "device_access"
	ErrorClassTransport      ErrorClass = "transport"
	ErrorClassResponseFormat ErrorClass = "response_format"
	ErrorClassHTTPStatus     ErrorClass = "http_status"
	ErrorClassInvalidPayload ErrorClass = "invalid_payload"
)

// Result is the tagged outcome of one submission. Exactly one of the
// kind-specific field groups is meaningful.
type Result struct {
	Kind ResultKind `json:"kind"`

	// PlayableAudio: either a remote URL or inline bytes.
	AudioURL  string `json:"audio_url,omitempty"`
	Audio     []byte `json:"-"`
	MediaType string `json:"media_type,omitempty"`

	// TextOnly
	Text string `json:"text,omitempty"`

	// Failure
	Class      ErrorClass `json:"class,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	StatusCode int        `json:"status_code,omitempty"`
}

// PlayableURL builds a remote audio result.
func PlayableURL(url string) Result {
	return Result{Kind: ResultPlayableAudio, AudioURL: url}
}

// PlayableBytes builds an inline audio result.
func PlayableBytes(data []byte, mediaType string) Result {
	return Result{Kind: ResultPlayableAudio, Audio: data, MediaType: mediaType}
}

// TextOnly builds a conversational text result.
func TextOnly(text string) Result {
	return Result{Kind: ResultTextOnly, Text: text}
}

// Failure builds a failed result.
func Failure(class ErrorClass, reason string, status int) Result {
	return Result{Kind: ResultFailure, Class: class, Reason: reason, StatusCode: status}
}

// Validate checks the tagged-union invariants.
func (r Result) Validate() error {
	switch r.Kind {
	case ResultPlayableAudio:
		if r.AudioURL == "" && len(r.Audio) == 0 {
			return fmt.Errorf("playable audio requires audio_url or inline bytes")
		}
		if r.AudioURL != "" && len(r.Audio) > 0 {
			return fmt.Errorf("playable audio cannot carry both audio_url and inline bytes")
		}
	case ResultTextOnly:
		if r.Text == "" {
			return fmt.Errorf("text result requires text")
		}
	case ResultFailure:
		if r.Class == ErrorClassNone {
			return fmt.Errorf("failure result requires class")
		}
	default:
		return fmt.Errorf("invalid result kind: %q", r.Kind)
	}
	return nil
}

// IsPlayable reports whether the result carries audio.
func (r Result) IsPlayable() bool { return r.Kind == ResultPlayableAudio }

// IsFailure reports whether the result is a failure.
func (r Result) IsFailure() bool { return r.Kind == ResultFailure }
