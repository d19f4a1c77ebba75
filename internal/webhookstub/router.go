// Package webhookstub is a local stand-in for the n8n chat webhook.
package webhookstub

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tiger/mari-voice/api/voice"
)

// ReplyMode selects the reply shape the stub sends back.
type ReplyMode string

const (
	// ReplyText answers {"response": "..."}.
	ReplyText ReplyMode = "text"
	// ReplyOutput answers [{"output": "..."}] like an n8n agent node.
	ReplyOutput ReplyMode = "output"
	// ReplyAudio echoes the received audio bytes back.
	ReplyAudio ReplyMode = "audio"
	// ReplyBase64 echoes the audio inside {"audioBase64", "mimeType"}.
	ReplyBase64 ReplyMode = "base64"
	// ReplyError fails with 500.
	ReplyError ReplyMode = "error"
)

const maxBody = 32 << 20

// Config configures the router.
type Config struct {
	Mode   ReplyMode
	Text   string
	Logger *zap.Logger
}

// Submission is one request as the stub understood it.
type Submission struct {
	ID        string
	Kind      string
	Message   string
	Audio     []byte
	MediaType string
	User      voice.UserMetadata
}

// Recorder keeps every submission in arrival order.
type Recorder struct {
	mu   sync.Mutex
	subs []Submission
}

func (r *Recorder) add(s Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, s)
}

// Submissions returns a copy of what was received so far.
func (r *Recorder) Submissions() []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Submission(nil), r.subs...)
}

// ParseMode validates a reply mode name.
func ParseMode(s string) (ReplyMode, error) {
	switch m := ReplyMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ReplyText, ReplyOutput, ReplyAudio, ReplyBase64, ReplyError:
		return m, nil
	case "":
		return ReplyText, nil
	default:
		return "", fmt.Errorf("unknown reply mode %q", s)
	}
}

// NewRouter returns the stub routes. A ?reply= query overrides cfg.Mode
// per request.
func NewRouter(cfg Config, rec *Recorder) *mux.Router {
	if cfg.Mode == "" {
		cfg.Mode = ReplyText
	}
	if cfg.Text == "" {
		cfg.Text = "Olá! Sou a Mari. Recebi sua mensagem."
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if rec == nil {
		rec = &Recorder{}
	}
	h := &handler{cfg: cfg, rec: rec}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	r.HandleFunc("/webhook/{id}", h.serveWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhook-test/{id}", h.serveWebhook).Methods(http.MethodPost)
	return r
}

type handler struct {
	cfg Config
	rec *Recorder
}

type jsonRequest struct {
	Message     string             `json:"message"`
	AudioBase64 string             `json:"audioBase64"`
	MimeType    string             `json:"mimeType"`
	User        voice.UserMetadata `json:"user"`
}

func (h *handler) serveWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	sub, err := decodeSubmission(r)
	if err != nil {
		h.cfg.Logger.Warn("webhook request rejected", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sub.ID = uuid.NewString()
	h.rec.add(sub)

	mode := h.cfg.Mode
	if q := r.URL.Query().Get("reply"); q != "" {
		if mode, err = ParseMode(q); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	h.cfg.Logger.Info("webhook request",
		zap.String("webhook", mux.Vars(r)["id"]),
		zap.String("submission_id", sub.ID),
		zap.String("kind", sub.Kind),
		zap.String("user_id", sub.User.ID),
		zap.Int("audio_bytes", len(sub.Audio)),
		zap.String("reply", string(mode)),
	)
	h.reply(w, mode, sub)
}

func (h *handler) reply(w http.ResponseWriter, mode ReplyMode, sub Submission) {
	text := h.cfg.Text
	if sub.Message != "" {
		text = fmt.Sprintf("%s Você disse: %s", text, sub.Message)
	}
	switch {
	case mode == ReplyError:
		http.Error(w, "stub failure", http.StatusInternalServerError)
	case mode == ReplyAudio && len(sub.Audio) > 0:
		w.Header().Set("Content-Type", sub.MediaType)
		_, _ = w.Write(sub.Audio)
	case mode == ReplyBase64 && len(sub.Audio) > 0:
		writeJSON(w, map[string]string{
			"audioBase64": base64.StdEncoding.EncodeToString(sub.Audio),
			"mimeType":    sub.MediaType,
		})
	case mode == ReplyOutput:
		writeJSON(w, []map[string]string{{"output": text}})
	default:
		writeJSON(w, map[string]string{"response": text})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeSubmission(r *http.Request) (Submission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return decodeMultipart(r)
	case "application/json", "":
		return decodeJSON(r.Body)
	default:
		return Submission{}, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func decodeMultipart(r *http.Request) (Submission, error) {
	if err := r.ParseMultipartForm(maxBody); err != nil {
		return Submission{}, fmt.Errorf("parse multipart: %w", err)
	}
	f, hdr, err := r.FormFile("audio")
	if err != nil {
		return Submission{}, fmt.Errorf("audio part: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return Submission{}, fmt.Errorf("read audio part: %w", err)
	}
	sub := Submission{Kind: "multipart", Audio: data, MediaType: hdr.Header.Get("Content-Type")}
	if raw := r.FormValue("user"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sub.User); err != nil {
			return Submission{}, fmt.Errorf("user field: %w", err)
		}
	}
	return sub, nil
}

func decodeJSON(body io.Reader) (Submission, error) {
	var req jsonRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return Submission{}, fmt.Errorf("decode json: %w", err)
	}
	sub := Submission{User: req.User, Message: strings.TrimSpace(req.Message)}
	switch {
	case req.AudioBase64 != "":
		data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			return Submission{}, fmt.Errorf("audioBase64: %w", err)
		}
		sub.Kind, sub.Audio, sub.MediaType = "base64", data, req.MimeType
	case sub.Message != "":
		sub.Kind = "text"
	default:
		return Submission{}, errors.New("request has neither audio nor message")
	}
	return sub, nil
}
