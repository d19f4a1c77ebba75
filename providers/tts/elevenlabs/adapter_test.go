package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/providers/common/httpadapter"
)

func newTestSynth(t *testing.T, h http.HandlerFunc) *Synthesizer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s, err := New(Config{APIKey: "tts-key", BaseURL: srv.URL, VoiceID: "test-voice", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new synthesizer: %v", err)
	}
	return s
}

func TestSynthesizeSuccess(t *testing.T) {
	t.Parallel()

	s := newTestSynth(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/test-voice" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "tts-key" {
			t.Errorf("expected xi-api-key header, got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["text"] != "Olá" || body["model_id"] != defaultModel {
			t.Errorf("unexpected body: %v", body)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	})

	result, err := s.Synthesize(context.Background(), "  Olá ")
	if err != nil {
		t.Fatalf("unexpected synthesize error: %v", err)
	}
	if !result.IsPlayable() || string(result.Audio) != "mp3-bytes" || result.MediaType != voice.MediaTypeMP3 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSynthesizeStatusErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		class  httpadapter.OutcomeClass
	}{
		{status: http.StatusUnauthorized, class: httpadapter.OutcomeBlocked},
		{status: http.StatusTooManyRequests, class: httpadapter.OutcomeOverload},
		{status: http.StatusBadGateway, class: httpadapter.OutcomeServerError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			s := newTestSynth(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"detail":"nope"}`, tc.status)
			})
			_, err := s.Synthesize(context.Background(), "Olá")
			var synthErr *SynthesisError
			if !errors.As(err, &synthErr) {
				t.Fatalf("expected SynthesisError, got %v", err)
			}
			if synthErr.Outcome.Class != tc.class || synthErr.Outcome.StatusCode != tc.status {
				t.Fatalf("unexpected outcome: %+v", synthErr.Outcome)
			}
		})
	}
}

func TestSpeakKeepsTextAndFallsBack(t *testing.T) {
	t.Parallel()

	ok := newTestSynth(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3"))
	})
	spoken, err := ok.Speak(context.Background(), voice.TextOnly("Oi"))
	if err != nil || !spoken.IsPlayable() || spoken.Text != "Oi" {
		t.Fatalf("unexpected speak result: %+v, %v", spoken, err)
	}

	playable := voice.PlayableURL("https://cdn.example.com/a.mp3")
	same, err := ok.Speak(context.Background(), playable)
	if err != nil || same.AudioURL != playable.AudioURL {
		t.Fatalf("expected playable result untouched, got %+v, %v", same, err)
	}

	failing := newTestSynth(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	original := voice.TextOnly("Oi")
	kept, err := failing.Speak(context.Background(), original)
	if err == nil || kept.Kind != voice.ResultTextOnly || kept.Text != "Oi" {
		t.Fatalf("expected text result kept on failure, got %+v, %v", kept, err)
	}
}

func TestNewRequiresKeyAndRejectsEmptyText(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
	s, err := New(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), "  "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}
