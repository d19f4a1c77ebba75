package submission

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tiger/mari-voice/api/voice"
)

// DefaultReply is shown when a JSON reply carries nothing usable.
const DefaultReply = "Desculpe, não consegui processar sua solicitação."

// Strategy inspects a decoded reply and claims it by returning ok=true.
type Strategy struct {
	Name  string
	Apply func(doc any) (result voice.Result, ok bool, err error)
}

// ReplyStrategies returns the ordered interpretation list. The first
// strategy that claims the document wins; defaultReply closes the list.
func ReplyStrategies(defaultReply, defaultAudioType string) []Strategy {
	return []Strategy{
		{Name: "audio_url", Apply: audioURLStrategy},
		{Name: "audio_base64", Apply: func(doc any) (voice.Result, bool, error) {
			return audioBase64Strategy(doc, defaultAudioType)
		}},
		{Name: "response_text", Apply: responseTextStrategy},
		{Name: "first_output", Apply: firstOutputStrategy},
		{Name: "bare_string", Apply: bareStringStrategy},
		{Name: "default_reply", Apply: func(any) (voice.Result, bool, error) {
			return voice.TextOnly(defaultReply), true, nil
		}},
	}
}

// ApplyStrategies runs strategies in order over doc.
func ApplyStrategies(doc any, strategies []Strategy) (voice.Result, string, error) {
	for _, s := range strategies {
		result, ok, err := s.Apply(doc)
		if err != nil {
			return voice.Result{}, s.Name, err
		}
		if ok {
			return result, s.Name, nil
		}
	}
	return voice.Result{}, "", fmt.Errorf("no strategy matched the reply")
}

func audioURLStrategy(doc any) (voice.Result, bool, error) {
	if u := stringField(doc, "audioUrl"); u != "" {
		return voice.PlayableURL(u), true, nil
	}
	return voice.Result{}, false, nil
}

func audioBase64Strategy(doc any, defaultAudioType string) (voice.Result, bool, error) {
	raw := stringField(doc, "audioBase64")
	if raw == "" {
		return voice.Result{}, false, nil
	}
	mediaType := stringField(doc, "mimeType")
	if strings.HasPrefix(raw, "data:") {
		header, data, found := strings.Cut(raw, ",")
		if !found {
			return voice.Result{}, false, fmt.Errorf("malformed data url")
		}
		if mediaType == "" {
			mediaType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		}
		raw = data
	}
	audio, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return voice.Result{}, false, fmt.Errorf("decode audioBase64: %w", err)
	}
	if len(audio) == 0 {
		return voice.Result{}, false, nil
	}
	if mediaType == "" {
		mediaType = defaultAudioType
	}
	return voice.PlayableBytes(audio, mediaType), true, nil
}

func responseTextStrategy(doc any) (voice.Result, bool, error) {
	if text := stringField(doc, "response"); text != "" {
		return voice.TextOnly(text), true, nil
	}
	return voice.Result{}, false, nil
}

func firstOutputStrategy(doc any) (voice.Result, bool, error) {
	items, ok := doc.([]any)
	if !ok || len(items) == 0 {
		return voice.Result{}, false, nil
	}
	if text := stringField(items[0], "output"); text != "" {
		return voice.TextOnly(text), true, nil
	}
	return voice.Result{}, false, nil
}

func bareStringStrategy(doc any) (voice.Result, bool, error) {
	if text, ok := doc.(string); ok && strings.TrimSpace(text) != "" {
		return voice.TextOnly(text), true, nil
	}
	return voice.Result{}, false, nil
}

func stringField(doc any, key string) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	v, _ := obj[key].(string)
	return strings.TrimSpace(v)
}
