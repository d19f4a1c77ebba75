package polly

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	pollysdk "github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/providers/common/httpadapter"
)

type fakePollyClient struct {
	out   *pollysdk.SynthesizeSpeechOutput
	err   error
	input *pollysdk.SynthesizeSpeechInput
}

func (f *fakePollyClient) SynthesizeSpeech(ctx context.Context, params *pollysdk.SynthesizeSpeechInput, optFns ...func(*pollysdk.Options)) (*pollysdk.SynthesizeSpeechOutput, error) {
	f.input = params
	return f.out, f.err
}

type fakeAPIError struct {
	code string
	msg  string
}

func (e fakeAPIError) Error() string {
	return e.code + ": " + e.msg
}

func (e fakeAPIError) ErrorCode() string {
	return e.code
}

func (e fakeAPIError) ErrorMessage() string {
	return e.msg
}

func (e fakeAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultServer
}

func audioStream(b string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte(b)))
}

func TestSynthesizeSuccess(t *testing.T) {
	t.Parallel()

	client := &fakePollyClient{out: &pollysdk.SynthesizeSpeechOutput{AudioStream: audioStream("mp3")}}
	s := newWithClient(Config{}, client)

	result, err := s.Synthesize(context.Background(), "  Olá, tudo bem?  ")
	if err != nil {
		t.Fatalf("unexpected synthesize error: %v", err)
	}
	if !result.IsPlayable() || string(result.Audio) != "mp3" || result.MediaType != voice.MediaTypeMP3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := *client.input.Text; got != "Olá, tudo bem?" {
		t.Fatalf("expected trimmed text, got %q", got)
	}
	if client.input.VoiceId != types.VoiceId("Camila") || client.input.Engine != types.EngineStandard {
		t.Fatalf("unexpected voice settings: %s %s", client.input.VoiceId, client.input.Engine)
	}
	if client.input.OutputFormat != types.OutputFormatMp3 {
		t.Fatalf("expected mp3 output, got %s", client.input.OutputFormat)
	}
}

func TestSynthesizeTruncatesLongText(t *testing.T) {
	t.Parallel()

	client := &fakePollyClient{out: &pollysdk.SynthesizeSpeechOutput{AudioStream: audioStream("mp3")}}
	s := newWithClient(Config{}, client)
	if _, err := s.Synthesize(context.Background(), strings.Repeat("é", maxTextChars+50)); err != nil {
		t.Fatalf("unexpected synthesize error: %v", err)
	}
	if n := utf8.RuneCountInString(*client.input.Text); n != maxTextChars {
		t.Fatalf("expected %d chars, got %d", maxTextChars, n)
	}
}

func TestSynthesizeEmpty(t *testing.T) {
	t.Parallel()

	s := newWithClient(Config{}, &fakePollyClient{})
	if _, err := s.Synthesize(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}

	s = newWithClient(Config{}, &fakePollyClient{out: &pollysdk.SynthesizeSpeechOutput{AudioStream: audioStream("")}})
	_, err := s.Synthesize(context.Background(), "oi")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) || synthErr.Outcome.Reason != "provider_empty_audio" {
		t.Fatalf("expected empty audio error, got %v", err)
	}
}

func TestSynthesizeErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected httpadapter.OutcomeClass
	}{
		{name: "timeout", err: context.DeadlineExceeded, expected: httpadapter.OutcomeTimeout},
		{name: "cancelled", err: context.Canceled, expected: httpadapter.OutcomeCancelled},
		{name: "overload", err: fakeAPIError{code: "ThrottlingException", msg: "rate"}, expected: httpadapter.OutcomeOverload},
		{name: "blocked", err: fakeAPIError{code: "TextLengthExceededException", msg: "too long"}, expected: httpadapter.OutcomeBlocked},
		{name: "auth", err: fakeAPIError{code: "UnrecognizedClientException", msg: "bad key"}, expected: httpadapter.OutcomeBlocked},
		{name: "server", err: fakeAPIError{code: "ServiceFailureException", msg: "oops"}, expected: httpadapter.OutcomeServerError},
		{name: "transport", err: errors.New("tcp reset"), expected: httpadapter.OutcomeTransportError},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newWithClient(Config{}, &fakePollyClient{err: tc.err})
			_, err := s.Synthesize(context.Background(), "oi")
			var synthErr *SynthesisError
			if !errors.As(err, &synthErr) {
				t.Fatalf("expected SynthesisError, got %v", err)
			}
			if synthErr.Outcome.Class != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, synthErr.Outcome.Class)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected wrapped cause")
			}
		})
	}
}

func TestSpeak(t *testing.T) {
	t.Parallel()

	s := newWithClient(Config{}, &fakePollyClient{out: &pollysdk.SynthesizeSpeechOutput{AudioStream: audioStream("mp3")}})

	spoken, err := s.Speak(context.Background(), voice.TextOnly("Bom dia"))
	if err != nil {
		t.Fatalf("unexpected speak error: %v", err)
	}
	if !spoken.IsPlayable() || spoken.Text != "Bom dia" {
		t.Fatalf("expected playable result keeping text, got %+v", spoken)
	}

	playable := voice.PlayableURL("https://cdn.example/a.mp3")
	same, err := s.Speak(context.Background(), playable)
	if err != nil || same.AudioURL != playable.AudioURL {
		t.Fatalf("expected passthrough, got %+v %v", same, err)
	}

	failing := newWithClient(Config{}, &fakePollyClient{err: errors.New("down")})
	original := voice.TextOnly("Bom dia")
	kept, err := failing.Speak(context.Background(), original)
	if err == nil || kept.Kind != voice.ResultTextOnly || kept.Text != "Bom dia" {
		t.Fatalf("expected text result kept on failure, got %+v %v", kept, err)
	}
}

var _ smithy.APIError = fakeAPIError{}
