package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/internal/capture"
	"github.com/tiger/mari-voice/internal/capture/portaudio"
	"github.com/tiger/mari-voice/internal/playback"
	"github.com/tiger/mari-voice/internal/recording"
	"github.com/tiger/mari-voice/internal/submission"
	"github.com/tiger/mari-voice/internal/surface"
	"github.com/tiger/mari-voice/providers/tts/elevenlabs"
	"github.com/tiger/mari-voice/providers/tts/polly"
)

func runTalk(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("talk", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	file := fs.String("file", "", "replay an audio file instead of the microphone")
	mediaType := fs.String("media-type", "", "media type of -file (guessed from the extension when empty)")
	once := fs.Bool("once", false, "record one message, wait for the reply and exit")
	hold := fs.Duration("hold", 2*time.Second, "recording length in -once mode")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var device capture.Device
	if *file != "" {
		device = capture.NewFileDevice(capture.FileConfig{Path: *file, MediaType: *mediaType})
	} else {
		device = portaudio.New(portaudio.Config{
			SampleRate: a.cfg.CaptureSampleRate,
			Channels:   a.cfg.CaptureChannels,
			Logger:     a.logger,
		})
	}

	pipeline, err := submission.New(submission.Config{
		Endpoint:        a.cfg.WebhookURL,
		Timeout:         a.cfg.SubmitTimeout,
		FallbackEnabled: a.cfg.FallbackEnabled,
		SurfaceID:       "audio",
		Emitter:         a.telemetry,
		Logger:          a.logger,
	})
	if err != nil {
		return err
	}
	player := playback.New(playback.Config{Command: a.cfg.PlayerCommand(), SurfaceID: "audio", Emitter: a.telemetry, Logger: a.logger})
	defer player.Close()

	cfg := surface.Config{
		Device:    device,
		Submitter: pipeline,
		Player:    player,
		Notifier:  a.notifier,
		User:      a.session.Metadata,
		OnStateChange: func(state voice.RecordingState) {
			switch state {
			case voice.StateRecording:
				a.printf("● Gravando... (Enter para parar)\n")
			case voice.StateProcessing:
				a.printf("… Processando\n")
			}
		},
		OnElapsed: func(seconds int) {
			if seconds > 0 {
				a.printf("  %s\n", recording.FormatElapsed(seconds))
			}
		},
		MaxDuration: a.cfg.MaxDuration(),
		SurfaceID:   "audio",
		Emitter:     a.telemetry,
		Logger:      a.logger,
	}
	if cfg.Speaker, err = a.speaker(); err != nil {
		return err
	}
	chat, err := surface.New(cfg)
	if err != nil {
		return err
	}
	defer chat.Close()

	if *once {
		return a.talkOnce(ctx, chat, player, *hold)
	}
	return a.talkLoop(ctx, chat, player)
}

// speaker returns the configured TTS backend, or nil when TTS is off.
func (a *app) speaker() (surface.Speaker, error) {
	if !a.cfg.TTSEnabled {
		return nil, nil
	}
	switch a.cfg.TTSProvider {
	case "elevenlabs":
		s, err := elevenlabs.New(elevenlabs.Config{
			APIKey:  a.cfg.TTSElevenLabsAPIKey,
			VoiceID: a.cfg.TTSElevenLabsVoice,
			ModelID: a.cfg.TTSElevenLabsModel,
			Logger:  a.logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return polly.New(polly.Config{
			Region:  a.cfg.TTSPollyRegion,
			VoiceID: a.cfg.TTSPollyVoice,
			Engine:  a.cfg.TTSPollyEngine,
			Logger:  a.logger,
		}), nil
	}
}

func (a *app) talkOnce(ctx context.Context, chat *surface.AudioChat, player *playback.Player, hold time.Duration) error {
	if err := chat.Start(ctx); err != nil {
		return err
	}
	select {
	case <-time.After(hold):
	case <-ctx.Done():
	}
	chat.Stop()

	select {
	case reply := <-chat.Replies():
		a.printReply(reply)
		if reply.Err != nil {
			return reply.Err
		}
		return player.Wait(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *app) talkLoop(ctx context.Context, chat *surface.AudioChat, player *playback.Player) error {
	a.printf("Pressione Enter para falar. Digite q para sair.\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := a.readLine()
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case reply := <-chat.Replies():
			a.printReply(reply)
		case line, ok := <-lines:
			if !ok || isQuit(line) {
				return a.drainTalk(ctx, chat, player)
			}
			if err := chat.Toggle(ctx); err != nil && errors.Is(err, recording.ErrClosed) {
				return nil
			}
		}
	}
}

// drainTalk finishes an open recording and waits for its reply.
func (a *app) drainTalk(ctx context.Context, chat *surface.AudioChat, player *playback.Player) error {
	switch chat.State() {
	case voice.StateRecording:
		chat.Stop()
	case voice.StateIdle:
		select {
		case reply := <-chat.Replies():
			a.printReply(reply)
		default:
		}
		return player.Wait(ctx)
	}
	select {
	case reply := <-chat.Replies():
		a.printReply(reply)
		return player.Wait(ctx)
	case <-ctx.Done():
		return nil
	case <-time.After(a.cfg.SubmitTimeout * 2):
		return fmt.Errorf("no reply within %s", a.cfg.SubmitTimeout*2)
	}
}

func (a *app) printReply(r surface.Reply) {
	if r.Err != nil {
		return
	}
	switch {
	case r.Result.Text != "":
		a.printf("Mari: %s\n", r.Result.Text)
	case r.Result.IsPlayable():
		a.printf("Mari: 🔊\n")
	}
}

func isQuit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "q", "sair", "/sair", "exit":
		return true
	}
	return false
}

