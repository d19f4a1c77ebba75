package playback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/internal/observability/telemetry"
)

func TestPlayCopiesInlineAudioAndReleases(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "played.bin")
	mem := telemetry.NewMemorySink()
	pipeline := telemetry.NewPipeline(mem, telemetry.Config{QueueCapacity: 8})
	p := New(Config{
		Command: []string{"sh", "-c", `cp "$1" "` + out + `"`, "sh"},
		TempDir: dir,
		Emitter: pipeline,
	})

	require.NoError(t, p.Play(context.Background(), voice.PlayableBytes([]byte("mp3-bytes"), voice.MediaTypeMP3)))
	require.NoError(t, p.Wait(context.Background()))
	require.Eventually(t, func() bool { return !p.Playing() }, time.Second, time.Millisecond)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "mp3-bytes", string(got))

	leftovers, _ := filepath.Glob(filepath.Join(dir, "mari-reply-*"))
	assert.Empty(t, leftovers, "temp reply file must be removed after playback")

	require.NoError(t, pipeline.Close())
	names := []string{}
	for _, ev := range mem.Events() {
		names = append(names, ev.Log.Name)
	}
	assert.Equal(t, []string{telemetry.EventPlaybackStarted, telemetry.EventPlaybackReleased}, names)
}

func TestPlayStopsPreviousInstance(t *testing.T) {
	t.Parallel()

	p := New(Config{Command: []string{"sh", "-c", "sleep 10", "sh"}, TempDir: t.TempDir()})
	defer p.Close()

	require.NoError(t, p.Play(context.Background(), voice.PlayableBytes([]byte("a"), voice.MediaTypeMP3)))
	p.mu.Lock()
	first := p.current
	p.mu.Unlock()
	require.NotNil(t, first)

	require.NoError(t, p.Play(context.Background(), voice.PlayableBytes([]byte("b"), voice.MediaTypeMP3)))
	select {
	case <-first.done:
	default:
		t.Fatalf("expected first instance to be released before the second started")
	}
	assert.True(t, p.Playing())

	p.Stop()
	assert.False(t, p.Playing())
}

func TestPlayFetchesAudioURL(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp3" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("remote-mp3"))
	}))
	defer ts.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "played.bin")
	p := New(Config{Command: []string{"sh", "-c", `cp "$1" "` + out + `"`, "sh"}, TempDir: dir})

	require.NoError(t, p.Play(context.Background(), voice.PlayableURL(ts.URL+"/reply.mp3?sig=abc")))
	require.NoError(t, p.Wait(context.Background()))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "remote-mp3", string(got))

	assert.Error(t, p.Play(context.Background(), voice.PlayableURL(ts.URL+"/missing.mp3")))
	assert.False(t, p.Playing())
}

func TestPlayRejectsNonAudio(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	assert.ErrorIs(t, p.Play(context.Background(), voice.TextOnly("oi")), ErrNotPlayable)
}

func TestPlayReportsMissingPlayer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := New(Config{Command: []string{filepath.Join(dir, "no-such-player")}, TempDir: dir})
	assert.Error(t, p.Play(context.Background(), voice.PlayableBytes([]byte("a"), voice.MediaTypeMP3)))
	leftovers, _ := filepath.Glob(filepath.Join(dir, "mari-reply-*"))
	assert.Empty(t, leftovers)
}

func TestPlayAfterCloseOrCancelStartsNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := New(Config{Command: []string{"sh", "-c", "sleep 10", "sh"}, TempDir: dir})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Play(ctx, voice.PlayableBytes([]byte("a"), voice.MediaTypeMP3)), context.Canceled)

	p.Close()
	require.ErrorIs(t, p.Play(context.Background(), voice.PlayableBytes([]byte("a"), voice.MediaTypeMP3)), ErrClosed)
	assert.False(t, p.Playing())
	leftovers, _ := filepath.Glob(filepath.Join(dir, "mari-reply-*"))
	assert.Empty(t, leftovers)
}

func TestExtensionForURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ogg", extensionForURL("https://cdn.example/a/b.ogg?x=1"))
	assert.Equal(t, "mp3", extensionForURL("https://cdn.example/stream"))
	assert.Equal(t, "mp3", extensionForURL("::bad"))
}
