package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests in this file mutate process env and do not run in parallel.

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(Options{EnvFile: filepath.Join(home, "missing.env"), HomeDir: home})
	require.NoError(t, err)

	assert.Equal(t, DefaultWebhookURL, cfg.WebhookURL)
	assert.Equal(t, DefaultWebhookURL, cfg.TextWebhookURL)
	assert.Equal(t, 30*time.Second, cfg.SubmitTimeout)
	assert.True(t, cfg.FallbackEnabled)
	assert.Equal(t, filepath.Join(home, ".mari", "session.json"), cfg.SessionFile)
	assert.Equal(t, []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"}, cfg.PlayerCommand())
	assert.Equal(t, DefaultPollyVoice, cfg.TTSPollyVoice)
	assert.Equal(t, 16000, cfg.CaptureSampleRate)
	assert.Equal(t, 1, cfg.CaptureChannels)
	assert.Equal(t, 2*time.Minute, cfg.MaxDuration())
	assert.False(t, cfg.SupabaseConfigured())
}

func TestLoadFromEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "mari.env")
	env := "MARI_SUPABASE_URL=https://example.supabase.co\n" +
		"MARI_SUPABASE_ANON_KEY=anon\n" +
		"MARI_SUBMIT_TIMEOUT=10s\n" +
		"MARI_CAPTURE_CHANNELS=2\n" +
		"OTHER_TOOL_SETTING=ignored\n"
	require.NoError(t, os.WriteFile(envFile, []byte(env), 0o600))

	t.Setenv("MARI_WEBHOOK_URL", "http://localhost:8080/webhook/mariAI")
	t.Setenv("MARI_SUBMIT_TIMEOUT", "5s")
	t.Setenv("MARI_FALLBACK_ENABLED", "false")
	t.Setenv("MARI_TTS_ENABLED", "true")

	cfg, err := Load(Options{EnvFile: envFile, HomeDir: dir})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/webhook/mariAI", cfg.WebhookURL)
	assert.Equal(t, cfg.WebhookURL, cfg.TextWebhookURL)
	assert.Equal(t, 5*time.Second, cfg.SubmitTimeout)
	assert.False(t, cfg.FallbackEnabled)
	assert.Equal(t, 2, cfg.CaptureChannels)
	assert.True(t, cfg.TTSEnabled)
	assert.True(t, cfg.SupabaseConfigured())
	_, leaked := os.LookupEnv("MARI_SUPABASE_URL")
	assert.False(t, leaked, "env file must not be exported to the process")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "webhook not a url", key: "MARI_WEBHOOK_URL", value: "not a url"},
		{name: "bad log level", key: "MARI_LOG_LEVEL", value: "verbose"},
		{name: "too many channels", key: "MARI_CAPTURE_CHANNELS", value: "6"},
		{name: "zero timeout", key: "MARI_SUBMIT_TIMEOUT", value: "0s"},
		{name: "anon key missing", key: "MARI_SUPABASE_URL", value: "https://example.supabase.co"},
		{name: "unknown tts provider", key: "MARI_TTS_PROVIDER", value: "espeak"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			home := t.TempDir()
			_, err := Load(Options{EnvFile: filepath.Join(home, "none.env"), HomeDir: home})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoadRequiresElevenLabsKeyWhenSelected(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MARI_TTS_ENABLED", "true")
	t.Setenv("MARI_TTS_PROVIDER", "elevenlabs")

	_, err := Load(Options{EnvFile: filepath.Join(home, "none.env"), HomeDir: home})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TTSElevenLabsAPIKey")

	t.Setenv("MARI_TTS_ELEVENLABS_API_KEY", "xi-key")
	cfg, err := Load(Options{EnvFile: filepath.Join(home, "none.env"), HomeDir: home})
	require.NoError(t, err)
	assert.Equal(t, "elevenlabs", cfg.TTSProvider)
	assert.Equal(t, DefaultElevenVoice, cfg.TTSElevenLabsVoice)
	assert.Equal(t, DefaultElevenModel, cfg.TTSElevenLabsModel)
}
