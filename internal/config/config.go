// Package config loads MARI_* settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tiger/mari-voice/internal/submission"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "MARI"

const (
	DefaultWebhookURL  = submission.DefaultWebhookURL
	DefaultPlayerCmd   = "ffplay -nodisp -autoexit -loglevel quiet"
	DefaultPollyVoice  = "Camila"
	DefaultPollyEngine = "standard"
	DefaultTTSProvider = "polly"
	DefaultElevenVoice = "EXAVITQu4vr4xnSDxMaL"
	DefaultElevenModel = "eleven_multilingual_v2"
)

// Config is the resolved client configuration.
type Config struct {
	WebhookURL      string        `mapstructure:"webhook_url" validate:"required,url"`
	TextWebhookURL  string        `mapstructure:"text_webhook_url" validate:"omitempty,url"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout" validate:"gt=0"`
	FallbackEnabled bool          `mapstructure:"fallback_enabled"`

	SupabaseURL     string `mapstructure:"supabase_url" validate:"omitempty,url"`
	SupabaseAnonKey string `mapstructure:"supabase_anon_key" validate:"required_with=SupabaseURL"`
	SessionFile     string `mapstructure:"session_file"`

	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFile  string `mapstructure:"log_file"`

	PlayerCmd     string `mapstructure:"player_cmd"`
	NotifyDesktop bool   `mapstructure:"notify_desktop"`

	TTSEnabled     bool   `mapstructure:"tts_enabled"`
	TTSProvider    string `mapstructure:"tts_provider" validate:"oneof=polly elevenlabs"`
	TTSPollyRegion string `mapstructure:"tts_polly_region"`
	TTSPollyVoice  string `mapstructure:"tts_polly_voice" validate:"required_if=TTSEnabled true"`
	TTSPollyEngine string `mapstructure:"tts_polly_engine" validate:"omitempty,oneof=standard neural generative long-form"`

	TTSElevenLabsAPIKey string `mapstructure:"tts_elevenlabs_api_key" validate:"required_if=TTSEnabled true TTSProvider elevenlabs"`
	TTSElevenLabsVoice  string `mapstructure:"tts_elevenlabs_voice"`
	TTSElevenLabsModel  string `mapstructure:"tts_elevenlabs_model"`

	TelemetryOTLPHTTPEndpoint string `mapstructure:"telemetry_otlp_http_endpoint" validate:"omitempty,url"`

	CaptureSampleRate int `mapstructure:"capture_sample_rate" validate:"gt=0"`
	CaptureChannels   int `mapstructure:"capture_channels" validate:"min=1,max=2"`
	CaptureMaxSeconds int `mapstructure:"capture_max_seconds" validate:"min=0"`
}

// Options controls where Load looks for settings.
type Options struct {
	// EnvFile holds MARI_* values that the process environment overrides.
	// Missing files are ignored.
	EnvFile string
	// HomeDir resolves the default session file. Defaults to os.UserHomeDir.
	HomeDir string
}

// Load resolves Config from defaults, the env file and MARI_* variables.
func Load(opts Options) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	fileValues, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read env file %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, opts.HomeDir)
	// File values sit between defaults and the process environment.
	for key, value := range fileValues {
		if name, ok := strings.CutPrefix(key, EnvPrefix+"_"); ok {
			v.SetDefault(strings.ToLower(name), value)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.TextWebhookURL == "" {
		cfg.TextWebhookURL = cfg.WebhookURL
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SupabaseConfigured reports whether auth commands can run.
func (c Config) SupabaseConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// PlayerCommand splits PlayerCmd into argv.
func (c Config) PlayerCommand() []string {
	return strings.Fields(c.PlayerCmd)
}

// MaxDuration is the recording cap, zero when unlimited.
func (c Config) MaxDuration() time.Duration {
	return time.Duration(c.CaptureMaxSeconds) * time.Second
}

func setDefaults(v *viper.Viper, home string) {
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	v.SetDefault("webhook_url", DefaultWebhookURL)
	v.SetDefault("text_webhook_url", "")
	v.SetDefault("submit_timeout", 30*time.Second)
	v.SetDefault("fallback_enabled", true)

	v.SetDefault("supabase_url", "")
	v.SetDefault("supabase_anon_key", "")
	v.SetDefault("session_file", filepath.Join(home, ".mari", "session.json"))

	v.SetDefault("log_level", "warn")
	v.SetDefault("log_file", "")

	v.SetDefault("player_cmd", DefaultPlayerCmd)
	v.SetDefault("notify_desktop", false)

	v.SetDefault("tts_enabled", false)
	v.SetDefault("tts_provider", DefaultTTSProvider)
	v.SetDefault("tts_polly_region", "")
	v.SetDefault("tts_polly_voice", DefaultPollyVoice)
	v.SetDefault("tts_polly_engine", DefaultPollyEngine)
	v.SetDefault("tts_elevenlabs_api_key", "")
	v.SetDefault("tts_elevenlabs_voice", DefaultElevenVoice)
	v.SetDefault("tts_elevenlabs_model", DefaultElevenModel)

	v.SetDefault("telemetry_otlp_http_endpoint", "")

	v.SetDefault("capture_sample_rate", 16000)
	v.SetDefault("capture_channels", 1)
	v.SetDefault("capture_max_seconds", 120)
}
