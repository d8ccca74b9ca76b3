package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type AudioConfig struct {
	DeviceIndex            int `yaml:"device_index"`
	SampleRate             int `yaml:"sample_rate"`
	Channels               int `yaml:"channels"`
	FramesPerBuffer        int `yaml:"frames_per_buffer"`
	ReopenMaxAttempts      int `yaml:"reopen_max_attempts"`
	ReopenInitialBackoffMS int `yaml:"reopen_initial_backoff_ms"`
	ReopenMaxBackoffMS     int `yaml:"reopen_max_backoff_ms"`
}

type SessionConfig struct {
	Mode          string `yaml:"mode"` // toggle, push-to-talk
	MinDurationMS int    `yaml:"min_duration_ms"`
	MaxDurationS  int    `yaml:"max_duration_s"`
}

type HotkeyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Combo   string `yaml:"combo"`
}

type ControlConfig struct {
	Socket string `yaml:"socket"`
}

// SocketPath returns the configured control socket, defaulting to a per-user
// path under the config directory.
func (c ControlConfig) SocketPath() string {
	if c.Socket != "" {
		return c.Socket
	}
	return filepath.Join(Dir(), "voicemode.sock")
}

type TranscriberConfig struct {
	Mode                  string `yaml:"mode"` // openai, exec, mock
	BaseURL               string `yaml:"base_url"`
	Model                 string `yaml:"model"`
	Language              string `yaml:"language"`
	APIKey                string `yaml:"api_key"`
	APIKeyFile            string `yaml:"api_key_file"`
	Command               string `yaml:"command"`
	MaxRetries            int    `yaml:"max_retries"`
	RetryInitialBackoffMS int    `yaml:"retry_initial_backoff_ms"`
	TimeoutS              int    `yaml:"timeout_s"`
}

type RulesConfig struct {
	File string `yaml:"file"`
}

type PasteConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Command     string `yaml:"command"`
	TypeDelayMS int    `yaml:"type_delay_ms"`
}

type SoundConfig struct {
	Enabled   bool   `yaml:"enabled"`
	StartFile string `yaml:"start_file"`
	StopFile  string `yaml:"stop_file"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
}

// DBPath returns the configured history database, defaulting to a per-user
// path under the state directory.
func (c HistoryConfig) DBPath() string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(StateDir(), "history.db")
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type Config struct {
	Name        string            `yaml:"name"`
	Environment string            `yaml:"environment"`
	Audio       AudioConfig       `yaml:"audio"`
	Session     SessionConfig     `yaml:"session"`
	Hotkey      HotkeyConfig      `yaml:"hotkey"`
	Control     ControlConfig     `yaml:"control"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Rules       RulesConfig       `yaml:"rules"`
	Paste       PasteConfig       `yaml:"paste"`
	Sound       SoundConfig       `yaml:"sound"`
	Notify      NotifyConfig      `yaml:"notify"`
	History     HistoryConfig     `yaml:"history"`
	Bus         BusConfig         `yaml:"bus"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		Name:        "voicemode",
		Environment: "production",
		Audio: AudioConfig{
			DeviceIndex:            -1,
			SampleRate:             16000,
			Channels:               1,
			FramesPerBuffer:        1024,
			ReopenMaxAttempts:      5,
			ReopenInitialBackoffMS: 250,
			ReopenMaxBackoffMS:     4000,
		},
		Session: SessionConfig{
			Mode:          "toggle",
			MinDurationMS: 300,
			MaxDurationS:  300,
		},
		Hotkey: HotkeyConfig{
			Enabled: true,
			Combo:   "f8",
		},
		Transcriber: TranscriberConfig{
			Mode:                  "openai",
			BaseURL:               "https://api.openai.com/v1",
			Model:                 "gpt-4o-transcribe",
			MaxRetries:            2,
			RetryInitialBackoffMS: 1000,
			TimeoutS:              60,
		},
		Paste: PasteConfig{
			Enabled:     true,
			TypeDelayMS: 80,
		},
		Sound: SoundConfig{
			Enabled: true,
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 90,
			MaxSessions:   10000,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4790,
			Servers:        []string{"nats://127.0.0.1:4790"},
			ConnectTimeout: 2000,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8800,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
	}
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Name, "VOICEMODE_NAME")
	overrideString(&cfg.Environment, "VOICEMODE_ENVIRONMENT")
	overrideInt(&cfg.Audio.DeviceIndex, "VOICEMODE_AUDIO_DEVICE_INDEX")
	overrideInt(&cfg.Audio.SampleRate, "VOICEMODE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "VOICEMODE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FramesPerBuffer, "VOICEMODE_AUDIO_FRAMES_PER_BUFFER")
	overrideInt(&cfg.Audio.ReopenMaxAttempts, "VOICEMODE_AUDIO_REOPEN_MAX_ATTEMPTS")
	overrideInt(&cfg.Audio.ReopenInitialBackoffMS, "VOICEMODE_AUDIO_REOPEN_INITIAL_BACKOFF_MS")
	overrideInt(&cfg.Audio.ReopenMaxBackoffMS, "VOICEMODE_AUDIO_REOPEN_MAX_BACKOFF_MS")
	overrideString(&cfg.Session.Mode, "VOICEMODE_SESSION_MODE")
	overrideInt(&cfg.Session.MinDurationMS, "VOICEMODE_SESSION_MIN_DURATION_MS")
	overrideInt(&cfg.Session.MaxDurationS, "VOICEMODE_SESSION_MAX_DURATION_S")
	overrideBool(&cfg.Hotkey.Enabled, "VOICEMODE_HOTKEY_ENABLED")
	overrideString(&cfg.Hotkey.Combo, "VOICEMODE_HOTKEY_COMBO")
	overrideString(&cfg.Control.Socket, "VOICEMODE_CONTROL_SOCKET")
	overrideString(&cfg.Transcriber.Mode, "VOICEMODE_TRANSCRIBER_MODE")
	overrideString(&cfg.Transcriber.BaseURL, "VOICEMODE_TRANSCRIBER_BASE_URL")
	overrideString(&cfg.Transcriber.Model, "VOICEMODE_TRANSCRIBER_MODEL")
	overrideString(&cfg.Transcriber.Language, "VOICEMODE_TRANSCRIBER_LANGUAGE")
	overrideString(&cfg.Transcriber.APIKey, "VOICEMODE_TRANSCRIBER_API_KEY")
	overrideString(&cfg.Transcriber.APIKeyFile, "VOICEMODE_TRANSCRIBER_API_KEY_FILE")
	overrideString(&cfg.Transcriber.Command, "VOICEMODE_TRANSCRIBER_COMMAND")
	overrideInt(&cfg.Transcriber.MaxRetries, "VOICEMODE_TRANSCRIBER_MAX_RETRIES")
	overrideInt(&cfg.Transcriber.RetryInitialBackoffMS, "VOICEMODE_TRANSCRIBER_RETRY_INITIAL_BACKOFF_MS")
	overrideInt(&cfg.Transcriber.TimeoutS, "VOICEMODE_TRANSCRIBER_TIMEOUT_S")
	overrideString(&cfg.Rules.File, "VOICEMODE_RULES_FILE")
	overrideBool(&cfg.Paste.Enabled, "VOICEMODE_PASTE_ENABLED")
	overrideString(&cfg.Paste.Command, "VOICEMODE_PASTE_COMMAND")
	overrideInt(&cfg.Paste.TypeDelayMS, "VOICEMODE_PASTE_TYPE_DELAY_MS")
	overrideBool(&cfg.Sound.Enabled, "VOICEMODE_SOUND_ENABLED")
	overrideString(&cfg.Sound.StartFile, "VOICEMODE_SOUND_START_FILE")
	overrideString(&cfg.Sound.StopFile, "VOICEMODE_SOUND_STOP_FILE")
	overrideBool(&cfg.Notify.Enabled, "VOICEMODE_NOTIFY_ENABLED")
	overrideBool(&cfg.History.Enabled, "VOICEMODE_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "VOICEMODE_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "VOICEMODE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "VOICEMODE_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.Bus.Embedded, "VOICEMODE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICEMODE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOICEMODE_BUS_SERVERS")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICEMODE_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.HTTP.Enabled, "VOICEMODE_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "VOICEMODE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEMODE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEMODE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEMODE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEMODE_TELEMETRY_OTLP_INSECURE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.Name == "" {
		return errors.New("name must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		return errors.New("audio.channels must be 1 or 2")
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		return errors.New("audio.frames_per_buffer must be positive")
	}
	if cfg.Audio.ReopenMaxAttempts < 0 {
		return errors.New("audio.reopen_max_attempts must be >= 0")
	}
	if cfg.Audio.ReopenInitialBackoffMS <= 0 {
		return errors.New("audio.reopen_initial_backoff_ms must be positive")
	}
	if cfg.Audio.ReopenMaxBackoffMS < cfg.Audio.ReopenInitialBackoffMS {
		return errors.New("audio.reopen_max_backoff_ms must be >= reopen_initial_backoff_ms")
	}
	switch cfg.Session.Mode {
	case "toggle", "push-to-talk":
	default:
		return errors.New("session.mode must be one of toggle|push-to-talk")
	}
	if cfg.Session.MinDurationMS < 0 {
		return errors.New("session.min_duration_ms must be >= 0")
	}
	if cfg.Session.MaxDurationS <= 0 {
		return errors.New("session.max_duration_s must be positive")
	}
	if cfg.Hotkey.Enabled && cfg.Hotkey.Combo == "" {
		return errors.New("hotkey.combo must not be empty when hotkey is enabled")
	}
	switch cfg.Transcriber.Mode {
	case "openai", "exec", "mock":
	default:
		return errors.New("transcriber.mode must be one of openai|exec|mock")
	}
	if cfg.Transcriber.Mode == "openai" {
		if cfg.Transcriber.BaseURL == "" {
			return errors.New("transcriber.base_url must be set when mode=openai")
		}
		if cfg.Transcriber.Model == "" {
			return errors.New("transcriber.model must be set when mode=openai")
		}
	}
	if cfg.Transcriber.Mode == "exec" && cfg.Transcriber.Command == "" {
		return errors.New("transcriber.command must be set when mode=exec")
	}
	if cfg.Transcriber.MaxRetries < 0 {
		return errors.New("transcriber.max_retries must be >= 0")
	}
	if cfg.Paste.TypeDelayMS < 0 {
		return errors.New("paste.type_delay_ms must be >= 0")
	}
	if cfg.Transcriber.TimeoutS <= 0 {
		return errors.New("transcriber.timeout_s must be positive")
	}
	if cfg.History.Enabled {
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
		if cfg.History.MaxSessions < 0 {
			return errors.New("history.max_sessions must be >= 0")
		}
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.HTTP.Enabled {
		if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
			return errors.New("http.port must be between 1 and 65535")
		}
	}
	return nil
}

// Dir returns the per-user configuration directory, following each
// platform's convention.
func Dir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "VoiceMode")
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", "VoiceMode")
		}
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "voicemode")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".config", "voicemode")
		}
	}
	return "."
}

// StateDir returns the directory for mutable daemon state such as the
// history database.
func StateDir() string {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, "voicemode")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "state", "voicemode")
		}
	}
	return Dir()
}

// ResolveAPIKey discovers the transcription API key: environment first, then
// the inline config value, then the configured key file, then well-known key
// files in the working directory and the config directory.
func (c TranscriberConfig) ResolveAPIKey() (string, error) {
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(c.APIKey); v != "" {
		return v, nil
	}
	if c.APIKeyFile != "" {
		v, err := readKeyFile(c.APIKeyFile)
		if err != nil {
			return "", fmt.Errorf("read api_key_file: %w", err)
		}
		if v != "" {
			return v, nil
		}
	}
	for _, dir := range []string{".", Dir()} {
		for _, name := range []string{"openai.txt", "openai.key", "OPENAI_API_KEY.txt"} {
			v, err := readKeyFile(filepath.Join(dir, name))
			if err == nil && v != "" {
				return v, nil
			}
		}
	}
	return "", errors.New("no API key found: set OPENAI_API_KEY or transcriber.api_key")
}

func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
