package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Session.Mode != "toggle" {
		t.Fatalf("expected toggle mode, got %q", cfg.Session.Mode)
	}
	if cfg.Transcriber.Model != "gpt-4o-transcribe" {
		t.Fatalf("expected default model, got %q", cfg.Transcriber.Model)
	}
	if !cfg.Bus.Embedded {
		t.Fatal("expected embedded bus by default")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("session:\n  mode: push-to-talk\naudio:\n  sample_rate: 48000\nhotkey:\n  combo: ctrl+shift+f9\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Mode != "push-to-talk" {
		t.Fatalf("expected mode from file, got %q", cfg.Session.Mode)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Fatalf("expected sample rate from file, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Hotkey.Combo != "ctrl+shift+f9" {
		t.Fatalf("expected combo from file, got %q", cfg.Hotkey.Combo)
	}
	if cfg.Transcriber.Mode != "openai" {
		t.Fatalf("expected untouched default, got %q", cfg.Transcriber.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICEMODE_AUDIO_DEVICE_INDEX", "3")
	t.Setenv("VOICEMODE_AUDIO_SAMPLE_RATE", "44100")
	t.Setenv("VOICEMODE_SESSION_MODE", "push-to-talk")
	t.Setenv("VOICEMODE_HOTKEY_COMBO", "ctrl+f10")
	t.Setenv("VOICEMODE_TRANSCRIBER_MODEL", "whisper-1")
	t.Setenv("VOICEMODE_TRANSCRIBER_MAX_RETRIES", "4")
	t.Setenv("VOICEMODE_BUS_EMBEDDED", "false")
	t.Setenv("VOICEMODE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOICEMODE_HISTORY_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.DeviceIndex != 3 {
		t.Fatalf("expected device index override, got %d", cfg.Audio.DeviceIndex)
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Fatalf("expected sample rate override, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Session.Mode != "push-to-talk" {
		t.Fatalf("expected mode override, got %q", cfg.Session.Mode)
	}
	if cfg.Hotkey.Combo != "ctrl+f10" {
		t.Fatalf("expected combo override, got %q", cfg.Hotkey.Combo)
	}
	if cfg.Transcriber.Model != "whisper-1" {
		t.Fatalf("expected model override, got %q", cfg.Transcriber.Model)
	}
	if cfg.Transcriber.MaxRetries != 4 {
		t.Fatalf("expected retries override, got %d", cfg.Transcriber.MaxRetries)
	}
	if cfg.Bus.Embedded {
		t.Fatal("expected embedded bus override false")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.History.Enabled {
		t.Fatal("expected history disabled")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Session.Mode = "hold" }},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"bad channels", func(c *Config) { c.Audio.Channels = 3 }},
		{"negative reopen attempts", func(c *Config) { c.Audio.ReopenMaxAttempts = -1 }},
		{"backoff ceiling below floor", func(c *Config) { c.Audio.ReopenMaxBackoffMS = 1 }},
		{"zero max duration", func(c *Config) { c.Session.MaxDurationS = 0 }},
		{"hotkey without combo", func(c *Config) { c.Hotkey.Combo = "" }},
		{"bad transcriber mode", func(c *Config) { c.Transcriber.Mode = "grpc" }},
		{"exec without command", func(c *Config) { c.Transcriber.Mode = "exec"; c.Transcriber.Command = "" }},
		{"openai without model", func(c *Config) { c.Transcriber.Model = "" }},
		{"bus without servers", func(c *Config) { c.Bus.Embedded = false; c.Bus.Servers = nil }},
		{"bad bus port", func(c *Config) { c.Bus.Port = 0 }},
		{"bad http port", func(c *Config) { c.HTTP.Port = 70000 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
	if err := validate(Default()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestResolveAPIKeyPrecedence(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	t.Setenv("OPENAI_API_KEY", "sk-env")
	cfg := TranscriberConfig{APIKey: "sk-inline"}
	key, err := cfg.ResolveAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-env" {
		t.Fatalf("expected env key to win, got %q", key)
	}

	t.Setenv("OPENAI_API_KEY", "")
	key, err = cfg.ResolveAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-inline" {
		t.Fatalf("expected inline key, got %q", key)
	}

	keyFile := filepath.Join(t.TempDir(), "openai.key")
	if err := os.WriteFile(keyFile, []byte("sk-file\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	cfg = TranscriberConfig{APIKeyFile: keyFile}
	key, err = cfg.ResolveAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-file" {
		t.Fatalf("expected trimmed file key, got %q", key)
	}
}

func TestSocketPathDefault(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	got := ControlConfig{}.SocketPath()
	want := filepath.Join(tmp, "voicemode", "voicemode.sock")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if p := (ControlConfig{Socket: "/tmp/x.sock"}).SocketPath(); p != "/tmp/x.sock" {
		t.Fatalf("explicit socket not honored: %q", p)
	}
}
