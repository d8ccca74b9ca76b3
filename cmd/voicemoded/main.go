package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/thomasrice/voicemode/internal/audio"
	"github.com/thomasrice/voicemode/internal/config"
	"github.com/thomasrice/voicemode/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	_ = godotenv.Load()

	var (
		configPath  string
		combo       string
		deviceIndex int
		pushToTalk  bool
		listDevices bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (default: the per-user config)")
	flag.StringVar(&combo, "hotkey", "", "Override the global hotkey combo, e.g. ctrl+shift+f8")
	flag.IntVar(&deviceIndex, "device", -1, "Override the audio input device index")
	flag.BoolVar(&pushToTalk, "push-to-talk", false, "Hold-to-record instead of toggling")
	flag.BoolVar(&listDevices, "list-devices", false, "List audio input devices and exit")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}
	if listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// The default config path is optional; an explicitly given one is not.
	if configPath == "" {
		if p := config.DefaultPath(); fileExists(p) {
			configPath = p
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hotkey":
			cfg.Hotkey.Combo = combo
		case "device":
			cfg.Audio.DeviceIndex = deviceIndex
		case "push-to-talk":
			if pushToTalk {
				cfg.Session.Mode = "push-to-talk"
			} else {
				cfg.Session.Mode = "toggle"
			}
		}
	})

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))

	rt := runtime.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("daemon exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func printDevices() error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %3d  %-40s  %d ch  %.0f Hz\n", marker, d.Index, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return nil
}
