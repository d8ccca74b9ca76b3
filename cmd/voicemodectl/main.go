package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/thomasrice/voicemode/internal/audio"
	"github.com/thomasrice/voicemode/internal/config"
	"github.com/thomasrice/voicemode/internal/control"
	"github.com/thomasrice/voicemode/internal/history"
	"github.com/thomasrice/voicemode/internal/protocol"
)

var version = "0.1.0-dev"

const (
	// A stop or toggle reply arrives only after transcription finishes.
	sessionTimeout = 2 * time.Minute
	queryTimeout   = 5 * time.Second
	spawnWait      = 2500 * time.Millisecond
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "toggle":
		err = runSession(os.Args[2:], protocol.CmdToggle, true)
	case "start":
		err = runSession(os.Args[2:], protocol.CmdStart, true)
	case "stop":
		err = runSession(os.Args[2:], protocol.CmdStop, false)
	case "status":
		err = runStatus(os.Args[2:])
	case "shutdown":
		err = runShutdown(os.Args[2:])
	case "devices":
		err = runDevices()
	case "history":
		err = runHistory(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: voicemodectl <command> [flags]

commands:
  toggle     start recording, or stop and transcribe
  start      start recording
  stop       stop recording and transcribe
  status     show the daemon session state
  shutdown   stop the daemon
  devices    list audio input devices
  history    show recent transcriptions
  version    print version`)
}

func socketFlag(fs *flag.FlagSet) *string {
	return fs.String("socket", "", "Control socket path (default: the per-user socket)")
}

// resolveSocket prefers the flag, then the user config, then the default
// per-user path. A broken config file is not fatal for a control command.
func resolveSocket(override string) string {
	if override != "" {
		return override
	}
	if cfg, err := loadConfig(); err == nil {
		return cfg.Control.SocketPath()
	}
	return config.ControlConfig{}.SocketPath()
}

func loadConfig() (config.Config, error) {
	path := config.DefaultPath()
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	return config.Load(path)
}

// runSession sends a recording command, launching the daemon first when the
// command can meaningfully start one.
func runSession(args []string, cmd string, spawn bool) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	socket := socketFlag(fs)
	fs.Parse(args)

	path := resolveSocket(*socket)
	if spawn {
		if err := control.EnsureDaemon(path, spawnDaemon, spawnWait); err != nil {
			return err
		}
	}

	resp, err := control.NewClient(path).Send(cmd, sessionTimeout)
	if err != nil {
		return err
	}
	fmt.Println(describe(resp))
	if !resp.OK {
		os.Exit(1)
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socket := socketFlag(fs)
	fs.Parse(args)

	resp, err := control.NewClient(resolveSocket(*socket)).Send(protocol.CmdStatus, queryTimeout)
	if err != nil {
		return err
	}
	if resp.Status == protocol.StateRecording || resp.Status == protocol.StateTranscribing {
		fmt.Printf("state: %s (%.1fs)\n", resp.Status, float64(resp.SessionAgeMS)/1000)
		return nil
	}
	fmt.Printf("state: %s\n", resp.Status)
	return nil
}

func runShutdown(args []string) error {
	fs := flag.NewFlagSet("shutdown", flag.ExitOnError)
	socket := socketFlag(fs)
	fs.Parse(args)

	resp, err := control.NewClient(resolveSocket(*socket)).Send(protocol.CmdShutdown, queryTimeout)
	if err != nil {
		return err
	}
	fmt.Println(describe(resp))
	return nil
}

func runDevices() error {
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

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 10, "Number of sessions to show")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled in the configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	store, err := history.Open(ctx, cfg.History, discardLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		text := s.FinalText
		if text == "" {
			text = "(" + s.Outcome + ")"
		}
		fmt.Printf("%s  %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04:05"), text)
	}
	return nil
}

// describe maps a daemon response to a one-line human answer.
func describe(resp protocol.Response) string {
	switch resp.Result {
	case protocol.OutcomeStarted:
		return "recording started"
	case protocol.OutcomeAlready:
		return "already recording"
	case protocol.OutcomeBusy:
		return "busy transcribing, try again shortly"
	case protocol.OutcomeNotActive:
		return "not recording"
	case protocol.OutcomeNoAudio:
		return "no audio captured"
	case protocol.OutcomeTooShort:
		return "recording too short, skipped"
	case protocol.OutcomeTranscribed:
		return "transcribed and pasted"
	case protocol.OutcomeEmpty:
		return "transcription came back empty"
	case protocol.OutcomeStopped:
		return "daemon stopped"
	case protocol.OutcomeError:
		if resp.Error != "" {
			return "error: " + resp.Error
		}
		return "session failed"
	}
	if resp.Error != "" {
		return "error: " + resp.Error
	}
	return "ok"
}

// spawnDaemon launches voicemoded, looking next to this executable first and
// then on PATH. Output goes to a log file under the state directory.
func spawnDaemon() error {
	bin := daemonBinary()
	if bin == "" {
		return fmt.Errorf("voicemoded not found next to voicemodectl or on PATH")
	}

	logDir := config.StateDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(logDir, "daemon.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(bin)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	// The daemon outlives this process; don't wait on it.
	return cmd.Process.Release()
}

func daemonBinary() string {
	name := "voicemoded"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if found, err := exec.LookPath(name); err == nil {
		return found
	}
	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
