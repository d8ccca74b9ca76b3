package paste

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/micmonay/keybd_event"

	"github.com/thomasrice/voicemode/internal/config"
)

const (
	restoreDelay   = 120 * time.Millisecond
	commandTimeout = 10 * time.Second
)

// Injector delivers transcribed text into the focused application. The
// default path stashes the clipboard, writes the text, sends the platform
// paste chord, and restores the clipboard. A configured command replaces
// the chord (wtype, xdotool and friends) and receives the text on stdin.
type Injector struct {
	cfg config.PasteConfig
	log *slog.Logger

	readClipboard  func() (string, error)
	writeClipboard func(string) error
	sendChord      func() error
	sleep          func(time.Duration)
}

func New(cfg config.PasteConfig, log *slog.Logger) *Injector {
	return &Injector{
		cfg:            cfg,
		log:            log.With(slog.String("component", "paste")),
		readClipboard:  clipboard.ReadAll,
		writeClipboard: clipboard.WriteAll,
		sendChord:      sendPasteChord,
		sleep:          time.Sleep,
	}
}

func (i *Injector) Inject(ctx context.Context, text string) error {
	if !i.cfg.Enabled {
		i.log.Debug("paste disabled, dropping text", slog.Int("chars", len(text)))
		return nil
	}
	if i.cfg.Command != "" {
		return i.runCommand(ctx, text)
	}
	return i.pasteClipboard(text)
}

func (i *Injector) pasteClipboard(text string) error {
	orig, restore := "", false
	if v, err := i.readClipboard(); err == nil {
		orig, restore = v, true
	}

	if err := i.writeClipboard(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	// let the clipboard settle before the target app reads it
	i.sleep(time.Duration(i.cfg.TypeDelayMS) * time.Millisecond)

	if err := i.sendChord(); err != nil {
		return fmt.Errorf("send paste chord: %w", err)
	}

	i.sleep(restoreDelay)
	if restore {
		_ = i.writeClipboard(orig)
	}
	return nil
}

func (i *Injector) runCommand(ctx context.Context, text string) error {
	args, err := shellwords.Parse(i.cfg.Command)
	if err != nil {
		return fmt.Errorf("parse paste command: %w", err)
	}
	if len(args) == 0 {
		return errors.New("paste command is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("paste command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func sendPasteChord() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	kb.SetKeys(keybd_event.VK_V)
	return kb.Launching()
}
