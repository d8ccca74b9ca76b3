package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.design/x/hotkey"

	"github.com/thomasrice/voicemode/internal/config"
	"github.com/thomasrice/voicemode/internal/protocol"
)

// Authority is the subset of session commands a key press can trigger.
type Authority interface {
	Toggle(reply chan protocol.Response)
	StartRecording(reply chan protocol.Response)
	StopRecording(reply chan protocol.Response)
}

// eventSource abstracts the OS hotkey registration so the dispatch logic is
// testable without a display server.
type eventSource interface {
	Register() error
	Unregister() error
	Keydown() <-chan hotkey.Event
	Keyup() <-chan hotkey.Event
}

// Listener registers the global hotkey and drives the session authority. In
// toggle mode a press flips recording on and off; in push-to-talk mode
// recording follows the key down and up.
type Listener struct {
	cfg       config.HotkeyConfig
	mode      string
	authority Authority
	source    eventSource
	newSource func(mods []hotkey.Modifier, key hotkey.Key) eventSource

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewListener(parent context.Context, cfg config.HotkeyConfig, mode string, authority Authority, log *slog.Logger) *Listener {
	ctx, cancel := context.WithCancel(parent)
	return &Listener{
		cfg:       cfg,
		mode:      mode,
		authority: authority,
		newSource: func(mods []hotkey.Modifier, key hotkey.Key) eventSource {
			return hotkey.New(mods, key)
		},
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "hotkey")),
	}
}

func (l *Listener) Start() error {
	if !l.cfg.Enabled {
		return nil
	}
	mods, key, err := parseCombo(l.cfg.Combo)
	if err != nil {
		return err
	}
	source := l.newSource(mods, key)
	if err := source.Register(); err != nil {
		return fmt.Errorf("register hotkey %q: %w", l.cfg.Combo, err)
	}
	l.source = source
	l.wg.Add(1)
	go l.loop()
	l.logger.Info("global hotkey registered",
		slog.String("combo", l.cfg.Combo),
		slog.String("mode", l.mode))
	return nil
}

func (l *Listener) Close() {
	l.cancel()
	l.wg.Wait()
	if l.source != nil {
		_ = l.source.Unregister()
	}
}

func (l *Listener) Healthy() bool { return !l.cfg.Enabled || l.source != nil }

func (l *Listener) loop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.source.Keydown():
			l.keydown()
		case <-l.source.Keyup():
			l.keyup()
		}
	}
}

func (l *Listener) keydown() {
	if l.mode == "push-to-talk" {
		// repeats while held are idempotent on the authority side
		l.authority.StartRecording(nil)
		return
	}
	l.authority.Toggle(nil)
	l.drainKeydown()
}

func (l *Listener) keyup() {
	if l.mode == "push-to-talk" {
		l.authority.StopRecording(nil)
	}
}

// drainKeydown discards keydown events the OS queued while a toggle press
// was being handled, so key auto-repeat cannot flap the session.
func (l *Listener) drainKeydown() {
	for {
		select {
		case <-l.source.Keydown():
		default:
			return
		}
	}
}
