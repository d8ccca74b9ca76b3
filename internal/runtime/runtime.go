// Package runtime assembles the daemon: telemetry, the event bus, the audio
// capture manager, the session state machine and its collaborators, the
// control socket and the global hotkey. Start blocks until the context is
// canceled or a shutdown command arrives, then tears everything down in
// reverse order.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thomasrice/voicemode/internal/audio"
	"github.com/thomasrice/voicemode/internal/bus"
	"github.com/thomasrice/voicemode/internal/config"
	"github.com/thomasrice/voicemode/internal/control"
	"github.com/thomasrice/voicemode/internal/history"
	"github.com/thomasrice/voicemode/internal/hotkey"
	"github.com/thomasrice/voicemode/internal/natsserver"
	"github.com/thomasrice/voicemode/internal/notify"
	"github.com/thomasrice/voicemode/internal/paste"
	"github.com/thomasrice/voicemode/internal/protocol"
	"github.com/thomasrice/voicemode/internal/session"
	"github.com/thomasrice/voicemode/internal/sound"
	"github.com/thomasrice/voicemode/internal/subst"
	"github.com/thomasrice/voicemode/internal/transcribe"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	health     []func() bool
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component and blocks until shutdown. Components are
// closed in reverse start order via the deferred calls, so an error partway
// through startup unwinds only what already started.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 10*time.Second)
	}

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		sc, done := shutdownCtx()
		defer done()
		if err := shutdownTelemetry(sc); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	broker, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded broker: %w", err)
	}
	defer broker.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect to event bus: %w", err)
	}
	defer busClient.Close()
	r.health = append(r.health, busClient.Healthy)

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			r.logger.Error("history store close error", slog.String("error", err.Error()))
		}
	}()

	historySvc := history.NewService(ctx, store, busClient, r.logger)
	if err := historySvc.Start(); err != nil {
		return fmt.Errorf("start history service: %w", err)
	}
	defer historySvc.Close()

	soundSvc := sound.NewService(r.cfg.Sound, busClient, r.logger)
	if err := soundSvc.Start(); err != nil {
		// A broken speaker should not keep dictation from working.
		r.logger.Warn("sound cues unavailable", slog.String("error", err.Error()))
	}
	defer soundSvc.Close()

	notifySvc := notify.NewService(ctx, r.cfg.Notify, busClient, r.logger)
	if err := notifySvc.Start(); err != nil {
		return fmt.Errorf("start notify service: %w", err)
	}
	defer notifySvc.Close()

	if err := audio.Initialize(); err != nil {
		return fmt.Errorf("initialize audio: %w", err)
	}
	defer audio.Terminate()
	capturer := audio.NewManager(r.cfg.Audio, r.logger)

	recognizer, err := transcribe.New(r.cfg.Transcriber, r.logger)
	if err != nil {
		return fmt.Errorf("configure transcriber: %w", err)
	}

	rules, err := loadRules(r.cfg.Rules, r.logger)
	if err != nil {
		return err
	}

	injector := paste.New(r.cfg.Paste, r.logger)
	events := &busPublisher{client: busClient, logger: r.logger}

	machine := session.NewMachine(ctx, r.cfg.Session, r.cfg.Transcriber.Model,
		capturer, recognizer, rules, injector, events, r.logger)
	if err := machine.Start(); err != nil {
		return fmt.Errorf("start session machine: %w", err)
	}
	defer machine.Close()
	r.health = append(r.health, machine.Healthy)

	// Device failures surface on the capture manager's channel; feed them
	// to the machine so it can abort the active session.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-capturer.Fatal():
				if !ok {
					return
				}
				machine.NotifyDeviceError(err)
			}
		}
	}()
	defer func() {
		cancel()
		r.wg.Wait()
	}()

	ctl := control.NewServer(ctx, r.cfg.Control.SocketPath(), machine, r.logger)
	if err := ctl.Start(); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	defer ctl.Close()
	r.health = append(r.health, ctl.Healthy)

	hk := hotkey.NewListener(ctx, r.cfg.Hotkey, r.cfg.Session.Mode, machine, r.logger)
	if err := hk.Start(); err != nil {
		// The control socket still drives sessions when no display or
		// hook permission is available.
		r.logger.Warn("global hotkey unavailable", slog.String("error", err.Error()))
	}
	defer hk.Close()

	if r.cfg.HTTP.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", r.handleHealth)
		mux.HandleFunc("/readyz", r.handleReady)
		if metricHandler != nil {
			mux.Handle("/metrics", metricHandler)
		}

		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("http server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			sc, done := shutdownCtx()
			defer done()
			if err := r.httpServer.Shutdown(sc); err != nil {
				r.logger.Error("http shutdown error", slog.String("error", err.Error()))
			}
		}()
		r.logger.Info("http endpoints listening", slog.String("addr", addr))
	}

	r.ready.Store(true)
	r.logger.Info("voicemode daemon started",
		slog.String("mode", r.cfg.Session.Mode),
		slog.String("socket", r.cfg.Control.SocketPath()))

	select {
	case <-ctx.Done():
		r.logger.Info("daemon stopping", slog.String("reason", "signal"))
	case <-machine.Done():
		r.logger.Info("daemon stopping", slog.String("reason", "shutdown command"))
	}
	r.ready.Store(false)
	return nil
}

// loadRules builds the substitution engine from the configured rules file,
// falling back to discovery in the config directory. No file at all is fine;
// a file that cannot be read is a startup error.
func loadRules(cfg config.RulesConfig, logger *slog.Logger) (*subst.Engine, error) {
	path := cfg.File
	if path == "" {
		discovered, ok := subst.Discover(config.Dir())
		if !ok {
			logger.Info("no substitution rules file found")
			return subst.Compile(nil)
		}
		path = discovered
	}
	rules, err := subst.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rules file %s: %w", path, err)
	}
	engine, err := subst.Compile(rules)
	if err != nil {
		return nil, fmt.Errorf("compile rules from %s: %w", path, err)
	}
	logger.Info("substitution rules loaded", slog.String("file", path), slog.Int("rules", len(rules)))
	return engine, nil
}

// busPublisher fans session events out to the NATS subscribers. Publish
// failures are logged and dropped; the session itself must not fail because
// a cue or notification could not be delivered.
type busPublisher struct {
	client *bus.Client
	logger *slog.Logger
}

func (p *busPublisher) SessionState(evt protocol.StateEvent) {
	if err := p.client.PublishJSON(protocol.SubjectSessionState, evt); err != nil {
		p.logger.Warn("failed to publish state event", slog.String("error", err.Error()))
	}
}

func (p *busPublisher) Transcript(evt protocol.TranscriptEvent) {
	if err := p.client.PublishJSON(protocol.SubjectTranscript, evt); err != nil {
		p.logger.Warn("failed to publish transcript event", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		for _, healthy := range r.health {
			if !healthy() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("degraded"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
