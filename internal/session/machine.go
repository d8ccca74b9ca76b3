package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/thomasrice/voicemode/internal/audio"
	"github.com/thomasrice/voicemode/internal/config"
	"github.com/thomasrice/voicemode/internal/protocol"
	"github.com/thomasrice/voicemode/internal/subst"
	"github.com/thomasrice/voicemode/internal/transcribe"
)

// Capturer is the slice of the audio manager the machine drives.
type Capturer interface {
	Begin() error
	End() audio.Clip
	Abort()
}

// Injector receives final text for delivery to the focused application.
type Injector interface {
	Inject(ctx context.Context, text string) error
}

// Events receives session notifications for fan-out to collaborators.
type Events interface {
	SessionState(protocol.StateEvent)
	Transcript(protocol.TranscriptEvent)
}

type inboundKind int

const (
	inToggle inboundKind = iota
	inStart
	inStop
	inStatus
	inShutdown
	inTranscribed
	inDeviceFatal
	inDeadline
)

type inbound struct {
	kind   inboundKind
	reply  chan protocol.Response
	epoch  uint64
	result transcribe.Result
	err    error
}

// Machine is the session authority. One goroutine owns all session state;
// hotkey presses, control-plane commands, device failures, and transcription
// completions arrive as messages on a single channel and are handled strictly
// in arrival order. Everything else talks to the machine through the post
// methods, never by touching fields.
type Machine struct {
	cfg        config.SessionConfig
	model      string
	capturer   Capturer
	recognizer transcribe.Recognizer
	rules      *subst.Engine
	injector   Injector
	events     Events
	log        *slog.Logger

	in   chan inbound
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	clock func() time.Time

	// owned by the run loop
	state            string
	epoch            uint64
	sessionID        string
	startedAt        time.Time
	clipDurationMS   int64
	deadline         *time.Timer
	cancelTranscribe context.CancelFunc
	pendingReply     chan protocol.Response
	span             trace.Span

	outcomes metric.Int64Counter
	tracer   trace.Tracer

	// mirrors state for the metrics callback, which runs on the
	// collector's goroutine
	stateCode atomic.Int64
}

func NewMachine(parent context.Context, cfg config.SessionConfig, model string, capturer Capturer, recognizer transcribe.Recognizer, rules *subst.Engine, injector Injector, events Events, log *slog.Logger) *Machine {
	ctx, cancel := context.WithCancel(parent)
	m := &Machine{
		cfg:        cfg,
		model:      model,
		capturer:   capturer,
		recognizer: recognizer,
		rules:      rules,
		injector:   injector,
		events:     events,
		log:        log.With(slog.String("component", "session")),
		in:         make(chan inbound, 32),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		clock:      time.Now,
		state:      protocol.StateIdle,
	}
	meter := otel.Meter("github.com/thomasrice/voicemode/session")
	if counter, err := meter.Int64Counter("voicemode.sessions.completed",
		metric.WithDescription("Completed dictation sessions by outcome")); err == nil {
		m.outcomes = counter
	}
	if gauge, err := meter.Int64ObservableGauge("voicemode.session.state",
		metric.WithDescription("Current session state (0 idle, 1 recording, 2 transcribing, 3 stopped)")); err == nil {
		_, _ = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
			obs.ObserveInt64(gauge, m.stateCode.Load())
			return nil
		}, gauge)
	}
	m.tracer = otel.Tracer("github.com/thomasrice/voicemode/session")
	return m
}

func (m *Machine) Start() error {
	go m.run()
	return nil
}

// Close drives the machine through shutdown and waits for the run loop and
// any in-flight transcription goroutine to finish. Safe to call twice.
func (m *Machine) Close() {
	m.post(inbound{kind: inShutdown})
	<-m.done
	m.cancel()
	m.wg.Wait()
}

func (m *Machine) Healthy() bool {
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Done is closed once the machine has processed a shutdown command.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Toggle flips Idle to Recording or finishes an active recording. The reply
// channel may be nil for fire-and-forget callers like the hotkey listener;
// when set, it receives the final outcome of the command (for a stop this is
// the transcription outcome, delivered once it completes).
func (m *Machine) Toggle(reply chan protocol.Response) {
	m.post(inbound{kind: inToggle, reply: reply})
}

func (m *Machine) StartRecording(reply chan protocol.Response) {
	m.post(inbound{kind: inStart, reply: reply})
}

func (m *Machine) StopRecording(reply chan protocol.Response) {
	m.post(inbound{kind: inStop, reply: reply})
}

func (m *Machine) Status(reply chan protocol.Response) {
	m.post(inbound{kind: inStatus, reply: reply})
}

func (m *Machine) Shutdown(reply chan protocol.Response) {
	m.post(inbound{kind: inShutdown, reply: reply})
}

// NotifyDeviceError reports a fatal capture failure (reopen budget exhausted).
func (m *Machine) NotifyDeviceError(err error) {
	m.post(inbound{kind: inDeviceFatal, err: err})
}

func (m *Machine) post(ev inbound) {
	select {
	case m.in <- ev:
	case <-m.done:
	}
}

func (m *Machine) run() {
	defer close(m.done)
	for ev := range m.in {
		if m.handle(ev) {
			return
		}
	}
}

func (m *Machine) handle(ev inbound) bool {
	switch ev.kind {
	case inToggle:
		switch m.state {
		case protocol.StateIdle:
			m.startSession(ev.reply)
		case protocol.StateRecording:
			m.finishSession(ev.reply)
		default:
			m.replyOutcome(ev.reply, protocol.OutcomeBusy)
		}
	case inStart:
		switch m.state {
		case protocol.StateIdle:
			m.startSession(ev.reply)
		case protocol.StateRecording:
			// key-repeat while held down
			m.replyOutcome(ev.reply, protocol.OutcomeAlready)
		default:
			m.replyOutcome(ev.reply, protocol.OutcomeBusy)
		}
	case inStop:
		switch m.state {
		case protocol.StateRecording:
			m.finishSession(ev.reply)
		case protocol.StateIdle:
			// duplicate or out-of-order release
			m.replyOutcome(ev.reply, protocol.OutcomeNotActive)
		default:
			m.replyOutcome(ev.reply, protocol.OutcomeBusy)
		}
	case inStatus:
		m.reply(ev.reply, protocol.Response{OK: true, Status: m.state, SessionAgeMS: m.sessionAge()})
	case inShutdown:
		m.shutdown(ev.reply)
		return true
	case inTranscribed:
		m.completeSession(ev)
	case inDeviceFatal:
		m.deviceFailed(ev.err)
	case inDeadline:
		if m.state == protocol.StateRecording && ev.epoch == m.epoch {
			m.log.Warn("max session duration reached, forcing stop",
				slog.String("session_id", m.sessionID))
			m.finishSession(nil)
		}
	}
	return false
}

func (m *Machine) startSession(reply chan protocol.Response) {
	if err := m.capturer.Begin(); err != nil {
		m.log.Error("failed to start capture", slogError(err))
		m.emitState(protocol.StateIdle, protocol.OutcomeError, err.Error())
		m.reply(reply, protocol.Response{OK: false, Status: m.state, Result: protocol.OutcomeError, Error: err.Error()})
		return
	}
	m.epoch++
	m.sessionID = uuid.NewString()
	m.startedAt = m.clock()
	m.setState(protocol.StateRecording)
	_, m.span = m.tracer.Start(m.ctx, "dictation.session",
		trace.WithAttributes(
			attribute.String("session_id", m.sessionID),
			attribute.String("mode", m.cfg.Mode)))
	m.armDeadline()
	m.log.Info("recording started",
		slog.String("session_id", m.sessionID),
		slog.String("mode", m.cfg.Mode))
	m.emitState(protocol.StateRecording, protocol.OutcomeStarted, "")
	m.reply(reply, protocol.Response{OK: true, Status: m.state, Result: protocol.OutcomeStarted})
}

func (m *Machine) finishSession(reply chan protocol.Response) {
	m.disarmDeadline()
	clip := m.capturer.End()
	m.clipDurationMS = clip.Duration().Milliseconds()

	if clip.Empty() {
		m.log.Warn("no audio captured", slog.String("session_id", m.sessionID))
		m.endSession(reply, protocol.OutcomeNoAudio, "")
		return
	}
	if minDur := time.Duration(m.cfg.MinDurationMS) * time.Millisecond; clip.Duration() < minDur {
		m.log.Info("capture below minimum duration, skipping transcription",
			slog.String("session_id", m.sessionID),
			slog.Duration("duration", clip.Duration()))
		m.endSession(reply, protocol.OutcomeTooShort, "")
		return
	}

	m.setState(protocol.StateTranscribing)
	m.pendingReply = reply
	m.emitState(protocol.StateTranscribing, "", "")
	m.dispatchTranscribe(clip)
}

// dispatchTranscribe runs the network call off the authority goroutine so
// commands stay responsive while it is in flight. The completion comes back
// as a message tagged with the session epoch; a result from a dead session
// is dropped.
func (m *Machine) dispatchTranscribe(clip audio.Clip) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelTranscribe = cancel
	epoch := m.epoch
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		res, err := m.recognizer.Transcribe(ctx, clip)
		m.post(inbound{kind: inTranscribed, epoch: epoch, result: res, err: err})
	}()
}

func (m *Machine) completeSession(ev inbound) {
	if m.state != protocol.StateTranscribing || ev.epoch != m.epoch {
		m.log.Debug("dropping stale transcription result", slog.Uint64("epoch", ev.epoch))
		return
	}
	m.cancelTranscribe = nil
	reply := m.pendingReply
	m.pendingReply = nil

	if ev.err != nil {
		m.log.Error("transcription failed",
			slog.String("session_id", m.sessionID),
			slogError(ev.err))
		m.endSession(reply, protocol.OutcomeError, ev.err.Error())
		return
	}

	raw := strings.TrimSpace(ev.result.Text)
	if raw == "" {
		m.log.Info("empty transcription", slog.String("session_id", m.sessionID))
		m.endSession(reply, protocol.OutcomeEmpty, "")
		return
	}

	final := m.rules.Apply(raw)
	if err := m.injector.Inject(m.ctx, final); err != nil {
		m.log.Error("failed to deliver text", slogError(err))
		m.endSession(reply, protocol.OutcomeError, err.Error())
		return
	}

	if m.events != nil {
		m.events.Transcript(protocol.TranscriptEvent{
			SessionID:  m.sessionID,
			RawText:    raw,
			FinalText:  final,
			DurationMS: m.clipDurationMS,
			Model:      m.model,
			Timestamp:  m.clock().UTC(),
		})
	}
	m.log.Info("transcription delivered",
		slog.String("session_id", m.sessionID),
		slog.Int("chars", len(final)))
	m.endSession(reply, protocol.OutcomeTranscribed, "")
}

func (m *Machine) deviceFailed(err error) {
	if m.state != protocol.StateRecording {
		m.log.Warn("audio device error outside recording", slogError(err))
		return
	}
	m.log.Error("audio device lost, abandoning session",
		slog.String("session_id", m.sessionID),
		slogError(err))
	m.disarmDeadline()
	m.capturer.Abort()
	m.endSession(nil, protocol.OutcomeError, err.Error())
}

// endSession reports the outcome, answers whoever is waiting, and returns
// the machine to Idle.
func (m *Machine) endSession(reply chan protocol.Response, outcome, errText string) {
	m.setState(protocol.StateIdle)
	m.emitState(protocol.StateIdle, outcome, errText)
	m.countOutcome(outcome)
	m.endSpan(outcome)
	m.reply(reply, protocol.Response{OK: true, Status: m.state, Result: outcome, Error: errText})
	m.sessionID = ""
	m.startedAt = time.Time{}
	m.clipDurationMS = 0
}

func (m *Machine) shutdown(reply chan protocol.Response) {
	m.log.Info("session authority shutting down", slog.String("state", m.state))
	m.disarmDeadline()
	if m.cancelTranscribe != nil {
		m.cancelTranscribe()
		m.cancelTranscribe = nil
	}
	if m.state == protocol.StateRecording {
		m.capturer.Abort()
	}
	if m.pendingReply != nil {
		m.reply(m.pendingReply, protocol.Response{OK: false, Status: protocol.StateStopped, Error: "shutting down"})
		m.pendingReply = nil
	}
	m.setState(protocol.StateStopped)
	m.endSpan(protocol.OutcomeStopped)
	m.emitState(protocol.StateStopped, protocol.OutcomeStopped, "")
	m.reply(reply, protocol.Response{OK: true, Status: protocol.StateStopped, Result: protocol.OutcomeStopped})
	m.cancel()
}

func (m *Machine) armDeadline() {
	if m.cfg.MaxDurationS <= 0 {
		return
	}
	epoch := m.epoch
	m.deadline = time.AfterFunc(time.Duration(m.cfg.MaxDurationS)*time.Second, func() {
		m.post(inbound{kind: inDeadline, epoch: epoch})
	})
}

func (m *Machine) disarmDeadline() {
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
}

func (m *Machine) sessionAge() int64 {
	if m.startedAt.IsZero() {
		return 0
	}
	return m.clock().Sub(m.startedAt).Milliseconds()
}

func (m *Machine) emitState(state, outcome, errText string) {
	if m.events == nil {
		return
	}
	m.events.SessionState(protocol.StateEvent{
		SessionID: m.sessionID,
		State:     state,
		Mode:      m.cfg.Mode,
		Outcome:   outcome,
		Error:     errText,
		Timestamp: m.clock().UTC(),
	})
}

func (m *Machine) setState(state string) {
	m.state = state
	m.stateCode.Store(stateCode(state))
}

func stateCode(state string) int64 {
	switch state {
	case protocol.StateRecording:
		return 1
	case protocol.StateTranscribing:
		return 2
	case protocol.StateStopped:
		return 3
	default:
		return 0
	}
}

func (m *Machine) endSpan(outcome string) {
	if m.span == nil {
		return
	}
	m.span.SetAttributes(attribute.String("outcome", outcome))
	m.span.End()
	m.span = nil
}

func (m *Machine) countOutcome(outcome string) {
	if m.outcomes == nil {
		return
	}
	m.outcomes.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Machine) reply(ch chan protocol.Response, resp protocol.Response) {
	if ch == nil {
		return
	}
	select {
	case ch <- resp:
	default:
		m.log.Warn("dropping command reply, caller gone")
	}
}

func (m *Machine) replyOutcome(ch chan protocol.Response, outcome string) {
	m.reply(ch, protocol.Response{OK: true, Status: m.state, Result: outcome})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
