package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/nats-io/nats.go"

	"github.com/thomasrice/voicemode/internal/bus"
	"github.com/thomasrice/voicemode/internal/config"
	"github.com/thomasrice/voicemode/internal/protocol"
)

const title = "VoiceMode"

// Service turns session events into desktop notifications.
type Service struct {
	cfg    config.NotifyConfig
	bus    *bus.Client
	subs   []*nats.Subscription
	send   func(title, message string) error
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.NotifyConfig, busClient *bus.Client, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg: cfg,
		bus: busClient,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "notify")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	stateSub, err := s.bus.Conn().Subscribe(protocol.SubjectSessionState, s.handleState)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, stateSub)

	transcriptSub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscript, s.handleTranscript)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, transcriptSub)
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

func (s *Service) handleState(msg *nats.Msg) {
	var evt protocol.StateEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		s.logger.Warn("failed to decode state event", slogError(err))
		return
	}
	if text := stateMessage(evt); text != "" {
		s.post(text)
	}
}

// stateMessage maps a state event to its notification text. The transcribed
// outcome is silent here; the transcript event carries the preview.
func stateMessage(evt protocol.StateEvent) string {
	switch evt.State {
	case protocol.StateRecording:
		return "Recording started"
	case protocol.StateTranscribing:
		return "Recording stopped, transcribing"
	case protocol.StateIdle:
		switch evt.Outcome {
		case protocol.OutcomeNoAudio:
			return "No audio captured"
		case protocol.OutcomeTooShort:
			return "Recording too short, skipped"
		case protocol.OutcomeEmpty:
			return "Transcription came back empty"
		case protocol.OutcomeError:
			if evt.Error != "" {
				return "Error: " + evt.Error
			}
			return "Session failed"
		}
	}
	return ""
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var evt protocol.TranscriptEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		s.logger.Warn("failed to decode transcript event", slogError(err))
		return
	}
	s.post(preview(evt.FinalText, 80))
}

func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

// post sends off the subscription callback so a slow desktop notifier
// cannot back up the bus. Posts racing shutdown are dropped.
func (s *Service) post(message string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.ctx.Err() != nil {
			return
		}
		if err := s.send(title, message); err != nil {
			s.logger.Warn("failed to send notification", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
