package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/thomasrice/voicemode/internal/bus"
	"github.com/thomasrice/voicemode/internal/protocol"
)

// Service records finished sessions from bus events into the store.
type Service struct {
	store  *Store
	bus    *bus.Client
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, store *Store, busClient *bus.Client, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		store:  store,
		bus:    busClient,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "history")),
	}
}

func (s *Service) Start() error {
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

func (s *Service) Healthy() bool { return len(s.subs) > 0 }

// handleState records terminal outcomes. A session that failed before it was
// assigned an ID carries no session_id and is skipped.
func (s *Service) handleState(msg *nats.Msg) {
	var evt protocol.StateEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		s.logger.Warn("failed to decode state event", slogError(err))
		return
	}
	if evt.SessionID == "" || evt.State != protocol.StateIdle || evt.Outcome == "" {
		return
	}
	s.record(Session{
		SessionID: evt.SessionID,
		Mode:      evt.Mode,
		Outcome:   evt.Outcome,
		CreatedAt: evt.Timestamp,
	})
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var evt protocol.TranscriptEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		s.logger.Warn("failed to decode transcript event", slogError(err))
		return
	}
	if evt.SessionID == "" {
		return
	}
	s.record(Session{
		SessionID:  evt.SessionID,
		Outcome:    protocol.OutcomeTranscribed,
		DurationMS: evt.DurationMS,
		Model:      evt.Model,
		RawText:    evt.RawText,
		FinalText:  evt.FinalText,
		CreatedAt:  evt.Timestamp,
	})
}

func (s *Service) record(sess Session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()

		if err := s.store.Record(ctx, sess); err != nil {
			s.logger.Warn("failed to record session",
				slog.String("session_id", sess.SessionID), slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
