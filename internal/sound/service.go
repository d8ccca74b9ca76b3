// Package sound plays short audio cues when a dictation session starts and
// stops, so the user knows the microphone state without looking at a screen.
package sound

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/nats-io/nats.go"

	"github.com/thomasrice/voicemode/internal/bus"
	"github.com/thomasrice/voicemode/internal/config"
	"github.com/thomasrice/voicemode/internal/protocol"
)

// Service subscribes to session state events and plays the matching cue.
type Service struct {
	cfg    config.SoundConfig
	bus    *bus.Client
	sub    *nats.Subscription
	startC *beep.Buffer
	stopC  *beep.Buffer
	play   func(*beep.Buffer)
	logger *slog.Logger
}

// NewService creates the sound service. Call Start to initialize the speaker
// and begin listening for state events.
func NewService(cfg config.SoundConfig, busClient *bus.Client, log *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		play:   playBuffer,
		logger: log.With(slog.String("component", "sound")),
	}
}

func playBuffer(buf *beep.Buffer) {
	speaker.Play(buf.Streamer(0, buf.Len()))
}

// Start initializes the speaker, prepares both cues and subscribes to
// session state events. It is a no-op when sounds are disabled.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("sound cues disabled")
		return nil
	}

	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	s.startC = s.loadCue(s.cfg.StartFile, startToneHz)
	s.stopC = s.loadCue(s.cfg.StopFile, stopToneHz)

	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSessionState, s.handleState)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", protocol.SubjectSessionState, err)
	}
	s.sub = sub

	s.logger.Info("sound service started")
	return nil
}

// loadCue falls back to the synthesized tone when the configured file is
// missing or unreadable.
func (s *Service) loadCue(path string, freq float64) *beep.Buffer {
	if path == "" {
		return toneBuffer(freq)
	}
	buf, err := fileBuffer(path)
	if err != nil {
		s.logger.Warn("falling back to synthesized cue",
			slog.String("file", path),
			slogError(err))
		return toneBuffer(freq)
	}
	return buf
}

// Close drains the subscription and stops any cue still playing.
func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
		s.sub = nil
		speaker.Clear()
	}
	s.logger.Info("sound service stopped")
}

// Healthy reports whether the service is operational.
func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

func (s *Service) handleState(msg *nats.Msg) {
	var evt protocol.StateEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		s.logger.Warn("failed to decode state event", slogError(err))
		return
	}
	if buf := s.cueFor(evt); buf != nil {
		s.play(buf)
	}
}

// cueFor picks the cue for a state event: the start tone when recording
// begins, the stop tone when it ends, whether into transcription or straight
// back to idle because the clip produced nothing usable.
func (s *Service) cueFor(evt protocol.StateEvent) *beep.Buffer {
	switch evt.State {
	case protocol.StateRecording:
		return s.startC
	case protocol.StateTranscribing:
		return s.stopC
	case protocol.StateIdle:
		if evt.Outcome == protocol.OutcomeNoAudio || evt.Outcome == protocol.OutcomeTooShort {
			return s.stopC
		}
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
