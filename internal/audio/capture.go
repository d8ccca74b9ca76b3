package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gordonklaus/portaudio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/thomasrice/voicemode/internal/config"
)

// captureStream is the slice of a portaudio stream the manager drives.
// Kept narrow so the reopen policy is testable without a device.
type captureStream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

type opener func(deviceIndex, sampleRate, channels, framesPerBuffer int, buf []int16) (captureStream, error)

// Manager owns the capture device handle. One capture at a time: Begin opens
// the stream and appends frames to a fresh buffer until End freezes it.
// Transient read errors trigger a bounded reopen with backoff that keeps
// appending to the same buffer; exhausting the bound emits a fatal
// DeviceError on Fatal() and abandons the capture.
type Manager struct {
	cfg  config.AudioConfig
	log  *slog.Logger
	open opener

	mu        sync.Mutex
	buf       []int16
	capturing bool
	stopLoop  chan struct{}
	loopDone  chan struct{}

	fatal   chan error
	reopens metric.Int64Counter
}

func NewManager(cfg config.AudioConfig, log *slog.Logger) *Manager {
	m := &Manager{
		cfg:   cfg,
		log:   log.With(slog.String("component", "audio")),
		open:  openInputStream,
		fatal: make(chan error, 1),
	}
	meter := otel.Meter("github.com/thomasrice/voicemode/audio")
	if counter, err := meter.Int64Counter("voicemode.audio.reopens",
		metric.WithDescription("Capture stream reopen attempts")); err == nil {
		m.reopens = counter
	}
	return m
}

// Fatal delivers device errors that ended a capture from the inside.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Begin opens the input stream and starts appending frames to a new buffer.
func (m *Manager) Begin() error {
	m.mu.Lock()
	if m.capturing {
		m.mu.Unlock()
		return errors.New("capture already active")
	}
	m.mu.Unlock()

	in := make([]int16, m.cfg.FramesPerBuffer*m.cfg.Channels)
	stream, err := m.open(m.cfg.DeviceIndex, m.cfg.SampleRate, m.cfg.Channels, m.cfg.FramesPerBuffer, in)
	if err != nil {
		return &DeviceError{Op: "open", Err: err}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return &DeviceError{Op: "start", Err: err}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.mu.Lock()
	m.buf = nil
	m.capturing = true
	m.stopLoop = stop
	m.loopDone = done
	m.mu.Unlock()

	go m.captureLoop(stream, in, stop, done)
	return nil
}

// End freezes and returns the captured buffer. Nothing is appended after the
// capturing flag drops, and nothing already buffered is lost. Safe to call
// when no capture is active.
func (m *Manager) End() Clip {
	m.mu.Lock()
	if !m.capturing {
		m.mu.Unlock()
		return Clip{SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}
	}
	m.capturing = false
	samples := m.buf
	m.buf = nil
	stop := m.stopLoop
	done := m.loopDone
	m.mu.Unlock()

	close(stop)
	<-done
	return Clip{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}
}

// Abort discards any active capture.
func (m *Manager) Abort() {
	_ = m.End()
}

func (m *Manager) captureLoop(stream captureStream, in []int16, stop, done chan struct{}) {
	defer close(done)

	bo := m.newBackOff()
	attempts := 0
	for {
		select {
		case <-stop:
			closeStream(stream)
			return
		default:
		}

		err := stream.Read()
		if err == nil || errors.Is(err, portaudio.InputOverflowed) {
			// Overflow drops device-side frames but what was read is intact.
			attempts = 0
			bo.Reset()
			m.append(in)
			continue
		}

		closeStream(stream)
		stream = nil

		reopened := false
		for attempts < m.cfg.ReopenMaxAttempts {
			attempts++
			wait := bo.NextBackOff()
			m.log.Warn("capture stream error, reopening",
				slog.Int("attempt", attempts),
				slog.Duration("backoff", wait),
				slogError(err))
			if m.reopens != nil {
				m.reopens.Add(context.Background(), 1)
			}

			select {
			case <-stop:
				return
			case <-time.After(wait):
			}

			next, openErr := m.open(m.cfg.DeviceIndex, m.cfg.SampleRate, m.cfg.Channels, m.cfg.FramesPerBuffer, in)
			if openErr != nil {
				err = openErr
				continue
			}
			if startErr := next.Start(); startErr != nil {
				_ = next.Close()
				err = startErr
				continue
			}
			stream = next
			reopened = true
			break
		}

		if !reopened {
			m.failCapture(&DeviceError{Op: "reopen", Err: err})
			return
		}
	}
}

func (m *Manager) append(in []int16) {
	m.mu.Lock()
	if m.capturing {
		m.buf = append(m.buf, in...)
	}
	m.mu.Unlock()
}

func (m *Manager) failCapture(err error) {
	m.mu.Lock()
	m.capturing = false
	m.buf = nil
	m.mu.Unlock()

	m.log.Error("capture abandoned", slogError(err))
	select {
	case m.fatal <- err:
	default:
	}
}

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(m.cfg.ReopenInitialBackoffMS) * time.Millisecond
	bo.MaxInterval = time.Duration(m.cfg.ReopenMaxBackoffMS) * time.Millisecond
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2
	bo.Reset()
	return bo
}

func closeStream(stream captureStream) {
	if stream == nil {
		return
	}
	_ = stream.Stop()
	_ = stream.Close()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
