package audio

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/thomasrice/voicemode/internal/config"
)

// seqSource fills stream buffers from one monotonically increasing sequence
// so tests can assert the captured clip has no gaps or duplicates even when
// the stream was torn down and reopened mid-capture.
type seqSource struct {
	mu   sync.Mutex
	next int16
}

func (s *seqSource) fill(buf []int16) {
	s.mu.Lock()
	for i := range buf {
		s.next++
		buf[i] = s.next
	}
	s.mu.Unlock()
}

type fakeStream struct {
	src      *seqSource
	buf      []int16
	scripts  chan error
	release  chan struct{}
	startErr error
}

func (f *fakeStream) Start() error { return f.startErr }
func (f *fakeStream) Stop() error  { return nil }
func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) Read() error {
	select {
	case err := <-f.scripts:
		if err == nil || errors.Is(err, portaudio.InputOverflowed) {
			f.src.fill(f.buf)
		}
		return err
	case <-f.release:
		f.src.fill(f.buf)
		return nil
	}
}

type fakeOpener struct {
	src       *seqSource
	mu        sync.Mutex
	opens     int
	streams   []*fakeStream
	failOpen  map[int]error
	failStart map[int]error
}

func (o *fakeOpener) open(_, _, _, _ int, buf []int16) (captureStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if err := o.failOpen[o.opens]; err != nil {
		return nil, err
	}
	s := &fakeStream{
		src:      o.src,
		buf:      buf,
		scripts:  make(chan error, 64),
		release:  make(chan struct{}),
		startErr: o.failStart[o.opens],
	}
	o.streams = append(o.streams, s)
	return s, nil
}

func (o *fakeOpener) waitStream(t *testing.T, idx int) *fakeStream {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		if len(o.streams) > idx {
			s := o.streams[idx]
			o.mu.Unlock()
			return s
		}
		o.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("stream %d never opened", idx)
	return nil
}

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{
		DeviceIndex:            -1,
		SampleRate:             16000,
		Channels:               1,
		FramesPerBuffer:        4,
		ReopenMaxAttempts:      3,
		ReopenInitialBackoffMS: 1,
		ReopenMaxBackoffMS:     2,
	}
}

func testManager(t *testing.T, op *fakeOpener) *Manager {
	t.Helper()
	m := NewManager(testAudioConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.open = op.open
	return m
}

func waitSamples(t *testing.T, m *Manager, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		have := len(m.buf)
		m.mu.Unlock()
		if have >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d samples", n)
}

func assertMonotone(t *testing.T, samples []int16) {
	t.Helper()
	for i, s := range samples {
		if s != int16(i+1) {
			t.Fatalf("sample %d = %d, want %d (gap or duplicate in capture)", i, s, i+1)
		}
	}
}

func TestCaptureSurvivesReopen(t *testing.T) {
	op := &fakeOpener{src: &seqSource{}}
	m := testManager(t, op)

	if err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	first := op.waitStream(t, 0)
	first.scripts <- nil
	first.scripts <- nil
	waitSamples(t, m, 8)

	first.scripts <- errors.New("device yanked")
	second := op.waitStream(t, 1)
	second.scripts <- nil
	waitSamples(t, m, 12)

	close(second.release)
	clip := m.End()
	if len(clip.Samples) < 12 {
		t.Fatalf("clip has %d samples, want at least 12", len(clip.Samples))
	}
	assertMonotone(t, clip.Samples)
	if clip.SampleRate != 16000 || clip.Channels != 1 {
		t.Fatalf("clip format %d/%d, want 16000/1", clip.SampleRate, clip.Channels)
	}
}

func TestCaptureReopenExhaustedDeliversFatal(t *testing.T) {
	op := &fakeOpener{src: &seqSource{}}
	op.failOpen = map[int]error{
		2: errors.New("still gone"),
		3: errors.New("still gone"),
		4: errors.New("still gone"),
	}
	m := testManager(t, op)

	if err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	first := op.waitStream(t, 0)
	first.scripts <- nil
	waitSamples(t, m, 4)
	first.scripts <- errors.New("device yanked")

	select {
	case err := <-m.Fatal():
		var de *DeviceError
		if !errors.As(err, &de) {
			t.Fatalf("fatal error %T, want *DeviceError", err)
		}
		if de.Op != "reopen" {
			t.Fatalf("fatal op %q, want reopen", de.Op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error after reopen budget exhausted")
	}

	clip := m.End()
	if !clip.Empty() {
		t.Fatalf("clip after fatal has %d samples, want none", len(clip.Samples))
	}
}

func TestBeginOpenFailure(t *testing.T) {
	op := &fakeOpener{src: &seqSource{}, failOpen: map[int]error{1: errors.New("no such device")}}
	m := testManager(t, op)

	err := m.Begin()
	var de *DeviceError
	if !errors.As(err, &de) || de.Op != "open" {
		t.Fatalf("Begin error %v, want DeviceError op=open", err)
	}
}

func TestBeginStartFailure(t *testing.T) {
	op := &fakeOpener{src: &seqSource{}, failStart: map[int]error{1: errors.New("stream refused")}}
	m := testManager(t, op)

	err := m.Begin()
	var de *DeviceError
	if !errors.As(err, &de) || de.Op != "start" {
		t.Fatalf("Begin error %v, want DeviceError op=start", err)
	}
}

func TestBeginWhileActive(t *testing.T) {
	op := &fakeOpener{src: &seqSource{}}
	m := testManager(t, op)

	if err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := m.Begin(); err == nil {
		t.Fatal("second Begin succeeded, want error")
	}
	close(op.waitStream(t, 0).release)
	m.Abort()
}

func TestCaptureOverflowKeepsData(t *testing.T) {
	op := &fakeOpener{src: &seqSource{}}
	m := testManager(t, op)

	if err := m.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	first := op.waitStream(t, 0)
	first.scripts <- nil
	first.scripts <- portaudio.InputOverflowed
	first.scripts <- nil
	waitSamples(t, m, 12)

	close(first.release)
	clip := m.End()
	if len(clip.Samples) < 12 {
		t.Fatalf("clip has %d samples, want at least 12", len(clip.Samples))
	}
	assertMonotone(t, clip.Samples)

	op.mu.Lock()
	opens := op.opens
	op.mu.Unlock()
	if opens != 1 {
		t.Fatalf("overflow caused %d opens, want 1", opens)
	}
}

func TestEndWithoutCapture(t *testing.T) {
	m := testManager(t, &fakeOpener{src: &seqSource{}})
	clip := m.End()
	if !clip.Empty() {
		t.Fatalf("idle End returned %d samples", len(clip.Samples))
	}
	if clip.SampleRate != 16000 {
		t.Fatalf("idle End sample rate %d, want 16000", clip.SampleRate)
	}
}
