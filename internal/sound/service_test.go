package sound

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/nats-io/nats.go"

	"github.com/thomasrice/voicemode/internal/audio"
	"github.com/thomasrice/voicemode/internal/config"
	"github.com/thomasrice/voicemode/internal/protocol"
)

func newTestService() (*Service, *[]*beep.Buffer) {
	played := &[]*beep.Buffer{}
	s := &Service{
		cfg:    config.SoundConfig{Enabled: true},
		startC: toneBuffer(startToneHz),
		stopC:  toneBuffer(stopToneHz),
		play:   func(buf *beep.Buffer) { *played = append(*played, buf) },
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return s, played
}

func TestSineToneShape(t *testing.T) {
	const freq = 1000.0
	const amp = 0.25
	streamer := sineTone(sampleRate, freq, amp)

	samples := make([][2]float64, sampleRate.N(100*time.Millisecond))
	n, ok := streamer.Stream(samples)
	if !ok || n != len(samples) {
		t.Fatalf("Stream() = %d, %v, want %d, true", n, ok, len(samples))
	}

	if samples[0][0] != 0 {
		t.Errorf("first sample = %f, want 0 (sine starts at phase zero)", samples[0][0])
	}

	peak := 0.0
	for _, s := range samples {
		if s[0] != s[1] {
			t.Fatalf("channels differ: %f != %f", s[0], s[1])
		}
		if v := math.Abs(s[0]); v > peak {
			peak = v
		}
	}
	if peak > amp+1e-9 {
		t.Errorf("peak amplitude %f exceeds %f", peak, amp)
	}
	if peak < amp*0.98 {
		t.Errorf("peak amplitude %f never reaches %f", peak, amp)
	}

	// A 1 kHz tone crosses zero twice per cycle, so 100 ms holds ~200
	// sign changes.
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1][0] >= 0) != (samples[i][0] >= 0) {
			crossings++
		}
	}
	if crossings < 195 || crossings > 205 {
		t.Errorf("zero crossings = %d, want ~200", crossings)
	}
}

func TestToneBufferLength(t *testing.T) {
	buf := toneBuffer(startToneHz)
	want := sampleRate.N(toneDuration)
	if buf.Len() != want {
		t.Errorf("buffer length = %d samples, want %d", buf.Len(), want)
	}
}

func TestFileBufferResamples(t *testing.T) {
	clip := audio.Clip{SampleRate: 16000, Channels: 1}
	clip.Samples = make([]int16, 16000/10)
	for i := range clip.Samples {
		clip.Samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	data, err := audio.EncodeWAV(clip)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "cue.wav")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write cue: %v", err)
	}

	buf, err := fileBuffer(path)
	if err != nil {
		t.Fatalf("fileBuffer() error = %v", err)
	}

	// 100 ms at 16 kHz resampled to 44.1 kHz is ~4410 samples. The
	// resampler may trim a frame or two at either end.
	want := sampleRate.N(100 * time.Millisecond)
	if buf.Len() < want*95/100 || buf.Len() > want*105/100 {
		t.Errorf("resampled length = %d samples, want ~%d", buf.Len(), want)
	}
}

func TestFileBufferMissing(t *testing.T) {
	if _, err := fileBuffer(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Fatal("fileBuffer() on a missing file should fail")
	}
}

func TestLoadCueFallsBack(t *testing.T) {
	s, _ := newTestService()
	buf := s.loadCue(filepath.Join(t.TempDir(), "nope.wav"), stopToneHz)
	if buf == nil {
		t.Fatal("loadCue() returned nil")
	}
	if buf.Len() != sampleRate.N(toneDuration) {
		t.Errorf("fallback cue length = %d, want synthesized tone", buf.Len())
	}
}

func TestCueSelection(t *testing.T) {
	s, _ := newTestService()
	tests := []struct {
		name string
		evt  protocol.StateEvent
		want *beep.Buffer
	}{
		{"recording plays start", protocol.StateEvent{State: protocol.StateRecording}, s.startC},
		{"transcribing plays stop", protocol.StateEvent{State: protocol.StateTranscribing}, s.stopC},
		{"no audio plays stop", protocol.StateEvent{State: protocol.StateIdle, Outcome: protocol.OutcomeNoAudio}, s.stopC},
		{"too short plays stop", protocol.StateEvent{State: protocol.StateIdle, Outcome: protocol.OutcomeTooShort}, s.stopC},
		{"transcribed is silent", protocol.StateEvent{State: protocol.StateIdle, Outcome: protocol.OutcomeTranscribed}, nil},
		{"error is silent", protocol.StateEvent{State: protocol.StateIdle, Outcome: protocol.OutcomeError}, nil},
		{"stopped is silent", protocol.StateEvent{State: protocol.StateStopped, Outcome: protocol.OutcomeStopped}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.cueFor(tt.evt); got != tt.want {
				t.Errorf("cueFor(%+v) picked the wrong cue", tt.evt)
			}
		})
	}
}

func TestHandleStatePlaysCue(t *testing.T) {
	s, played := newTestService()

	data, err := json.Marshal(protocol.StateEvent{SessionID: "s1", State: protocol.StateRecording})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	s.handleState(&nats.Msg{Subject: protocol.SubjectSessionState, Data: data})

	if len(*played) != 1 || (*played)[0] != s.startC {
		t.Fatalf("played %d cues, want the start cue once", len(*played))
	}
}

func TestHandleStateBadPayload(t *testing.T) {
	s, played := newTestService()
	s.handleState(&nats.Msg{Subject: protocol.SubjectSessionState, Data: []byte("not json")})
	if len(*played) != 0 {
		t.Fatalf("played %d cues for a malformed event, want none", len(*played))
	}
}
