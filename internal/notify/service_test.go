package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/thomasrice/voicemode/internal/config"
	"github.com/thomasrice/voicemode/internal/protocol"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) send(_, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func newTestService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewService(context.Background(), config.NotifyConfig{Enabled: true}, nil, log)
	s.send = rec.send
	return s, rec
}

func stateMsg(t *testing.T, evt protocol.StateEvent) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &nats.Msg{Subject: protocol.SubjectSessionState, Data: data}
}

func TestStateMessages(t *testing.T) {
	tests := []struct {
		name string
		evt  protocol.StateEvent
		want string
	}{
		{"recording", protocol.StateEvent{State: protocol.StateRecording}, "Recording started"},
		{"transcribing", protocol.StateEvent{State: protocol.StateTranscribing}, "Recording stopped, transcribing"},
		{"no audio", protocol.StateEvent{State: protocol.StateIdle, Outcome: protocol.OutcomeNoAudio}, "No audio captured"},
		{"too short", protocol.StateEvent{State: protocol.StateIdle, Outcome: protocol.OutcomeTooShort}, "Recording too short, skipped"},
		{"empty", protocol.StateEvent{State: protocol.StateIdle, Outcome: protocol.OutcomeEmpty}, "Transcription came back empty"},
		{"error with detail", protocol.StateEvent{State: protocol.StateIdle, Outcome: protocol.OutcomeError, Error: "device gone"}, "Error: device gone"},
		{"transcribed is silent", protocol.StateEvent{State: protocol.StateIdle, Outcome: protocol.OutcomeTranscribed}, ""},
		{"stopped is silent", protocol.StateEvent{State: protocol.StateStopped, Outcome: protocol.OutcomeStopped}, ""},
	}
	for _, tt := range tests {
		if got := stateMessage(tt.evt); got != tt.want {
			t.Errorf("%s: message %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestHandleStateSendsNotification(t *testing.T) {
	s, rec := newTestService(t)
	s.handleState(stateMsg(t, protocol.StateEvent{State: protocol.StateRecording}))
	s.wg.Wait()

	if got := rec.got(); len(got) != 1 || got[0] != "Recording started" {
		t.Fatalf("notifications %v", got)
	}
}

func TestHandleTranscriptPreview(t *testing.T) {
	s, rec := newTestService(t)
	long := strings.Repeat("sesquipedalian ", 20)
	data, _ := json.Marshal(protocol.TranscriptEvent{SessionID: "s1", FinalText: long})
	s.handleTranscript(&nats.Msg{Subject: protocol.SubjectTranscript, Data: data})
	s.wg.Wait()

	got := rec.got()
	if len(got) != 1 {
		t.Fatalf("notifications %v", got)
	}
	if !strings.HasSuffix(got[0], "...") || len([]rune(got[0])) != 83 {
		t.Fatalf("preview %q not truncated to 80 runes", got[0])
	}
}

func TestHandleStateBadPayload(t *testing.T) {
	s, rec := newTestService(t)
	s.handleState(&nats.Msg{Data: []byte("not json")})
	s.wg.Wait()

	if got := rec.got(); len(got) != 0 {
		t.Fatalf("notifications %v, want none", got)
	}
}
