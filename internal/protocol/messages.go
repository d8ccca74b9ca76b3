package protocol

import "time"

// Control-plane commands accepted on the daemon socket.
const (
	CmdPing     = "ping"
	CmdStatus   = "status"
	CmdToggle   = "toggle"
	CmdStart    = "start"
	CmdStop     = "stop"
	CmdShutdown = "shutdown"
)

// Session states reported by the daemon.
const (
	StateIdle         = "idle"
	StateRecording    = "recording"
	StateTranscribing = "transcribing"
	StateStopped      = "stopped"
)

// Outcomes of a control command or a finished session.
const (
	OutcomeStarted     = "started"
	OutcomeAlready     = "already"
	OutcomeBusy        = "busy"
	OutcomeNotActive   = "not_active"
	OutcomeNoAudio     = "no_audio"
	OutcomeTooShort    = "too_short"
	OutcomeTranscribed = "transcribed"
	OutcomeEmpty       = "empty"
	OutcomeError       = "error"
	OutcomeStopped     = "stopped"
)

// Request is one control-plane command, sent as a single JSON line.
type Request struct {
	Cmd string `json:"cmd"`
}

// Response is the single JSON line answered for a Request.
type Response struct {
	OK           bool   `json:"ok"`
	Status       string `json:"status,omitempty"`
	Result       string `json:"result,omitempty"`
	SessionAgeMS int64  `json:"session_age_ms,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Bus subjects for daemon events.
const (
	SubjectSessionState = "session.state"
	SubjectTranscript   = "session.transcript"
)

// StateEvent announces a session state change on the bus.
type StateEvent struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Mode      string    `json:"mode,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptEvent carries the final text of a completed session.
type TranscriptEvent struct {
	SessionID  string    `json:"session_id"`
	RawText    string    `json:"raw_text"`
	FinalText  string    `json:"final_text"`
	DurationMS int64     `json:"duration_ms"`
	Model      string    `json:"model,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
