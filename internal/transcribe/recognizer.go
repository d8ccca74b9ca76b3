package transcribe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thomasrice/voicemode/internal/audio"
	"github.com/thomasrice/voicemode/internal/config"
)

// Result captures recognizer output for one clip.
type Result struct {
	Text string
}

// Recognizer abstracts transcription backends. Transcribe sends the whole
// clip in one request and blocks until text or a terminal error comes back.
type Recognizer interface {
	Transcribe(ctx context.Context, clip audio.Clip) (Result, error)
}

// New selects the backend named by cfg.Mode.
func New(cfg config.TranscriberConfig, log *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "openai", "":
		return newOpenAIRecognizer(cfg, log)
	case "exec":
		return newExecRecognizer(cfg)
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown transcriber mode %q", cfg.Mode)
	}
}
