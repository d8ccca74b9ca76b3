package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/thomasrice/voicemode/internal/audio"
)

type mockRecognizer struct{}

// NewMockRecognizer returns a backend that fabricates text from the clip
// shape. Useful for exercising the full pipeline without a service.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, clip audio.Clip) (Result, error) {
	return Result{
		Text: fmt.Sprintf("[mock transcript duration=%s]", clip.Duration().Round(time.Millisecond)),
	}, nil
}
