package audio

import (
	"fmt"
	"time"
)

// Clip is the frozen result of one capture: 16-bit PCM samples in
// interleaved channel order.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration reports the clip length in wall time.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Empty reports whether the clip holds no samples.
func (c Clip) Empty() bool {
	return len(c.Samples) == 0
}

// DeviceError wraps a capture-device failure: open refusal, or a stream
// error that survived the bounded reopen policy. Fatal to the session, not
// to the process.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
