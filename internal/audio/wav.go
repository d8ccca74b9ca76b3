package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes the clip into file as 16-bit PCM WAV.
func WriteWAV(file *os.File, clip Clip) error {
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: clip.Channels, SampleRate: clip.SampleRate}}
	samples := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		samples[i] = int(s)
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, clip.SampleRate, 16, clip.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// EncodeWAV renders the clip to WAV bytes. The encoder seeks back to patch
// the header, so it goes through a temp file rather than a plain writer.
func EncodeWAV(clip Clip) ([]byte, error) {
	file, err := os.CreateTemp("", "voicemode_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	name := file.Name()
	defer os.Remove(name)

	if err := WriteWAV(file, clip); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close wav file: %w", err)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read wav file: %w", err)
	}
	return data, nil
}
