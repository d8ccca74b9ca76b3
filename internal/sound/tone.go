package sound

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

const (
	sampleRate   = beep.SampleRate(44100)
	toneDuration = 90 * time.Millisecond
	toneVolume   = 0.25

	startToneHz = 1046.5 // C6
	stopToneHz  = 523.25 // C5
)

// sineTone streams an endless sine wave at the given frequency and amplitude.
func sineTone(sr beep.SampleRate, freq, amp float64) beep.Streamer {
	step := freq / float64(sr)
	phase := 0.0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := amp * math.Sin(2*math.Pi*phase)
			samples[i][0] = v
			samples[i][1] = v
			phase += step
			if phase >= 1 {
				phase--
			}
		}
		return len(samples), true
	})
}

// toneBuffer renders one cue tone into a reusable buffer.
func toneBuffer(freq float64) *beep.Buffer {
	buf := beep.NewBuffer(beep.Format{SampleRate: sampleRate, NumChannels: 2, Precision: 2})
	buf.Append(beep.Take(sampleRate.N(toneDuration), sineTone(sampleRate, freq, toneVolume)))
	return buf
}

// fileBuffer loads a user-provided WAV cue, resampled to the speaker rate.
func fileBuffer(path string) (*beep.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cue file: %w", err)
	}
	defer f.Close()

	streamer, format, err := wav.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode cue file %s: %w", path, err)
	}
	defer streamer.Close()

	var src beep.Streamer = streamer
	if format.SampleRate != sampleRate {
		src = beep.Resample(4, format.SampleRate, sampleRate, streamer)
	}
	buf := beep.NewBuffer(beep.Format{SampleRate: sampleRate, NumChannels: 2, Precision: 2})
	buf.Append(src)
	return buf, nil
}
