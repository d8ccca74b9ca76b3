package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Device describes an input-capable sound device.
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Initialize prepares the host audio API. Callers pair it with Terminate.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	return nil
}

func Terminate() {
	_ = portaudio.Terminate()
}

// ListDevices returns the input-capable devices by host index.
func ListDevices() ([]Device, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	devices := make([]Device, 0, len(all))
	for i, info := range all {
		if info.MaxInputChannels <= 0 {
			continue
		}
		devices = append(devices, Device{
			Index:             i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			Default:           def != nil && info == def,
		})
	}
	return devices, nil
}

// openInputStream opens a capture stream on the configured device, or the
// host default when deviceIndex is negative.
func openInputStream(deviceIndex, sampleRate, channels, framesPerBuffer int, buf []int16) (captureStream, error) {
	if deviceIndex < 0 {
		stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), framesPerBuffer, buf)
		if err != nil {
			return nil, fmt.Errorf("open default stream: %w", err)
		}
		return stream, nil
	}

	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	if deviceIndex >= len(all) {
		return nil, fmt.Errorf("device index %d out of range (%d devices)", deviceIndex, len(all))
	}
	device := all[deviceIndex]
	if device.MaxInputChannels < channels {
		return nil, fmt.Errorf("device %q has %d input channels, need %d", device.Name, device.MaxInputChannels, channels)
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open stream on %q: %w", device.Name, err)
	}
	return stream, nil
}
