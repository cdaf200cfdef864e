package miniaudio

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/parley-ai/parley/pkg/audio"
)

// InputDevice captures mono samples from the default microphone.
type InputDevice struct {
	ctx    *Context
	format audio.Format

	mu      sync.Mutex
	dev     *malgo.Device
	scratch []float32
}

var _ audio.InputDevice = (*InputDevice)(nil)

// OpenInput prepares a capture device in the given format. The microphone is
// not touched until [InputDevice.Start]; an OS permission prompt, where the
// platform has one, appears there.
func (c *Context) OpenInput(format audio.Format) (*InputDevice, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("miniaudio: invalid capture format %s", format)
	}
	if format.Channels != 1 {
		return nil, fmt.Errorf("miniaudio: %s: only mono capture is supported", format)
	}
	return &InputDevice{ctx: c, format: format}, nil
}

// Format returns the capture format the device was opened with.
func (d *InputDevice) Format() audio.Format {
	return d.format
}

// Start opens the microphone and begins delivering samples to onFrame from
// the device's capture thread. The slice passed to onFrame is reused between
// callbacks; the callback must copy anything it keeps.
func (d *InputDevice) Start(onFrame func(frame []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev != nil {
		return fmt.Errorf("miniaudio: capture device already started")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(d.format.Channels)
	cfg.SampleRate = uint32(d.format.SampleRate)
	cfg.PeriodSizeInMilliseconds = 20
	if runtime.GOOS == "linux" {
		cfg.Alsa.NoMMap = 1
	}

	onData := func(_, input []byte, frameCount uint32) {
		n := int(frameCount) * d.format.Channels
		if cap(d.scratch) < n {
			d.scratch = make([]float32, n)
		}
		buf := d.scratch[:n]
		for i := range buf {
			buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
		}
		onFrame(buf)
	}

	dev, err := malgo.InitDevice(d.ctx.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("miniaudio: open capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("miniaudio: start capture device: %w", err)
	}

	d.dev = dev
	d.ctx.log.Debug("miniaudio: capture device started", "format", d.format.String())
	return nil
}

// Stop stops the microphone and releases the device. It blocks until the
// capture thread has quiesced, so no callback is in flight once it returns.
// Stopping a device that never started is a no-op.
func (d *InputDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev == nil {
		return nil
	}
	err := d.dev.Stop()
	d.dev.Uninit()
	d.dev = nil
	if err != nil {
		return fmt.Errorf("miniaudio: stop capture device: %w", err)
	}
	return nil
}
