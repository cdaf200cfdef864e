package miniaudio

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/playback"
)

// OutputDevice renders a playback timeline to the default speaker. The
// device pulls samples from the timeline on its render thread; scheduling
// happens through [OutputDevice.ScheduleAt] on any goroutine.
type OutputDevice struct {
	ctx      *Context
	format   audio.Format
	timeline *playback.Timeline

	mu      sync.Mutex
	dev     *malgo.Device
	scratch []float32
}

var _ audio.OutputDevice = (*OutputDevice)(nil)

// OpenOutput opens the default playback device rendering mono audio in the
// given format and starts it. Until something is scheduled it plays silence.
func (c *Context) OpenOutput(format audio.Format) (*OutputDevice, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("miniaudio: invalid playback format %s", format)
	}
	if format.Channels != 1 {
		return nil, fmt.Errorf("miniaudio: %s: only mono playback is supported", format)
	}

	d := &OutputDevice{
		ctx:      c,
		format:   format,
		timeline: playback.NewTimeline(format.SampleRate),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInMilliseconds = 10
	if runtime.GOOS == "linux" {
		cfg.Alsa.NoMMap = 1
	}

	onData := func(output, _ []byte, frameCount uint32) {
		n := int(frameCount)
		if cap(d.scratch) < n {
			d.scratch = make([]float32, n)
		}
		buf := d.scratch[:n]
		d.timeline.Render(buf)
		for i, s := range buf {
			// Overlapping segments can sum past full scale.
			if s > 1 {
				s = 1
			} else if s < -1 {
				s = -1
			}
			binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(s))
		}
	}

	dev, err := malgo.InitDevice(c.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: open playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("miniaudio: start playback device: %w", err)
	}

	d.dev = dev
	c.log.Debug("miniaudio: playback device started", "format", format.String())
	return d, nil
}

// Format returns the playback format the device was opened with.
func (d *OutputDevice) Format() audio.Format {
	return d.format
}

// Now returns the output clock position in seconds: how much audio the
// device has rendered since it opened. It only moves forward.
func (d *OutputDevice) Now() float64 {
	return d.timeline.Now()
}

// ScheduleAt enqueues buf to begin playing at start seconds on the output
// clock. Buffers must already be at the device's sample rate.
func (d *OutputDevice) ScheduleAt(buf *audio.Buffer, start float64) {
	d.timeline.ScheduleAt(buf, start)
}

// Close discards everything still scheduled, stops the device and releases
// it. Close is idempotent.
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev == nil {
		return nil
	}
	d.timeline.Clear()
	err := d.dev.Stop()
	d.dev.Uninit()
	d.dev = nil
	if err != nil {
		return fmt.Errorf("miniaudio: stop playback device: %w", err)
	}
	return nil
}
