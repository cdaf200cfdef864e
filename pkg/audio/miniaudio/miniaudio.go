// Package miniaudio implements the audio device interfaces on top of the
// miniaudio library via gen2brain/malgo. One [Context] owns the OS audio
// backend; input and output devices are opened from it and must be released
// before the context is closed.
package miniaudio

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"
)

// Context wraps an initialized miniaudio backend.
type Context struct {
	ctx *malgo.AllocatedContext
	log *slog.Logger
}

// NewContext initializes the OS audio backend. Backend diagnostics are
// forwarded to log at debug level.
func NewContext(log *slog.Logger) (*Context, error) {
	if log == nil {
		log = slog.Default()
	}

	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, func(msg string) {
		log.Debug("miniaudio: " + strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return &Context{ctx: ctx, log: log}, nil
}

// Close releases the backend. Devices opened from this context must be
// stopped or closed first.
func (c *Context) Close() error {
	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	if err != nil {
		return fmt.Errorf("miniaudio: uninit context: %w", err)
	}
	return nil
}

// DeviceInfo describes one audio device known to the backend.
type DeviceInfo struct {
	// Name is the device name as reported by the OS.
	Name string

	// Default reports whether the OS considers this the default device of
	// its kind.
	Default bool
}

// InputDevices lists the capture devices known to the backend.
func (c *Context) InputDevices() ([]DeviceInfo, error) {
	return c.devices(malgo.Capture)
}

// OutputDevices lists the playback devices known to the backend.
func (c *Context) OutputDevices() ([]DeviceInfo, error) {
	return c.devices(malgo.Playback)
}

func (c *Context) devices(kind malgo.DeviceType) ([]DeviceInfo, error) {
	infos, err := c.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: enumerate devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, DeviceInfo{
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return out, nil
}
