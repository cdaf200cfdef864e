// Package voice owns the lifecycle of one live voice session: it acquires
// the microphone, connects the realtime provider, pumps captured frames up
// and synthesised audio down, and tears everything down exactly once no
// matter who ends the session.
//
// A Controller is single-use. It moves through the states
//
//	idle → connecting → active → (disconnected | error)
//
// where disconnected and error mark a remote ending and a local Stop returns
// the controller to idle. Reconnecting means constructing a fresh Controller;
// sessions never share devices, pipelines or playback cursors.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/capture"
	"github.com/parley-ai/parley/pkg/audio/playback"
	"github.com/parley-ai/parley/pkg/provider/live"
)

// Sentinel errors distinguishing the two ways session start can fail. Both
// wrap the underlying cause.
var (
	// ErrMicrophone means the capture device could not be opened, typically
	// because recording permission was denied or no device exists. Fatal to
	// session start; there is no retry.
	ErrMicrophone = errors.New("voice: microphone unavailable")

	// ErrConnect means the provider handshake failed. The caller decides
	// whether to retry with a fresh Controller.
	ErrConnect = errors.New("voice: connection failed")
)

// State is the controller's lifecycle position.
type State string

const (
	// StateIdle means no session: either Start was never called or a local
	// Stop ended the session.
	StateIdle State = "idle"

	// StateConnecting means Start is acquiring the microphone and performing
	// the provider handshake.
	StateConnecting State = "connecting"

	// StateActive means audio is flowing in both directions.
	StateActive State = "active"

	// StateDisconnected means the remote side closed the session cleanly.
	StateDisconnected State = "disconnected"

	// StateError means the session ended because something failed: the
	// handshake, the microphone, or the transport mid-session. Err returns
	// the cause.
	StateError State = "error"
)

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithSession sets the provider session configuration (model, voice,
// instructions, tools).
func WithSession(cfg live.SessionConfig) Option {
	return func(c *Controller) {
		c.sessCfg = cfg
	}
}

// WithFrameSize sets the capture frame size in samples. Defaults to
// [capture.DefaultFrameSize]; must lie within the capture package's bounds.
func WithFrameSize(samples int) Option {
	return func(c *Controller) {
		c.frameSize = samples
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithOnDisconnect registers a callback invoked at most once per Controller,
// when the session ends for any reason other than a local Stop. Inspect
// [Controller.State] and [Controller.Err] inside the callback to distinguish
// a clean remote close from a failure.
func WithOnDisconnect(fn func()) Option {
	return func(c *Controller) {
		c.onDisconnect = fn
	}
}

// WithOnTranscript registers a callback invoked for every transcript line
// the session produces, in arrival order. It runs on the transcript pump
// goroutine and must not block.
func WithOnTranscript(fn func(live.Transcript)) Option {
	return func(c *Controller) {
		c.onTranscript = fn
	}
}

// WithToolHandler registers the handler for model tool calls, passed through
// to [live.Session.OnToolCall] before any audio flows.
func WithToolHandler(h live.ToolCallHandler) Option {
	return func(c *Controller) {
		c.toolHandler = h
	}
}

// WithPlaybackObserver registers a callback for every scheduling decision,
// for metrics. It runs under the scheduler lock and must not block.
func WithPlaybackObserver(fn func(playback.Decision)) Option {
	return func(c *Controller) {
		c.playbackObs = fn
	}
}

// WithModelAudioTap registers a callback receiving every inbound audio chunk
// after it has been scheduled, in [live.OutputFormat]. Used by recording.
// Runs on the inbound pump goroutine and must not block.
func WithModelAudioTap(fn func([]byte)) Option {
	return func(c *Controller) {
		c.modelTap = fn
	}
}

// WithUserAudioTap registers a callback receiving every captured frame as it
// is sent, in [live.InputFormat]. Used by recording. Runs on the outbound
// pump goroutine and must not block.
func WithUserAudioTap(fn func([]byte)) Option {
	return func(c *Controller) {
		c.userTap = fn
	}
}

// Controller drives one live voice session end to end.
//
// All methods are safe for concurrent use. The zero value is not usable;
// construct with [New].
type Controller struct {
	provider live.Provider
	input    audio.InputDevice
	output   audio.OutputDevice

	sessCfg      live.SessionConfig
	frameSize    int
	log          *slog.Logger
	onDisconnect func()
	onTranscript func(live.Transcript)
	toolHandler  live.ToolCallHandler
	playbackObs  func(playback.Decision)
	modelTap     func([]byte)
	userTap      func([]byte)

	// opMu serializes Start against Stop so a Stop issued mid-handshake
	// waits for Start to finish before unwinding.
	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	err     error
	started bool
	ended   bool

	sess     live.Session
	pipeline *capture.Pipeline
	sched    *playback.Scheduler

	// active gates the inbound pump: cleared first thing in teardown so a
	// chunk already in flight is discarded instead of scheduled.
	active atomic.Bool

	// stopReq marks that a local Stop owns the teardown, so the watcher
	// must not report the ending as a disconnect.
	stopReq atomic.Bool

	wg          sync.WaitGroup
	sessionEnd  chan struct{}
	done        chan struct{}
	releaseOnce sync.Once
}

// New creates a Controller for one session over the given provider and
// devices. The Controller assumes ownership of both devices: they are
// stopped and closed during teardown.
func New(provider live.Provider, input audio.InputDevice, output audio.OutputDevice, opts ...Option) (*Controller, error) {
	if provider == nil {
		return nil, errors.New("voice: nil provider")
	}
	if input == nil {
		return nil, errors.New("voice: nil input device")
	}
	if output == nil {
		return nil, errors.New("voice: nil output device")
	}
	c := &Controller{
		provider:   provider,
		input:      input,
		output:     output,
		frameSize:  capture.DefaultFrameSize,
		log:        slog.Default(),
		state:      StateIdle,
		sessionEnd: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Start brings the session up: builds the capture pipeline and playback
// scheduler, opens the microphone, performs the provider handshake, and
// launches the audio pumps. It returns once the session is active.
//
// ctx bounds connection establishment only; the running session is ended by
// [Controller.Stop], the remote side, or a transport failure. A failed Start
// releases everything it acquired and leaves the controller in [StateError];
// the returned error wraps [ErrMicrophone] or [ErrConnect].
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("voice: session already started")
	}
	if c.ended {
		c.mu.Unlock()
		return errors.New("voice: controller already stopped")
	}
	c.started = true
	c.state = StateConnecting
	c.mu.Unlock()

	pipeline, err := capture.New(live.InputFormat,
		capture.WithFrameSize(c.frameSize),
		capture.WithLogger(c.log),
	)
	if err != nil {
		return c.failStart(err)
	}
	c.mu.Lock()
	c.pipeline = pipeline
	c.mu.Unlock()

	schedOpts := []playback.Option{playback.WithLogger(c.log)}
	if c.playbackObs != nil {
		schedOpts = append(schedOpts, playback.WithObserver(c.playbackObs))
	}
	sched, err := playback.New(c.output, live.OutputFormat, schedOpts...)
	if err != nil {
		return c.failStart(err)
	}
	c.mu.Lock()
	c.sched = sched
	c.mu.Unlock()

	if err := c.input.Start(pipeline.HandleFrame); err != nil {
		return c.failStart(fmt.Errorf("%w: %w", ErrMicrophone, err))
	}

	sess, err := c.provider.Connect(ctx, c.sessCfg)
	if err != nil {
		return c.failStart(fmt.Errorf("%w: %w", ErrConnect, err))
	}
	if c.toolHandler != nil {
		sess.OnToolCall(c.toolHandler)
	}

	c.mu.Lock()
	c.sess = sess
	c.state = StateActive
	c.mu.Unlock()
	c.active.Store(true)

	c.wg.Add(3)
	go c.pumpOutbound()
	go c.pumpInbound()
	go c.pumpTranscripts()
	go c.watch()

	c.log.Info("voice: session active",
		"model", c.sessCfg.Model,
		"voice", c.sessCfg.Voice,
	)
	return nil
}

// Stop tears the session down: stops the microphone, closes the capture
// pipeline, closes the provider session, waits for the pumps to drain, and
// closes the output device. Safe to call from any state, any number of
// times, including before the session ever reached active; every resource is
// released exactly once. A Stop after the remote side already ended the
// session preserves the disconnected or error state.
func (c *Controller) Stop() error {
	c.stopReq.Store(true)
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardown(StateIdle, nil, false)
	return nil
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the session, or nil. Meaningful once
// [Controller.Done] is closed or Start has returned an error.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done returns a channel closed when the session has fully ended and all
// resources are released, whichever side ended it.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// CaptureStats returns how many frames the capture pipeline queued and how
// many it dropped because the consumer fell behind. Both zero before Start.
func (c *Controller) CaptureStats() (captured, dropped uint64) {
	c.mu.Lock()
	p := c.pipeline
	c.mu.Unlock()
	if p == nil {
		return 0, 0
	}
	return p.Captured(), p.Dropped()
}

// failStart unwinds a partially started session and records the error.
// Called with opMu held; teardown does not take opMu.
func (c *Controller) failStart(err error) error {
	c.log.Error("voice: session start failed", "error", err)
	c.teardown(StateError, err, false)
	return err
}

// teardown releases every session resource exactly once and settles the
// terminal state. The first caller to arrive wins the state; notify fires
// the disconnect callback only when that winner asked for it.
func (c *Controller) teardown(final State, cause error, notify bool) {
	c.releaseOnce.Do(func() {
		c.active.Store(false)

		// Order matters: a stopped device delivers no more capture
		// callbacks, which makes closing the pipeline safe; closing the
		// session ends the inbound channels, which lets the pumps drain.
		if err := c.input.Stop(); err != nil {
			c.log.Warn("voice: stop capture device", "error", err)
		}
		c.mu.Lock()
		pipeline, sess := c.pipeline, c.sess
		c.mu.Unlock()
		if pipeline != nil {
			_ = pipeline.Close()
		}
		if sess != nil {
			if err := sess.Close(); err != nil {
				c.log.Warn("voice: close session", "error", err)
			}
		}
		c.wg.Wait()
		if err := c.output.Close(); err != nil {
			c.log.Warn("voice: close output device", "error", err)
		}
	})

	c.mu.Lock()
	won := !c.ended
	if won {
		c.ended = true
		c.state = final
		c.err = cause
	}
	c.mu.Unlock()

	if won {
		if notify && c.onDisconnect != nil {
			c.onDisconnect()
		}
		close(c.done)
		c.log.Info("voice: session ended", "state", string(final), "error", cause)
	}
}

// pumpOutbound relays captured frames to the session in capture order.
// Frames that fail to send are dropped, never retransmitted.
func (c *Controller) pumpOutbound() {
	defer c.wg.Done()
	for frame := range c.pipeline.Frames() {
		if err := c.sess.SendAudio(frame.Data); err != nil {
			if errors.Is(err, live.ErrClosed) {
				return
			}
			c.log.Warn("voice: send frame", "error", err)
			continue
		}
		if c.userTap != nil {
			c.userTap(frame.Data)
		}
	}
}

// pumpInbound relays synthesised audio to the playback scheduler in arrival
// order. It is the only goroutine touching the scheduler, which makes chunk
// handling serial per session. Chunks arriving after teardown has begun are
// discarded; a chunk that fails to decode is skipped by the scheduler and
// playback continues.
func (c *Controller) pumpInbound() {
	defer c.wg.Done()
	defer close(c.sessionEnd)
	for chunk := range c.sess.Audio() {
		if !c.active.Load() {
			continue
		}
		if _, err := c.sched.Enqueue(chunk); err != nil {
			continue
		}
		if c.modelTap != nil {
			c.modelTap(chunk)
		}
	}
}

// pumpTranscripts relays transcript lines to the registered callback so the
// session's receive loop is never blocked on a slow consumer. With no
// callback registered the channel is still drained; the session must never
// stall on an unread transcript.
func (c *Controller) pumpTranscripts() {
	defer c.wg.Done()
	if c.onTranscript == nil {
		audio.Drain(c.sess.Transcripts())
		return
	}
	for t := range c.sess.Transcripts() {
		c.onTranscript(t)
	}
}

// watch waits for the session streams to end. When the ending was not a
// local Stop it runs the teardown, settling on disconnected for a clean
// remote close or error for a failure.
func (c *Controller) watch() {
	<-c.sessionEnd
	if c.stopReq.Load() {
		return
	}
	cause := c.sess.Err()
	final := StateDisconnected
	if cause != nil {
		final = StateError
	}
	c.teardown(final, cause, true)
}
