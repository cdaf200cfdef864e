package voice_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/voice"
	"github.com/parley-ai/parley/pkg/audio"
	audiomock "github.com/parley-ai/parley/pkg/audio/mock"
	"github.com/parley-ai/parley/pkg/provider/live"
	livemock "github.com/parley-ai/parley/pkg/provider/live/mock"
)

// newController builds a Controller over fresh mocks with the smallest frame
// size, so a single EmitFrame of 1024 samples becomes exactly one wire frame.
func newController(t *testing.T, opts ...voice.Option) (*voice.Controller, *livemock.Session, *audiomock.InputDevice, *audiomock.OutputDevice) {
	t.Helper()
	sess := livemock.NewSession()
	p := &livemock.Provider{Session: sess}
	in := &audiomock.InputDevice{}
	out := &audiomock.OutputDevice{}
	opts = append([]voice.Option{voice.WithFrameSize(1024)}, opts...)
	c, err := voice.New(p, in, out, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, sess, in, out
}

// waitDone fails the test if the controller has not ended within the timeout.
func waitDone(t *testing.T, c *voice.Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the session to end")
	}
}

// waitCond polls cond until it holds, failing the test after 3 seconds.
func waitCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_RequiresDependencies(t *testing.T) {
	sess := livemock.NewSession()
	p := &livemock.Provider{Session: sess}
	in := &audiomock.InputDevice{}
	out := &audiomock.OutputDevice{}

	if _, err := voice.New(nil, in, out); err == nil {
		t.Error("New accepted a nil provider")
	}
	if _, err := voice.New(p, nil, out); err == nil {
		t.Error("New accepted a nil input device")
	}
	if _, err := voice.New(p, in, nil); err == nil {
		t.Error("New accepted a nil output device")
	}
}

func TestStart_BecomesActive(t *testing.T) {
	sess := livemock.NewSession()
	p := &livemock.Provider{Session: sess}
	in := &audiomock.InputDevice{}
	out := &audiomock.OutputDevice{}

	cfg := live.SessionConfig{Model: "gpt-realtime", Voice: "marin"}
	handler := func(name, args string) (string, error) { return "", nil }
	c, err := voice.New(p, in, out,
		voice.WithSession(cfg),
		voice.WithToolHandler(handler),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := c.State(); got != voice.StateIdle {
		t.Fatalf("state before Start = %q, want %q", got, voice.StateIdle)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if got := c.State(); got != voice.StateActive {
		t.Errorf("state after Start = %q, want %q", got, voice.StateActive)
	}
	if !in.Started() {
		t.Error("capture device not started")
	}
	if len(p.ConnectCalls) != 1 {
		t.Fatalf("Connect called %d times, want 1", len(p.ConnectCalls))
	}
	if got := p.ConnectCalls[0].Cfg.Model; got != "gpt-realtime" {
		t.Errorf("Connect model = %q, want %q", got, "gpt-realtime")
	}
	if sess.Handler() == nil {
		t.Error("tool handler was not registered with the session")
	}
}

func TestStart_Twice(t *testing.T) {
	c, _, _, _ := newController(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded, want error")
	}
	if got := c.State(); got != voice.StateActive {
		t.Errorf("state after rejected Start = %q, want %q", got, voice.StateActive)
	}
}

func TestStart_MicrophoneDenied(t *testing.T) {
	permErr := errors.New("permission denied")
	sess := livemock.NewSession()
	p := &livemock.Provider{Session: sess}
	in := &audiomock.InputDevice{StartError: permErr}
	out := &audiomock.OutputDevice{}
	c, err := voice.New(p, in, out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded with a denied microphone")
	}
	if !errors.Is(err, voice.ErrMicrophone) {
		t.Errorf("Start error %v does not match ErrMicrophone", err)
	}
	if !errors.Is(err, permErr) {
		t.Errorf("Start error %v does not wrap the device error", err)
	}
	if got := c.State(); got != voice.StateError {
		t.Errorf("state = %q, want %q", got, voice.StateError)
	}
	if c.Err() == nil {
		t.Error("Err returned nil after failed Start")
	}
	if len(p.ConnectCalls) != 0 {
		t.Errorf("Connect called %d times although the microphone never opened", len(p.ConnectCalls))
	}
	if out.CallCountClose != 1 {
		t.Errorf("output closed %d times, want 1", out.CallCountClose)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed after failed Start")
	}
}

func TestStart_ConnectFails(t *testing.T) {
	connErr := errors.New("dial tcp: connection refused")
	p := &livemock.Provider{ConnectErr: connErr}
	in := &audiomock.InputDevice{}
	out := &audiomock.OutputDevice{}
	c, err := voice.New(p, in, out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded although the handshake failed")
	}
	if !errors.Is(err, voice.ErrConnect) {
		t.Errorf("Start error %v does not match ErrConnect", err)
	}
	if !errors.Is(err, connErr) {
		t.Errorf("Start error %v does not wrap the transport error", err)
	}
	if got := c.State(); got != voice.StateError {
		t.Errorf("state = %q, want %q", got, voice.StateError)
	}
	if in.Started() {
		t.Error("capture device still running after failed Start")
	}
	if out.CallCountClose != 1 {
		t.Errorf("output closed %d times, want 1", out.CallCountClose)
	}
}

func TestStart_RejectsBadFrameSize(t *testing.T) {
	sess := livemock.NewSession()
	p := &livemock.Provider{Session: sess}
	in := &audiomock.InputDevice{}
	out := &audiomock.OutputDevice{}
	c, err := voice.New(p, in, out, voice.WithFrameSize(100))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start accepted an out-of-range frame size")
	}
	if got := c.State(); got != voice.StateError {
		t.Errorf("state = %q, want %q", got, voice.StateError)
	}
}

func TestStop_Idempotent(t *testing.T) {
	c, sess, in, out := newController(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if got := c.State(); got != voice.StateIdle {
		t.Errorf("state after Stop = %q, want %q", got, voice.StateIdle)
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err after local Stop = %v, want nil", err)
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("session closed %d times, want 1", sess.CloseCallCount)
	}
	if in.CallCountStop != 1 {
		t.Errorf("capture device stopped %d times, want 1", in.CallCountStop)
	}
	if out.CallCountClose != 1 {
		t.Errorf("output closed %d times, want 1", out.CallCountClose)
	}
	waitDone(t, c)
}

func TestStop_BeforeStart(t *testing.T) {
	c, _, _, out := newController(t)

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if got := c.State(); got != voice.StateIdle {
		t.Errorf("state = %q, want %q", got, voice.StateIdle)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed after Stop")
	}
	if out.CallCountClose != 1 {
		t.Errorf("output closed %d times, want 1", out.CallCountClose)
	}

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded on a stopped controller")
	}
}

func TestRemoteClose_Disconnects(t *testing.T) {
	var disconnects atomic.Int32
	c, sess, _, _ := newController(t, voice.WithOnDisconnect(func() {
		disconnects.Add(1)
	}))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.End(nil)
	waitDone(t, c)

	if got := c.State(); got != voice.StateDisconnected {
		t.Errorf("state = %q, want %q", got, voice.StateDisconnected)
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err after clean remote close = %v, want nil", err)
	}
	if got := disconnects.Load(); got != 1 {
		t.Errorf("disconnect callback fired %d times, want 1", got)
	}

	// A Stop after the remote already hung up keeps the settled state and
	// must not fire the callback again.
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := c.State(); got != voice.StateDisconnected {
		t.Errorf("state after late Stop = %q, want %q", got, voice.StateDisconnected)
	}
	if got := disconnects.Load(); got != 1 {
		t.Errorf("disconnect callback fired %d times after late Stop, want 1", got)
	}
}

func TestRemoteFailure_SurfacesError(t *testing.T) {
	var disconnects atomic.Int32
	c, sess, _, _ := newController(t, voice.WithOnDisconnect(func() {
		disconnects.Add(1)
	}))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	transportErr := errors.New("websocket: close 1011 (internal server error)")
	sess.End(transportErr)
	waitDone(t, c)

	if got := c.State(); got != voice.StateError {
		t.Errorf("state = %q, want %q", got, voice.StateError)
	}
	if !errors.Is(c.Err(), transportErr) {
		t.Errorf("Err = %v, want the transport error", c.Err())
	}
	if got := disconnects.Load(); got != 1 {
		t.Errorf("disconnect callback fired %d times, want 1", got)
	}
}

func TestStop_DoesNotReportDisconnect(t *testing.T) {
	var disconnects atomic.Int32
	c, _, _, _ := newController(t, voice.WithOnDisconnect(func() {
		disconnects.Add(1)
	}))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitDone(t, c)

	if got := disconnects.Load(); got != 0 {
		t.Errorf("disconnect callback fired %d times on local Stop, want 0", got)
	}
	if got := c.State(); got != voice.StateIdle {
		t.Errorf("state = %q, want %q", got, voice.StateIdle)
	}
}

func TestOutboundFramesKeepCaptureOrder(t *testing.T) {
	var mu sync.Mutex
	var sent [][]byte
	tap := func(frame []byte) {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		mu.Lock()
		sent = append(sent, cp)
		mu.Unlock()
	}
	c, _, in, _ := newController(t, voice.WithUserAudioTap(tap))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	// Three capture callbacks at rising levels; each fills one frame.
	for _, level := range []float32{0.1, 0.2, 0.3} {
		samples := make([]float32, 1024)
		for i := range samples {
			samples[i] = level
		}
		in.EmitFrame(samples)
	}

	waitCond(t, "three frames to be sent", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	var last int16
	for i, frame := range sent {
		v := int16(binary.LittleEndian.Uint16(frame[:2]))
		if v <= last {
			t.Fatalf("frame %d first sample = %d, want above %d: capture order lost", i, v, last)
		}
		last = v
	}
}

func TestInboundAudioSchedulesGapless(t *testing.T) {
	var taps atomic.Int32
	c, sess, _, out := newController(t, voice.WithModelAudioTap(func([]byte) {
		taps.Add(1)
	}))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	chunk := make([]byte, 480) // 10ms of 24kHz mono PCM16
	sess.EmitAudio(chunk)
	sess.EmitAudio(chunk)

	waitCond(t, "both chunks to be scheduled", func() bool {
		return taps.Load() == 2
	})

	got := out.Scheduled()
	if len(got) != 2 {
		t.Fatalf("%d buffers scheduled, want 2", len(got))
	}
	want := got[0].Start + got[0].Seconds
	if math.Abs(got[1].Start-want) > 1e-9 {
		t.Errorf("second chunk starts at %.4f, want %.4f right after the first", got[1].Start, want)
	}
}

// gatedOutput parks the first ScheduleAt call until the test opens the gate,
// holding the inbound pump mid-chunk while more chunks queue up behind it.
type gatedOutput struct {
	*audiomock.OutputDevice
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedOutput) ScheduleAt(buf *audio.Buffer, start float64) {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	g.OutputDevice.ScheduleAt(buf, start)
}

func TestStop_DiscardsBufferedAudio(t *testing.T) {
	sess := livemock.NewSession()
	p := &livemock.Provider{Session: sess}
	in := &audiomock.InputDevice{}
	out := &gatedOutput{
		OutputDevice: &audiomock.OutputDevice{},
		entered:      make(chan struct{}),
		gate:         make(chan struct{}),
	}
	c, err := voice.New(p, in, out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	chunk := make([]byte, 480)
	sess.EmitAudio(chunk)
	select {
	case <-out.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the first chunk to reach the output")
	}
	sess.EmitAudio(chunk)
	sess.EmitAudio(chunk)

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()

	// Teardown stops the capture device before waiting for the pumps, so a
	// stopped device means in-flight chunks are already being discarded.
	waitCond(t, "teardown to begin", func() bool { return !in.Started() })
	close(out.gate)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	if got := len(out.Scheduled()); got != 1 {
		t.Errorf("%d chunks scheduled, want only the one already in flight", got)
	}
}

func TestTranscriptRelay(t *testing.T) {
	var mu sync.Mutex
	var lines []live.Transcript
	c, sess, _, _ := newController(t, voice.WithOnTranscript(func(tr live.Transcript) {
		mu.Lock()
		lines = append(lines, tr)
		mu.Unlock()
	}))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	sess.EmitTranscript(live.Transcript{Speaker: live.SpeakerUser, Text: "hello there"})
	sess.EmitTranscript(live.Transcript{Speaker: live.SpeakerModel, Text: "hi, how can I help?"})

	waitCond(t, "both transcript lines", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if lines[0].Speaker != live.SpeakerUser || lines[0].Text != "hello there" {
		t.Errorf("first line = %+v, want the user's", lines[0])
	}
	if lines[1].Speaker != live.SpeakerModel {
		t.Errorf("second line speaker = %q, want %q", lines[1].Speaker, live.SpeakerModel)
	}
}

func TestTranscriptsConsumedWithoutCallback(t *testing.T) {
	c, sess, _, _ := newController(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// No transcript callback is registered; the lines must still be read off
	// the channel so the session's receive loop never blocks and teardown's
	// pump wait can finish.
	for range 5 {
		sess.EmitTranscript(live.Transcript{Speaker: live.SpeakerModel, Text: "line"})
	}
	sess.End(nil)
	waitDone(t, c)

	if got := c.State(); got != voice.StateDisconnected {
		t.Errorf("state = %q, want %q", got, voice.StateDisconnected)
	}
}

func TestCaptureStats(t *testing.T) {
	c, _, in, _ := newController(t)
	if captured, dropped := c.CaptureStats(); captured != 0 || dropped != 0 {
		t.Fatalf("stats before Start = %d/%d, want 0/0", captured, dropped)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	samples := make([]float32, 1024)
	in.EmitFrame(samples)
	in.EmitFrame(samples)

	if captured, _ := c.CaptureStats(); captured != 2 {
		t.Errorf("captured = %d, want 2", captured)
	}
}
