package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/codec"
	"github.com/srg/wearlink/internal/sensor"
	"github.com/srg/wearlink/internal/transport"
)

// fakeTransport is a scripted bridge-like transport: ack-based and
// message-framed, so the session runs the real bridge codec against it.
type fakeTransport struct {
	mu       sync.Mutex
	open     bool
	sent     [][]byte
	incoming chan []byte
	// respond maps an outgoing envelope to zero or more replies. It runs
	// on the sender's goroutine; delayed replies spawn their own.
	respond func(env map[string]any) [][]byte
}

func newFakeTransport(respond func(env map[string]any) [][]byte) *fakeTransport {
	return &fakeTransport{incoming: make(chan []byte, 64), respond: respond}
}

// ackAll confirms every ack-based command positively.
func ackAll(env map[string]any) [][]byte {
	switch t := env["type"].(string); t {
	case "hello", "open", "config", "start":
		return [][]byte{[]byte(fmt.Sprintf(`{"type":%q,"ok":true}`, t))}
	}
	return nil
}

func (f *fakeTransport) Kind() transport.Kind { return transport.KindBridge }
func (f *fakeTransport) Profile() transport.Profile {
	return transport.Profile{Framing: transport.FramingMessage, AckBased: true}
}

func (f *fakeTransport) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Drain() error { return nil }

func (f *fakeTransport) Send(p []byte) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return transport.ErrNotOpen
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.sent = append(f.sent, cp)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		var env map[string]any
		if json.Unmarshal(p, &env) == nil {
			for _, reply := range respond(env) {
				f.inject(reply)
			}
		}
	}
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p, ok := <-f.incoming:
		if !ok {
			if f.IsOpen() {
				return nil, transport.ErrStreamEnd
			}
			return nil, transport.ErrClosed
		}
		return p, nil
	}
}

func (f *fakeTransport) inject(p []byte) {
	f.incoming <- p
}

func (f *fakeTransport) sentTypes(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, p := range f.sent {
		var env map[string]any
		require.NoError(t, json.Unmarshal(p, &env))
		types = append(types, env["type"].(string))
	}
	return types
}

func (f *fakeTransport) countSent(t *testing.T, name string) int {
	n := 0
	for _, typ := range f.sentTypes(t) {
		if typ == name {
			n++
		}
	}
	return n
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestSession(respond func(env map[string]any) [][]byte) (*Session, *fakeTransport) {
	tr := newFakeTransport(respond)
	return New("test", "00:06:66:AA:BB:CC", tr, codec.NewBridgeCodec(), quietLogger()), tr
}

func gyroOnly() sensor.Configuration {
	return sensor.Configuration{Gyro: true}
}

func TestConfigureValidation(t *testing.T) {
	s, _ := newTestSession(ackAll)

	assert.Error(t, s.Configure(sensor.Configuration{ExgEnabled: true, ExgECG: true, ExgEMG: true}, 51.2))
	assert.Error(t, s.Configure(gyroOnly(), 50.0))
	assert.NoError(t, s.Configure(gyroOnly(), 51.2))
}

func TestConnectRequiresConfigure(t *testing.T) {
	s, _ := newTestSession(ackAll)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrNotConfigured)
}

// End-to-end: gyro-only configuration, one raw frame carrying gyro plus an
// extra decodable field, exactly the gyro channels present in the output.
func TestStreamingGyroOnlyScenario(t *testing.T) {
	s, tr := newTestSession(ackAll)
	ctx := context.Background()

	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(ctx))
	assert.True(t, s.IsConnected())
	assert.Equal(t, Configured, s.State())

	samples := make(chan sensor.UnifiedSample, 8)
	s.OnSample(func(smp sensor.UnifiedSample) { samples <- smp })

	require.NoError(t, s.StartStreaming(ctx))
	assert.Equal(t, Streaming, s.State())

	tr.inject([]byte(`{"type":"sample","ts":100,"gyro":{"x":1.5,"y":-2.0,"z":0.0},"temp":22.5}`))

	select {
	case smp := <-samples:
		assert.Equal(t, uint32(100), smp.Timestamp())
		for _, ch := range []sensor.Channel{sensor.GyroX, sensor.GyroY, sensor.GyroZ} {
			assert.True(t, smp.Has(ch), "expected %s present", ch)
		}
		// temp was decodable but not enabled; everything else absent.
		assert.Len(t, smp.Channels(), 3)
	case <-time.After(time.Second):
		t.Fatal("no sample dispatched")
	}

	assert.Equal(t, []string{"hello", "open", "config", "start"}, tr.sentTypes(t))
	assert.Equal(t, uint64(1), s.Stats().Samples)

	require.NoError(t, s.Disconnect())
}

func TestSamplesNotDispatchedBeforeStreaming(t *testing.T) {
	s, tr := newTestSession(ackAll)
	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	got := make(chan struct{}, 1)
	s.OnSample(func(sensor.UnifiedSample) { got <- struct{}{} })

	tr.inject([]byte(`{"type":"sample","ts":1,"gyro":{"x":1,"y":2,"z":3}}`))

	select {
	case <-got:
		t.Fatal("sample dispatched while not streaming")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, uint64(0), s.Stats().Samples)
}

func TestConnectTwiceIsFastNoop(t *testing.T) {
	s, tr := newTestSession(ackAll)
	ctx := context.Background()

	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Connect(ctx))

	assert.Equal(t, 1, tr.countSent(t, "hello"), "second Connect must not re-run the handshake")
	require.NoError(t, s.Disconnect())
}

func TestConnectDuringConnectIsFastNoop(t *testing.T) {
	// hello is never auto-acknowledged so the first Connect stays in
	// flight until the test injects the ack.
	s, tr := newTestSession(func(env map[string]any) [][]byte {
		if env["type"] == "hello" {
			return nil
		}
		return ackAll(env)
	})
	ctx := context.Background()
	require.NoError(t, s.Configure(gyroOnly(), 51.2))

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.Connect(ctx) }()

	// Give the first Connect time to grab the command mutex.
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	err := s.Connect(ctx)
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "re-entrant Connect must return fast")
	assert.Equal(t, 1, tr.countSent(t, "hello"))

	// Unblock the first Connect.
	tr.inject([]byte(`{"type":"hello","ok":true}`))
	require.NoError(t, <-firstDone)
	require.NoError(t, s.Disconnect())
}

func TestReentrantCommandsRejected(t *testing.T) {
	s, tr := newTestSession(func(env map[string]any) [][]byte {
		if env["type"] == "hello" {
			return nil // first Connect stays in flight
		}
		return ackAll(env)
	})
	ctx := context.Background()
	require.NoError(t, s.Configure(gyroOnly(), 51.2))

	done := make(chan error, 1)
	go func() { done <- s.Connect(ctx) }()
	time.Sleep(30 * time.Millisecond)

	assert.ErrorIs(t, s.StartStreaming(ctx), ErrReentrant)
	assert.ErrorIs(t, s.StopStreaming(ctx), ErrReentrant)
	assert.ErrorIs(t, s.Configure(gyroOnly(), 51.2), ErrReentrant)

	tr.inject([]byte(`{"type":"hello","ok":true}`))
	require.NoError(t, <-done)
	require.NoError(t, s.Disconnect())
}

func TestDisconnectIdempotent(t *testing.T) {
	s, _ := newTestSession(ackAll)
	ctx := context.Background()

	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(ctx))

	for i := 0; i < 3; i++ {
		assert.NoError(t, s.Disconnect())
		assert.Equal(t, Disconnected, s.State())
		assert.False(t, s.IsConnected())
	}
}

func TestDisconnectBeforeConnect(t *testing.T) {
	s, _ := newTestSession(ackAll)
	assert.NoError(t, s.Disconnect())
	assert.Equal(t, Disconnected, s.State())
}

// An error envelope while the open hard-ack is pending fails Connect; the
// session lands in Failed and allows a fresh Connect.
func TestErrorEnvelopeDuringOpenFailsConnect(t *testing.T) {
	rejectOpen := true
	var mu sync.Mutex
	s, _ := newTestSession(func(env map[string]any) [][]byte {
		mu.Lock()
		reject := rejectOpen
		mu.Unlock()
		if env["type"] == "open" && reject {
			return [][]byte{[]byte(`{"type":"error","err":"device not found"}`)}
		}
		return ackAll(env)
	})
	ctx := context.Background()
	require.NoError(t, s.Configure(gyroOnly(), 51.2))

	err := s.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
	assert.Contains(t, err.Error(), "device not found")
	assert.Equal(t, Failed, s.State())
	assert.False(t, s.IsConnected())

	// Failed behaves like Disconnected: a fresh Connect is allowed.
	mu.Lock()
	rejectOpen = false
	mu.Unlock()
	require.NoError(t, s.Connect(ctx))
	assert.True(t, s.IsConnected())
	require.NoError(t, s.Disconnect())
}

func TestSoftAckRejectionStillConnects(t *testing.T) {
	s, _ := newTestSession(func(env map[string]any) [][]byte {
		if env["type"] == "config" {
			return [][]byte{[]byte(`{"type":"config","ok":false}`)}
		}
		return ackAll(env)
	})
	ctx := context.Background()

	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(ctx), "soft-ack failure must not fail Connect")
	assert.True(t, s.IsConnected())
	assert.Equal(t, uint64(1), s.Stats().SoftAckFailures)
	require.NoError(t, s.Disconnect())
}

func TestStopStreamingReturnsToConfigured(t *testing.T) {
	s, tr := newTestSession(ackAll)
	ctx := context.Background()

	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartStreaming(ctx))
	require.NoError(t, s.StopStreaming(ctx))

	assert.Equal(t, Configured, s.State())
	assert.True(t, s.IsConnected())
	assert.Contains(t, tr.sentTypes(t), "stop")

	// Streaming can be restarted on the same connection.
	require.NoError(t, s.StartStreaming(ctx))
	assert.Equal(t, Streaming, s.State())
	require.NoError(t, s.Disconnect())
}

func TestStopStreamingOnlyLegalWhileStreaming(t *testing.T) {
	s, _ := newTestSession(ackAll)
	ctx := context.Background()

	var serr *StateError
	assert.ErrorAs(t, s.StopStreaming(ctx), &serr)

	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(ctx))
	assert.ErrorAs(t, s.StopStreaming(ctx), &serr)
	require.NoError(t, s.Disconnect())
}

func TestStreamEndWhileStreamingFailsSession(t *testing.T) {
	s, tr := newTestSession(ackAll)
	ctx := context.Background()

	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartStreaming(ctx))

	close(tr.incoming) // remote end went away

	assert.Eventually(t, func() bool { return s.State() == Failed },
		time.Second, 10*time.Millisecond)
	assert.False(t, s.IsConnected())
}

func TestReconnectAfterStreamDeath(t *testing.T) {
	s, tr := newTestSession(ackAll)
	ctx := context.Background()

	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartStreaming(ctx))

	close(tr.incoming)
	require.Eventually(t, func() bool { return s.State() == Failed },
		time.Second, 10*time.Millisecond)

	// The dead loop has fully wound down; a fresh link works.
	tr.incoming = make(chan []byte, 64)
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartStreaming(ctx))

	samples := make(chan sensor.UnifiedSample, 8)
	s.OnSample(func(smp sensor.UnifiedSample) { samples <- smp })
	tr.inject([]byte(`{"type":"sample","ts":9,"gyro":{"x":1,"y":2,"z":3}}`))

	select {
	case smp := <-samples:
		assert.Equal(t, uint32(9), smp.Timestamp())
	case <-time.After(time.Second):
		t.Fatal("no sample after reconnect")
	}
	require.NoError(t, s.Disconnect())
}

func TestDisconnectInterruptsPendingConnect(t *testing.T) {
	// open is never acknowledged; without interruption Connect would sit
	// in the full open_ack window.
	s, _ := newTestSession(func(env map[string]any) [][]byte {
		if env["type"] == "open" {
			return nil
		}
		return ackAll(env)
	})
	ctx := context.Background()
	require.NoError(t, s.Configure(gyroOnly(), 51.2))

	done := make(chan error, 1)
	go func() { done <- s.Connect(ctx) }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Disconnect())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Connect not interrupted")
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Disconnected, s.State())
}

func TestMalformedFramesDroppedAndCounted(t *testing.T) {
	s, tr := newTestSession(ackAll)
	ctx := context.Background()

	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartStreaming(ctx))

	samples := make(chan sensor.UnifiedSample, 8)
	s.OnSample(func(smp sensor.UnifiedSample) { samples <- smp })

	tr.inject([]byte(`{{{not json`))
	tr.inject([]byte(`{"type":"wat"}`))
	tr.inject([]byte(`{"type":"sample","ts":5,"gyro":{"x":1,"y":2,"z":3}}`))

	select {
	case smp := <-samples:
		assert.Equal(t, uint32(5), smp.Timestamp())
	case <-time.After(time.Second):
		t.Fatal("valid frame after garbage was not dispatched")
	}
	assert.Equal(t, uint64(2), s.Stats().MalformedFrames)
	assert.Equal(t, Streaming, s.State(), "malformed frames must not change state")
	require.NoError(t, s.Disconnect())
}

func TestListenerAddRemoveWhileStreaming(t *testing.T) {
	s, tr := newTestSession(ackAll)
	ctx := context.Background()

	require.NoError(t, s.Configure(gyroOnly(), 51.2))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartStreaming(ctx))

	first := make(chan sensor.UnifiedSample, 8)
	second := make(chan sensor.UnifiedSample, 8)
	id := s.OnSample(func(smp sensor.UnifiedSample) { first <- smp })
	s.OnSample(func(smp sensor.UnifiedSample) { second <- smp })

	tr.inject([]byte(`{"type":"sample","ts":1,"gyro":{"x":1,"y":2,"z":3}}`))
	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("first listener not invoked")
	}
	<-second

	s.RemoveOnSample(id)
	tr.inject([]byte(`{"type":"sample","ts":2,"gyro":{"x":1,"y":2,"z":3}}`))
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("remaining listener not invoked")
	}
	select {
	case <-first:
		t.Fatal("removed listener still invoked")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, s.Disconnect())
}
