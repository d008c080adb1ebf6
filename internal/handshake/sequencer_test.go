package handshake

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/codec"
	"github.com/srg/wearlink/internal/transport"
)

// fakeTransport records what the sequencer does to it.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	drains  int
	sendErr error
	profile transport.Profile
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{profile: transport.Profile{Framing: transport.FramingMessage, AckBased: true}}
}

func (f *fakeTransport) Open(context.Context) error { return nil }
func (f *fakeTransport) Close() error               { return nil }
func (f *fakeTransport) IsOpen() bool               { return true }
func (f *fakeTransport) Kind() transport.Kind       { return transport.KindBridge }
func (f *fakeTransport) Profile() transport.Profile { return f.profile }

func (f *fakeTransport) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeTransport) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	return nil
}

func (f *fakeTransport) sentNames(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, p := range f.sent {
		var env map[string]any
		require.NoError(t, json.Unmarshal(p, &env))
		names = append(names, env["type"].(string))
	}
	return names
}

func newSequencer(tr *fakeTransport) (*Sequencer, *AckTable) {
	acks := NewAckTable()
	return NewSequencer(tr, codec.NewBridgeCodec(), acks, nil), acks
}

func TestSequencerRunsStepsInOrder(t *testing.T) {
	tr := newFakeTransport()
	seq, _ := newSequencer(tr)

	err := seq.Run(context.Background(), []Step{
		Send("stop", codec.Command{Name: "stop"}),
		Drain("drain_input"),
		Settle("final_settle", 5*time.Millisecond),
		Send("start", codec.Command{Name: "start"}),
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"stop", "start"}, tr.sentNames(t))
	assert.Equal(t, 1, tr.drains)
}

func TestSequencerHardAckSuccess(t *testing.T) {
	tr := newFakeTransport()
	seq, acks := newSequencer(tr)

	go func() {
		time.Sleep(20 * time.Millisecond)
		acks.Resolve(codec.ControlMessage{Token: "open", OK: true})
	}()

	err := seq.Run(context.Background(), []Step{
		HardAck("open_ack", codec.Command{Name: "open"}, time.Second),
	})
	assert.NoError(t, err)
}

func TestSequencerHardAckTimeoutFailsWithStepName(t *testing.T) {
	tr := newFakeTransport()
	seq, _ := newSequencer(tr)

	start := time.Now()
	err := seq.Run(context.Background(), []Step{
		HardAck("open_ack", codec.Command{Name: "open"}, 30*time.Millisecond),
		Send("never_sent", codec.Command{Name: "start"}),
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "hard-ack failure must respect the step timeout")

	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "open_ack", serr.Step)
	assert.True(t, serr.Timeout)
	assert.Equal(t, "open_ack timeout", err.Error())

	// The remaining sequence is aborted.
	assert.Equal(t, []string{"open"}, tr.sentNames(t))
}

func TestSequencerHardAckRejected(t *testing.T) {
	tr := newFakeTransport()
	seq, acks := newSequencer(tr)

	go func() {
		time.Sleep(10 * time.Millisecond)
		acks.Resolve(codec.ControlMessage{Token: "open", OK: false, Reason: "device busy"})
	}()

	err := seq.Run(context.Background(), []Step{
		HardAck("open_ack", codec.Command{Name: "open"}, time.Second),
	})

	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.False(t, serr.Timeout)
	assert.Contains(t, err.Error(), "rejected")
	assert.Contains(t, err.Error(), "device busy")
}

func TestSequencerSoftAckTimeoutContinues(t *testing.T) {
	tr := newFakeTransport()
	seq, _ := newSequencer(tr)

	err := seq.Run(context.Background(), []Step{
		SoftAck("config", codec.Command{Name: "config"}, 30*time.Millisecond),
		Send("start", codec.Command{Name: "start"}),
	})

	require.NoError(t, err, "soft-ack failures must not fail the sequence")
	assert.Equal(t, []string{"config", "start"}, tr.sentNames(t))
	assert.Equal(t, uint64(1), seq.SoftFailures())
}

func TestSequencerCancelledDuringSettle(t *testing.T) {
	tr := newFakeTransport()
	seq, _ := newSequencer(tr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := seq.Run(ctx, []Step{Settle("final_settle", 10*time.Second)})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "cancellation must interrupt settle delays")
}
