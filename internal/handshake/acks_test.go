package handshake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/codec"
)

func TestAckTableResolveByToken(t *testing.T) {
	table := NewAckTable()
	p := table.Register("open")

	ok := table.Resolve(codec.ControlMessage{Token: "open", OK: true})
	require.True(t, ok)

	msg, err := table.Await(context.Background(), p, time.Second)
	require.NoError(t, err)
	assert.True(t, msg.OK)
}

func TestAckTableResolveEmptyTokenTargetsPending(t *testing.T) {
	table := NewAckTable()
	p := table.Register("open")

	// An error envelope without a token rejects the pending command.
	ok := table.Resolve(codec.ControlMessage{OK: false, Reason: "device not found"})
	require.True(t, ok)

	msg, err := table.Await(context.Background(), p, time.Second)
	require.NoError(t, err)
	assert.False(t, msg.OK)
	assert.Equal(t, "device not found", msg.Reason)
}

func TestAckTableResolveUnknownToken(t *testing.T) {
	table := NewAckTable()
	assert.False(t, table.Resolve(codec.ControlMessage{Token: "start", OK: true}))
}

func TestAckTableAwaitTimeout(t *testing.T) {
	table := NewAckTable()
	p := table.Register("start")

	start := time.Now()
	_, err := table.Await(context.Background(), p, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.Less(t, time.Since(start), time.Second, "await must be bounded by the timeout")

	// The timed-out entry is discarded; a late reply has nothing to hit.
	assert.False(t, table.Resolve(codec.ControlMessage{Token: "start", OK: true}))
}

func TestAckTableAwaitCancelled(t *testing.T) {
	table := NewAckTable()
	p := table.Register("open")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := table.Await(ctx, p, 10*time.Second)
	assert.ErrorIs(t, err, ErrAckCancelled)
}

func TestAckTableFailAll(t *testing.T) {
	table := NewAckTable()
	p := table.Register("open")

	table.FailAll("disconnect")

	msg, err := table.Await(context.Background(), p, time.Second)
	require.NoError(t, err)
	assert.False(t, msg.OK)
	assert.Equal(t, "disconnect", msg.Reason)
}
