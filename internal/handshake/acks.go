// Package handshake executes the fixed command sequences that configure
// the device and arm it for streaming, and tracks the pending
// acknowledgements those commands create.
package handshake

import (
	"context"
	"errors"
	"time"

	"github.com/cornelk/hashmap"

	"github.com/srg/wearlink/internal/codec"
)

// ErrAckTimeout is the resolution of a pending acknowledgement whose reply
// never arrived inside the step's window.
var ErrAckTimeout = errors.New("acknowledgement timeout")

// ErrAckCancelled is the resolution of a pending acknowledgement that was
// interrupted (disconnect, context cancellation).
var ErrAckCancelled = errors.New("acknowledgement cancelled")

// Pending is one outstanding command acknowledgement. Created when an
// ack-requiring command is sent, resolved by the read loop on a matching
// reply, by the timer on timeout, or by FailAll on disconnect.
type Pending struct {
	token  string
	result chan codec.ControlMessage
}

// AckTable correlates command tokens with their pending acknowledgements.
// The read loop resolves entries concurrently with the sequencer awaiting
// them, hence the concurrent map.
type AckTable struct {
	pending *hashmap.Map[string, *Pending]
}

func NewAckTable() *AckTable {
	return &AckTable{pending: hashmap.New[string, *Pending]()}
}

// Register creates a pending acknowledgement for token. A stale entry for
// the same token (possible after a timed-out step) is replaced and failed.
func (t *AckTable) Register(token string) *Pending {
	p := &Pending{token: token, result: make(chan codec.ControlMessage, 1)}
	if old, ok := t.pending.Get(token); ok {
		t.pending.Del(token)
		old.fail("superseded")
	}
	t.pending.Set(token, p)
	return p
}

// Resolve completes the pending acknowledgement matching msg. An empty
// token targets the oldest (and in practice only) pending entry, since
// the sequencer runs steps strictly one at a time. Returns false when
// nothing matched, which the read loop logs and drops.
func (t *AckTable) Resolve(msg codec.ControlMessage) bool {
	token := msg.Token
	if token == "" {
		t.pending.Range(func(k string, _ *Pending) bool {
			token = k
			return false
		})
		if token == "" {
			return false
		}
	}
	p, ok := t.pending.Get(token)
	if !ok {
		return false
	}
	t.pending.Del(token)
	select {
	case p.result <- msg:
	default:
	}
	return true
}

// FailAll resolves every pending acknowledgement negatively. Called on
// disconnect so no await outlives the session.
func (t *AckTable) FailAll(reason string) {
	t.pending.Range(func(token string, p *Pending) bool {
		t.pending.Del(token)
		p.fail(reason)
		return true
	})
}

// Discard drops the pending entry without resolving it (soft-ack timeout:
// the reply may still arrive later and must not confuse the next step).
func (t *AckTable) Discard(p *Pending) {
	t.pending.Del(p.token)
}

func (p *Pending) fail(reason string) {
	select {
	case p.result <- codec.ControlMessage{Token: p.token, OK: false, Reason: reason}:
	default:
	}
}

// Await blocks until the acknowledgement resolves, the timeout elapses, or
// ctx is cancelled. Bounded: it never outlives timeout.
func (t *AckTable) Await(ctx context.Context, p *Pending, timeout time.Duration) (codec.ControlMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-p.result:
		return msg, nil
	case <-timer.C:
		t.Discard(p)
		return codec.ControlMessage{}, ErrAckTimeout
	case <-ctx.Done():
		t.Discard(p)
		return codec.ControlMessage{}, ErrAckCancelled
	}
}
