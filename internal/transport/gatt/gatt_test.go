package gatt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyQueueDeliversInOrder(t *testing.T) {
	q := newNotifyQueue(4)
	q.push([]byte("a"))
	q.push([]byte("b"))

	assert.Equal(t, []byte("a"), <-q.ch)
	assert.Equal(t, []byte("b"), <-q.ch)
}

func TestNotifyQueueDropsOldestWhenFull(t *testing.T) {
	q := newNotifyQueue(2)
	q.push([]byte("a"))
	q.push([]byte("b"))
	q.push([]byte("c")) // displaces "a"

	assert.Equal(t, []byte("b"), <-q.ch)
	assert.Equal(t, []byte("c"), <-q.ch)
}

func TestNotifyQueuePushAfterCloseIsDropped(t *testing.T) {
	q := newNotifyQueue(4)
	q.push([]byte("a"))
	q.close()

	// Must not panic on the closed channel.
	q.push([]byte("late"))

	p, ok := <-q.ch
	require.True(t, ok)
	assert.Equal(t, []byte("a"), p)

	_, ok = <-q.ch
	assert.False(t, ok, "queue must be closed after draining")
}

func TestNotifyQueueCloseIsIdempotent(t *testing.T) {
	q := newNotifyQueue(1)
	q.close()
	q.close()
}

// A notification arriving while the transport shuts down must be dropped,
// never sent on a closed channel.
func TestNotifyQueueConcurrentPushAndClose(t *testing.T) {
	for i := 0; i < 100; i++ {
		q := newNotifyQueue(1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				q.push([]byte{byte(j)})
			}
		}()
		go func() {
			defer wg.Done()
			q.close()
		}()
		wg.Wait()
	}
}
