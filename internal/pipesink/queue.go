package pipesink

import (
	"sync"

	"github.com/AcenoTecnologia/tuxniffer/internal/output"
)

// boundedQueue is each worker's private drop-oldest queue (spec §5): a
// single mutex, no condition variables, busy-wait on the consumer side.
// Kept separate from the coordinator's own queue since every pipe sink
// owns an independent backlog, the same way PipePacketHandler does in the
// original.
type boundedQueue struct {
	mu       sync.Mutex
	items    []output.QueuedFrame
	capacity int
	dropped  int64
}

func newBoundedQueue(capacity int) *boundedQueue {
	return &boundedQueue{capacity: capacity}
}

func (q *boundedQueue) Push(item output.QueuedFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, item)
}

func (q *boundedQueue) Pop() (item output.QueuedFrame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *boundedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
