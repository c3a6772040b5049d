// Package ingest decouples telemetry arrival from state updates: decoded
// frames accumulate in a FrameQueue and a Scheduler drains them as one
// batch per render interval.
package ingest

import (
	"sync"

	"github.com/Vasu1712/silensess-backend/internal/models"
)

// UnlimitedDepth disables the queue bound.
const UnlimitedDepth = 0

// FrameQueue is a FIFO of decoded frames shared between the transport
// reader (Push) and the scheduler (Drain).
//
// When MaxDepth is positive and a push would exceed it, the oldest queued
// frame is discarded and counted in Dropped.
type FrameQueue struct {
	mu       sync.Mutex
	frames   []models.SimulationFrame
	maxDepth int
	dropped  uint64
}

// NewFrameQueue returns an empty queue bounded at maxDepth frames
// (UnlimitedDepth for no bound).
func NewFrameQueue(maxDepth int) *FrameQueue {
	if maxDepth < 0 {
		maxDepth = UnlimitedDepth
	}
	return &FrameQueue{maxDepth: maxDepth}
}

// Push appends f. It reports whether an older frame was evicted to make room.
func (q *FrameQueue) Push(f models.SimulationFrame) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxDepth > 0 && len(q.frames) >= q.maxDepth {
		q.frames[0] = models.SimulationFrame{}
		q.frames = q.frames[1:]
		q.dropped++
		evicted = true
	}
	q.frames = append(q.frames, f)
	return evicted
}

// Drain swaps out the entire queue contents, leaving it empty for new
// arrivals. The returned slice is owned by the caller.
func (q *FrameQueue) Drain() []models.SimulationFrame {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.frames
	q.frames = nil
	return batch
}

// Reset discards every queued frame and returns how many were discarded.
func (q *FrameQueue) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.frames)
	q.frames = nil
	return n
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns the number of frames evicted by the depth bound.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *FrameQueue) MaxDepth() int { return q.maxDepth }
