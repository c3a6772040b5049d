package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/silensess-backend/internal/clock"
	"github.com/Vasu1712/silensess-backend/internal/models"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	batches [][]models.SimulationFrame
}

func (r *recorder) process(batch []models.SimulationFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) batch(i int) []models.SimulationFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[i]
}

func TestSchedulerConfig_RenderInterval(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, SchedulerConfig{FPS: 5}.RenderInterval())
	assert.Equal(t, 100*time.Millisecond, SchedulerConfig{FPS: 10}.RenderInterval())
	assert.Equal(t, 200*time.Millisecond, SchedulerConfig{}.RenderInterval())
}

func TestScheduler_TickThrottlesToRenderInterval(t *testing.T) {
	q := NewFrameQueue(UnlimitedDepth)
	rec := &recorder{}
	s := NewScheduler(q, clock.Fake(epoch), SchedulerConfig{FPS: 5}, rec.process)
	s.lastRender = epoch

	// 50 frames arriving over one second with 16ms ticks: at most five
	// render steps may run and every frame must reach the handler.
	pushed := 0
	for ms := 16; ms <= 1000; ms += 16 {
		if pushed < 50 {
			q.Push(frame(pushed))
			pushed++
		}
		s.tick(epoch.Add(time.Duration(ms) * time.Millisecond))
	}
	for pushed < 50 {
		q.Push(frame(pushed))
		pushed++
	}
	s.tick(epoch.Add(1200 * time.Millisecond))

	assert.LessOrEqual(t, rec.count(), 6)
	total := 0
	for i := 0; i < rec.count(); i++ {
		total += len(rec.batch(i))
	}
	assert.Equal(t, 50, total)
}

func TestScheduler_TickBeforeIntervalDoesNothing(t *testing.T) {
	q := NewFrameQueue(UnlimitedDepth)
	rec := &recorder{}
	s := NewScheduler(q, clock.Fake(epoch), SchedulerConfig{FPS: 5}, rec.process)
	s.lastRender = epoch

	q.Push(frame(1))
	assert.Zero(t, s.tick(epoch.Add(199*time.Millisecond)))
	assert.Equal(t, 1, q.Len())

	assert.Equal(t, 1, s.tick(epoch.Add(200*time.Millisecond)))
	assert.Equal(t, 0, q.Len())
	require.Equal(t, 1, rec.count())
}

func TestScheduler_EmptyQueueAdvancesRenderClock(t *testing.T) {
	q := NewFrameQueue(UnlimitedDepth)
	rec := &recorder{}
	s := NewScheduler(q, clock.Fake(epoch), SchedulerConfig{FPS: 5}, rec.process)
	s.lastRender = epoch

	assert.Zero(t, s.tick(epoch.Add(200*time.Millisecond)))
	q.Push(frame(1))
	assert.Zero(t, s.tick(epoch.Add(300*time.Millisecond)))
	assert.Equal(t, 1, s.tick(epoch.Add(400*time.Millisecond)))
	assert.Equal(t, 1, rec.count())
}

func TestScheduler_BatchKeepsArrivalOrder(t *testing.T) {
	q := NewFrameQueue(UnlimitedDepth)
	rec := &recorder{}
	s := NewScheduler(q, clock.Fake(epoch), SchedulerConfig{FPS: 5}, rec.process)
	s.lastRender = epoch

	for r := 1; r <= 5; r++ {
		q.Push(frame(r))
	}
	s.tick(epoch.Add(time.Second))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rounds(rec.batch(0)))
}

func TestScheduler_LoopDrivenByTicker(t *testing.T) {
	fc := clock.Fake(epoch)
	q := NewFrameQueue(UnlimitedDepth)
	rec := &recorder{}
	s := NewScheduler(q, fc, SchedulerConfig{FPS: 5, TickInterval: 16 * time.Millisecond}, rec.process)

	s.Start(fc.Now())
	defer s.Stop()
	require.True(t, s.Running())

	q.Push(frame(1))
	q.Push(frame(2))
	fc.Advance(208 * time.Millisecond)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2}, rounds(rec.batch(0)))
}

func TestScheduler_NothingProcessedAfterStop(t *testing.T) {
	fc := clock.Fake(epoch)
	q := NewFrameQueue(UnlimitedDepth)
	rec := &recorder{}
	s := NewScheduler(q, fc, SchedulerConfig{FPS: 5, TickInterval: 16 * time.Millisecond}, rec.process)

	s.Start(fc.Now())
	s.Stop()
	s.Stop()
	assert.False(t, s.Running())

	q.Push(frame(1))
	fc.Advance(time.Second)

	assert.Zero(t, rec.count())
	assert.Equal(t, 1, q.Len())
	assert.Zero(t, fc.Pending())
}

func TestScheduler_StartTwiceKeepsOneLoop(t *testing.T) {
	fc := clock.Fake(epoch)
	q := NewFrameQueue(UnlimitedDepth)
	rec := &recorder{}
	s := NewScheduler(q, fc, SchedulerConfig{FPS: 5, TickInterval: 16 * time.Millisecond}, rec.process)

	s.Start(fc.Now())
	s.Start(fc.Now())
	defer s.Stop()

	assert.Equal(t, 1, fc.Pending())
}

func TestScheduler_GuardHeldDuringBatch(t *testing.T) {
	var guard sync.Mutex
	q := NewFrameQueue(UnlimitedDepth)
	var locked bool
	s := NewScheduler(q, clock.Fake(epoch), SchedulerConfig{FPS: 5, Guard: &guard}, func([]models.SimulationFrame) {
		locked = !guard.TryLock()
	})
	s.lastRender = epoch

	q.Push(frame(1))
	s.tick(epoch.Add(time.Second))
	assert.True(t, locked)
	assert.True(t, guard.TryLock())
}
