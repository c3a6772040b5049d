package ingest

import (
	"sync"
	"time"

	"github.com/Vasu1712/silensess-backend/internal/clock"
	"github.com/Vasu1712/silensess-backend/internal/models"
)

const (
	// DefaultFPS is the number of state updates per second.
	DefaultFPS = 5
	// DefaultTickInterval approximates a 60Hz display refresh.
	DefaultTickInterval = time.Second / 60
)

// BatchFunc receives every frame drained in one render step, in arrival order.
type BatchFunc func(batch []models.SimulationFrame)

// SchedulerConfig controls the render cadence.
type SchedulerConfig struct {
	// FPS bounds how often batches are handed to the BatchFunc.
	FPS int
	// TickInterval is how often the scheduler wakes up to check whether
	// a render interval has elapsed.
	TickInterval time.Duration
	// Guard, if set, is held across draining the queue and running the
	// BatchFunc so a concurrent reset cannot interleave with a batch.
	Guard sync.Locker
}

// RenderInterval is 1000/FPS milliseconds.
func (c SchedulerConfig) RenderInterval() time.Duration {
	fps := c.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	return time.Second / time.Duration(fps)
}

// Scheduler drains a FrameQueue at most once per render interval.
//
// It wakes on every tick, returns early when less than RenderInterval has
// passed since the last render, and otherwise hands the whole queue to the
// BatchFunc as one batch. Start and Stop are idempotent; once Stop returns
// no further batch is processed.
type Scheduler struct {
	queue   *FrameQueue
	clock   clock.Clock
	cfg     SchedulerConfig
	process BatchFunc

	mu         sync.Mutex
	lastRender time.Time
	running    bool
	stop       chan struct{}
	done       chan struct{}
}

func NewScheduler(queue *FrameQueue, clk clock.Clock, cfg SchedulerConfig, process BatchFunc) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	return &Scheduler{
		queue:   queue,
		clock:   clk,
		cfg:     cfg,
		process: process,
	}
}

// Start resets the render clock to now and begins ticking. A second Start
// without an intervening Stop is a no-op.
func (s *Scheduler) Start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.lastRender = now
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.clock.NewTicker(s.cfg.TickInterval), s.stop, s.done)
}

// Stop cancels the recurring tick and waits for an in-flight batch to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ticker clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			select {
			case <-stop:
				return
			default:
			}
			s.tick(s.clock.Now())
		}
	}
}

// tick runs one scheduling step at now and returns the batch size handed
// to the BatchFunc (0 when throttled or idle).
func (s *Scheduler) tick(now time.Time) int {
	s.mu.Lock()
	if now.Sub(s.lastRender) < s.cfg.RenderInterval() {
		s.mu.Unlock()
		return 0
	}
	s.lastRender = now
	s.mu.Unlock()

	if s.cfg.Guard != nil {
		s.cfg.Guard.Lock()
		defer s.cfg.Guard.Unlock()
	}
	batch := s.queue.Drain()
	if len(batch) == 0 {
		return 0
	}
	s.process(batch)
	return len(batch)
}
