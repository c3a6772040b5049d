// Package session owns one telemetry connection and the state built from
// it: the frame queue, the render scheduler, the round history, the latest
// frame and the message counter.
//
// Public operations never return errors. Failures are logged and leave the
// session Disconnected.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Vasu1712/silensess-backend/internal/clock"
	"github.com/Vasu1712/silensess-backend/internal/history"
	"github.com/Vasu1712/silensess-backend/internal/ingest"
	"github.com/Vasu1712/silensess-backend/internal/metrics"
	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/storage"
	"github.com/Vasu1712/silensess-backend/internal/wire"
	"github.com/Vasu1712/silensess-backend/internal/ws"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ReconnectPolicy controls automatic reconnection after an unexpected
// transport close or a failed dial. Disabled by default.
type ReconnectPolicy struct {
	Enabled        bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Options struct {
	WSURL         string
	FPS           int
	TickInterval  time.Duration
	MaxQueueDepth int
	DialTimeout   time.Duration
	Reconnect     ReconnectPolicy

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Dialer  *websocket.Dialer
}

// Status is a point-in-time summary of the session.
type Status struct {
	State        string `json:"state"`
	Connected    bool   `json:"connected"`
	ChannelID    string `json:"channelId,omitempty"`
	MessageCount int    `json:"messageCount"`
	Rounds       int    `json:"rounds"`
	LatestRound  *int   `json:"latestRound"`
	QueueDepth   int    `json:"queueDepth"`
	Dropped      uint64 `json:"dropped"`
}

type Session struct {
	opts     Options
	channels storage.ChannelStore
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	dialer   *websocket.Dialer

	queue *ingest.FrameQueue
	sched *ingest.Scheduler
	agg   *history.Aggregator

	decodeLog rate.Sometimes

	// mu guards the rendered state and is held by the scheduler across
	// drain and apply, so ClearData cannot interleave with a batch.
	mu        sync.Mutex
	latest    models.SimulationFrame
	hasLatest bool
	count     int

	// connMu guards the connection lifecycle.
	connMu     sync.Mutex
	state      atomic.Int32
	conn       *websocket.Conn
	channelID  string
	gen        uint64
	curGen     atomic.Uint64
	dialCancel context.CancelFunc
	readerDone chan struct{}
	retry      clock.Timer
	backoff    time.Duration
	closed     bool
	active     atomic.Value // string: channel of the live connection

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

// New builds a Disconnected session that reads its channel id from channels.
func New(channels storage.ChannelStore, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Reconnect.InitialBackoff <= 0 {
		opts.Reconnect.InitialBackoff = time.Second
	}
	if opts.Reconnect.MaxBackoff < opts.Reconnect.InitialBackoff {
		opts.Reconnect.MaxBackoff = 60 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = ws.NewTelemetryDialer(opts.DialTimeout)
	}

	s := &Session{
		opts:      opts,
		channels:  channels,
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "session"),
		metrics:   opts.Metrics,
		dialer:    opts.Dialer,
		queue:     ingest.NewFrameQueue(opts.MaxQueueDepth),
		agg:       history.NewAggregator(),
		decodeLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		observers: make(map[int]Observer),
	}
	s.sched = ingest.NewScheduler(s.queue, s.clock, ingest.SchedulerConfig{
		FPS:          opts.FPS,
		TickInterval: opts.TickInterval,
		Guard:        &s.mu,
	}, s.applyBatch)
	return s
}

// Connect closes any existing transport, looks up the current channel id
// and opens the telemetry stream. It blocks until the handshake finishes
// or fails.
func (s *Session) Connect(ctx context.Context) {
	s.connMu.Lock()
	if s.closed {
		s.connMu.Unlock()
		s.logger.Warn("connect ignored: session closed")
		return
	}
	s.stopRetryLocked()
	prevDone := s.closeConnLocked()
	gen := s.gen
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	s.dialCancel = cancel
	s.setStateLocked(Connecting)
	s.connMu.Unlock()

	if prevDone != nil {
		<-prevDone
	}
	s.notifyState(Connecting)

	channelID, err := s.channels.ChannelID(dialCtx)
	if err != nil {
		if errors.Is(err, storage.ErrNoChannel) {
			s.logger.Warn("no channel id available, submit a simulation first")
			s.countConnect("no_channel")
		} else {
			s.logger.Error("channel id lookup failed", "err", err)
			s.countConnect("error")
		}
		s.failConnect(gen, false)
		return
	}

	s.logger.Info("connecting to telemetry stream", "channel", channelID, "url", s.opts.WSURL)
	conn, err := ws.DialTelemetry(dialCtx, s.dialer, s.opts.WSURL, channelID)
	if err != nil {
		s.logger.Error("telemetry dial failed", "channel", channelID, "err", err)
		s.countConnect("error")
		s.failConnect(gen, true)
		return
	}
	if sp := conn.Subprotocol(); sp != wire.FrameSubprotocol {
		s.logger.Warn("server did not confirm frame subprotocol", "want", wire.FrameSubprotocol, "got", sp)
	}

	s.connMu.Lock()
	if s.gen != gen || s.closed {
		s.connMu.Unlock()
		conn.Close()
		s.logger.Debug("discarding superseded connection", "channel", channelID)
		return
	}
	s.dialCancel = nil
	cancel()
	s.conn = conn
	s.channelID = channelID
	s.active.Store(channelID)
	s.backoff = 0
	s.setStateLocked(Connected)
	s.sched.Start(s.clock.Now())
	done := make(chan struct{})
	s.readerDone = done
	go s.readLoop(conn, gen, done)
	s.connMu.Unlock()

	s.countConnect("ok")
	s.logger.Info("telemetry stream connected", "channel", channelID)
	s.notifyState(Connected)
}

// Disconnect closes the transport and stops the scheduler. It is a no-op
// when already disconnected and never clears data. Once it returns no
// further batch is applied.
func (s *Session) Disconnect() {
	s.connMu.Lock()
	s.stopRetryLocked()
	s.backoff = 0
	was := State(s.state.Load())
	done := s.closeConnLocked()
	s.connMu.Unlock()

	if done != nil {
		<-done
	}
	if was != Disconnected {
		s.logger.Info("telemetry stream disconnected")
		s.notifyState(Disconnected)
	}
}

// ClearData empties the queue, the history, the latest frame and the
// message counter. The connection is left as it is.
func (s *Session) ClearData() {
	s.mu.Lock()
	dropped := s.queue.Reset()
	s.agg.Reset()
	s.latest = models.SimulationFrame{}
	s.hasLatest = false
	s.count = 0
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.QueueDepth.Set(0)
		s.metrics.Rounds.Set(0)
	}
	s.logger.Info("simulation data cleared", "discarded_frames", dropped)
	s.notifyClear()
}

// Restore replaces the round history with records, e.g. from a snapshot.
// The message counter and latest frame are left untouched.
func (s *Session) Restore(records []models.RoundRecord) {
	s.mu.Lock()
	s.agg.Restore(records)
	n := s.agg.Len()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Rounds.Set(float64(n))
	}
	s.logger.Info("history restored", "rounds", n)
	s.notifyClear()
}

// Close tears the session down: it disconnects, drops all data and
// releases observers. The session cannot be reconnected afterwards.
func (s *Session) Close() {
	s.connMu.Lock()
	s.closed = true
	s.connMu.Unlock()

	s.Disconnect()
	s.ClearData()

	s.obsMu.Lock()
	s.observers = make(map[int]Observer)
	s.obsMu.Unlock()
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Connected() bool { return s.State() == Connected }

// ChannelID returns the channel of the current or last connection.
func (s *Session) ChannelID() string {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.channelID
}

// Latest returns the most recently applied frame.
func (s *Session) Latest() (models.SimulationFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLatest
}

func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// History returns every round, ascending.
func (s *Session) History() []models.RoundRecord { return s.agg.History() }

func (s *Session) Round(round int) (models.RoundRecord, bool) { return s.agg.Round(round) }

func (s *Session) LatestRound() (int, bool) { return s.agg.LatestRound() }

func (s *Session) AgentKeys() []string { return s.agg.AgentKeys() }

func (s *Session) Status() Status {
	st := s.State()
	out := Status{
		State:      st.String(),
		Connected:  st == Connected,
		ChannelID:  s.ChannelID(),
		Rounds:     s.agg.Len(),
		QueueDepth: s.queue.Len(),
		Dropped:    s.queue.Dropped(),
	}
	out.MessageCount = s.MessageCount()
	if r, ok := s.agg.LatestRound(); ok {
		out.LatestRound = &r
	}
	return out
}

// applyBatch runs on the scheduler goroutine with s.mu held.
func (s *Session) applyBatch(batch []models.SimulationFrame) {
	s.latest = batch[len(batch)-1]
	s.hasLatest = true
	s.count += len(batch)
	touched := s.agg.FoldAll(batch)

	if s.metrics != nil {
		s.metrics.Batches.Inc()
		s.metrics.BatchSize.Observe(float64(len(batch)))
		s.metrics.QueueDepth.Set(float64(s.queue.Len()))
		s.metrics.Rounds.Set(float64(s.agg.Len()))
	}

	channel, _ := s.active.Load().(string)
	s.notifyBatch(BatchEvent{
		ChannelID:    channel,
		Latest:       s.latest,
		MessageCount: s.count,
		BatchSize:    len(batch),
		Rounds:       s.agg.Rounds(touched),
	})
}

func (s *Session) readLoop(conn *websocket.Conn, gen uint64, done chan<- struct{}) {
	defer close(done)
	for {
		mt, data, err := conn.ReadMessage()
		if s.curGen.Load() != gen {
			return
		}
		if err != nil {
			s.transportEnded(gen, err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		f, err := wire.DecodeFrame(data, s.clock.Now())
		if err != nil {
			if s.metrics != nil {
				s.metrics.DecodeErrors.Inc()
			}
			s.decodeLog.Do(func() {
				s.logger.Warn("dropping undecodable frame", "bytes", len(data), "err", err)
			})
			continue
		}
		if s.queue.Push(f) && s.metrics != nil {
			s.metrics.FramesEvicted.Inc()
		}
		if s.metrics != nil {
			s.metrics.FramesReceived.Inc()
		}
	}
}

// transportEnded handles a close or error reported by the reader of
// connection gen.
func (s *Session) transportEnded(gen uint64, err error) {
	s.connMu.Lock()
	if s.gen != gen {
		s.connMu.Unlock()
		return
	}
	s.closeConnLocked()
	// A normal close means the run finished; only failures are retried.
	finished := websocket.IsCloseError(err, websocket.CloseNormalClosure)
	if finished {
		s.backoff = 0
	} else {
		s.scheduleRetryLocked()
	}
	s.connMu.Unlock()

	if finished || websocket.IsCloseError(err, websocket.CloseGoingAway) {
		s.logger.Info("telemetry stream closed by server", "err", err)
	} else {
		s.logger.Error("telemetry stream failed", "err", err)
	}
	s.notifyState(Disconnected)
}

func (s *Session) failConnect(gen uint64, retry bool) {
	s.connMu.Lock()
	if s.gen != gen {
		s.connMu.Unlock()
		return
	}
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.setStateLocked(Disconnected)
	if retry {
		s.scheduleRetryLocked()
	}
	s.connMu.Unlock()
	s.notifyState(Disconnected)
}

// closeConnLocked fences off the current connection generation, closes the
// transport and stops the scheduler. It returns the old reader's done
// channel, which the caller waits on after releasing connMu.
func (s *Session) closeConnLocked() <-chan struct{} {
	s.gen++
	s.curGen.Store(s.gen)
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	var done <-chan struct{}
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
		s.conn = nil
		done = s.readerDone
		s.readerDone = nil
	}
	s.sched.Stop()
	s.setStateLocked(Disconnected)
	return done
}

func (s *Session) setStateLocked(st State) {
	s.state.Store(int32(st))
	if s.metrics != nil {
		s.metrics.ConnectionState.Set(float64(st))
	}
}

func (s *Session) scheduleRetryLocked() {
	p := s.opts.Reconnect
	if !p.Enabled || s.closed {
		return
	}
	if s.backoff == 0 {
		s.backoff = p.InitialBackoff
	} else {
		s.backoff *= 2
		if s.backoff > p.MaxBackoff {
			s.backoff = p.MaxBackoff
		}
	}
	delay := s.backoff
	s.logger.Info("scheduling reconnect", "in", delay)
	s.retry = s.clock.AfterFunc(delay, func() {
		s.Connect(context.Background())
	})
}

func (s *Session) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Session) countConnect(result string) {
	if s.metrics != nil {
		s.metrics.ConnectAttempts.WithLabelValues(result).Inc()
	}
}
