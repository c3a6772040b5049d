package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/silensess-backend/internal/clock"
	"github.com/Vasu1712/silensess-backend/internal/logging"
	"github.com/Vasu1712/silensess-backend/internal/metrics"
	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/storage/memory"
	"github.com/Vasu1712/silensess-backend/internal/wire"
)

const waitFor = 2 * time.Second

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// simServer stands in for the simulation engine's telemetry endpoint.
type simServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	paths chan string
}

func newSimServer(t *testing.T) *simServer {
	t.Helper()
	s := &simServer{
		conns: make(chan *websocket.Conn, 8),
		paths: make(chan string, 8),
	}
	up := websocket.Upgrader{Subprotocols: []string{wire.FrameSubprotocol}}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.paths <- r.URL.Path
		s.conns <- conn
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *simServer) url() string { return "ws" + strings.TrimPrefix(s.srv.URL, "http") }

func (s *simServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(waitFor):
		t.Fatal("no telemetry connection accepted")
		return nil
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	batches []BatchEvent
	states  []State
	clears  int
}

func (o *recordingObserver) OnBatch(ev BatchEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, ev)
}

func (o *recordingObserver) OnStateChange(st State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, st)
}

func (o *recordingObserver) OnClear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clears++
}

func (o *recordingObserver) lastState() (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.states) == 0 {
		return Disconnected, false
	}
	return o.states[len(o.states)-1], true
}

func (o *recordingObserver) batchCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.batches)
}

type fixture struct {
	sess    *Session
	clock   *clock.FakeClock
	store   *memory.Store
	metrics *metrics.Metrics
	obs     *recordingObserver
}

func newFixture(t *testing.T, wsURL string, policy ReconnectPolicy) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.Fake(epoch),
		store:   memory.NewStore(logging.Discard()),
		metrics: metrics.New(prometheus.NewRegistry()),
		obs:     &recordingObserver{},
	}
	f.sess = New(f.store, Options{
		WSURL:         wsURL,
		FPS:           5,
		TickInterval:  16 * time.Millisecond,
		MaxQueueDepth: 100,
		DialTimeout:   time.Second,
		Reconnect:     policy,
		Clock:         f.clock,
		Logger:        logging.Discard(),
		Metrics:       f.metrics,
	})
	f.sess.Subscribe(f.obs)
	t.Cleanup(f.sess.Close)
	return f
}

func (f *fixture) connect(t *testing.T, channel string) {
	t.Helper()
	require.NoError(t, f.store.SetChannelID(context.Background(), channel))
	f.sess.Connect(context.Background())
	require.Equal(t, Connected, f.sess.State())
}

// render advances past one render interval and waits for the batch.
func (f *fixture) render(t *testing.T, wantCount int) {
	t.Helper()
	f.clock.Advance(250 * time.Millisecond)
	require.Eventually(t, func() bool { return f.sess.MessageCount() == wantCount },
		waitFor, 5*time.Millisecond)
}

func sendFrame(t *testing.T, conn *websocket.Conn, fr models.SimulationFrame) {
	t.Helper()
	b, err := wire.EncodeFrame(fr)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, b))
}

func testFrame(round, indexRef int, beliefs []float32, speaking []bool) models.SimulationFrame {
	return models.SimulationFrame{
		RunID:            1,
		NumberOfAgents:   len(beliefs),
		Round:            round,
		IndexReference:   indexRef,
		Beliefs:          beliefs,
		PrivateBeliefs:   beliefs,
		SpeakingStatuses: speaking,
	}
}

func TestSession_ConnectReceiveAggregate(t *testing.T) {
	sim := newSimServer(t)
	f := newFixture(t, sim.url(), ReconnectPolicy{})

	f.connect(t, "chan-1")
	assert.Equal(t, "/ws/chan-1", <-sim.paths)
	server := sim.accept(t)

	sendFrame(t, server, testFrame(7, 3, []float32{0.25, 0.75}, []bool{true, false}))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	sendFrame(t, server, testFrame(7, 5, []float32{0.5}, []bool{true}))

	require.Eventually(t, func() bool { return f.sess.queue.Len() == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DecodeErrors))

	f.render(t, 2)

	latest, ok := f.sess.Latest()
	require.True(t, ok)
	assert.Equal(t, 5, latest.IndexReference)

	h := f.sess.History()
	require.Len(t, h, 1)
	assert.Equal(t, map[int]float32{3: 0.25, 4: 0.75, 5: 0.5}, h[0].Beliefs)
	assert.Equal(t, map[int]bool{3: true, 4: false, 5: true}, h[0].Speaking)
	assert.Equal(t, float32(0.75), *h[0].Max)
	assert.Equal(t, float32(0.25), *h[0].Min)
	assert.Equal(t, []string{"agent3", "agent4", "agent5"}, f.sess.AgentKeys())

	st := f.sess.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, "chan-1", st.ChannelID)
	require.NotNil(t, st.LatestRound)
	assert.Equal(t, 7, *st.LatestRound)
}

func TestSession_BurstAppliedAsOneBatch(t *testing.T) {
	sim := newSimServer(t)
	f := newFixture(t, sim.url(), ReconnectPolicy{})
	f.connect(t, "chan-1")
	server := sim.accept(t)

	const n = 10
	for r := 0; r < n; r++ {
		sendFrame(t, server, testFrame(r, 0, []float32{float32(r) / n}, []bool{true}))
	}
	require.Eventually(t, func() bool { return f.sess.queue.Len() == n }, waitFor, 5*time.Millisecond)

	f.render(t, n)

	require.Equal(t, 1, f.obs.batchCount())
	ev := f.obs.batches[0]
	assert.Equal(t, n, ev.BatchSize)
	assert.Equal(t, n, ev.MessageCount)
	assert.Equal(t, n-1, ev.Latest.Round)
	assert.Len(t, ev.Rounds, n)

	latest, _ := f.sess.Latest()
	assert.Equal(t, n-1, latest.Round)
}

func TestSession_ClearDataKeepsConnection(t *testing.T) {
	sim := newSimServer(t)
	f := newFixture(t, sim.url(), ReconnectPolicy{})
	f.connect(t, "chan-1")
	server := sim.accept(t)

	sendFrame(t, server, testFrame(1, 0, []float32{0.1}, []bool{true}))
	require.Eventually(t, func() bool { return f.sess.queue.Len() == 1 }, waitFor, 5*time.Millisecond)
	f.render(t, 1)

	f.sess.ClearData()

	assert.Empty(t, f.sess.History())
	_, ok := f.sess.Latest()
	assert.False(t, ok)
	assert.Zero(t, f.sess.MessageCount())
	assert.True(t, f.sess.Connected())
	assert.Equal(t, 1, f.obs.clears)

	// the stream keeps flowing into the emptied state
	sendFrame(t, server, testFrame(2, 0, []float32{0.2}, []bool{true}))
	require.Eventually(t, func() bool { return f.sess.queue.Len() == 1 }, waitFor, 5*time.Millisecond)
	f.render(t, 1)
	assert.Len(t, f.sess.History(), 1)
}

func TestSession_ConnectTwiceClosesPriorTransport(t *testing.T) {
	sim := newSimServer(t)
	f := newFixture(t, sim.url(), ReconnectPolicy{})

	f.connect(t, "chan-1")
	first := sim.accept(t)

	f.sess.Connect(context.Background())
	require.Equal(t, Connected, f.sess.State())
	sim.accept(t)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// only the live connection's scheduler ticker remains
	assert.Equal(t, 1, f.clock.Pending())
}

func TestSession_DisconnectIsIdempotent(t *testing.T) {
	sim := newSimServer(t)
	f := newFixture(t, sim.url(), ReconnectPolicy{})

	f.sess.Disconnect()
	assert.Equal(t, Disconnected, f.sess.State())

	f.connect(t, "chan-1")
	sim.accept(t)
	f.sess.Disconnect()
	f.sess.Disconnect()

	assert.Equal(t, Disconnected, f.sess.State())
	assert.False(t, f.sess.sched.Running())
	assert.Zero(t, f.clock.Pending())
}

func TestSession_NothingAppliedAfterDisconnect(t *testing.T) {
	sim := newSimServer(t)
	f := newFixture(t, sim.url(), ReconnectPolicy{})
	f.connect(t, "chan-1")
	server := sim.accept(t)

	sendFrame(t, server, testFrame(1, 0, []float32{0.1}, []bool{true}))
	require.Eventually(t, func() bool { return f.sess.queue.Len() == 1 }, waitFor, 5*time.Millisecond)

	f.sess.Disconnect()
	f.clock.Advance(time.Second)

	assert.Zero(t, f.sess.MessageCount())
	assert.Zero(t, f.obs.batchCount())
	// queued frames stay until cleared
	assert.Equal(t, 1, f.sess.queue.Len())
}

func TestSession_ConnectWithoutChannel(t *testing.T) {
	f := newFixture(t, "ws://127.0.0.1:1", ReconnectPolicy{Enabled: true})

	f.sess.Connect(context.Background())

	assert.Equal(t, Disconnected, f.sess.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConnectAttempts.WithLabelValues("no_channel")))
	assert.Zero(t, f.clock.Pending(), "no retry without a channel")
}

func TestSession_DialFailureLeavesDisconnected(t *testing.T) {
	sim := newSimServer(t)
	url := sim.url()
	sim.srv.Close()

	f := newFixture(t, url, ReconnectPolicy{})
	require.NoError(t, f.store.SetChannelID(context.Background(), "chan-1"))
	f.sess.Connect(context.Background())

	assert.Equal(t, Disconnected, f.sess.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConnectAttempts.WithLabelValues("error")))
	assert.Zero(t, f.clock.Pending())
}

func TestSession_ServerCloseStopsScheduler(t *testing.T) {
	sim := newSimServer(t)
	f := newFixture(t, sim.url(), ReconnectPolicy{})
	f.connect(t, "chan-1")
	server := sim.accept(t)

	require.NoError(t, server.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")))
	server.Close()

	require.Eventually(t, func() bool { return f.sess.State() == Disconnected }, waitFor, 5*time.Millisecond)
	assert.False(t, f.sess.sched.Running())
	assert.Zero(t, f.clock.Pending())
}

func TestSession_ReconnectWithBackoff(t *testing.T) {
	sim := newSimServer(t)
	f := newFixture(t, sim.url(), ReconnectPolicy{
		Enabled:        true,
		InitialBackoff: time.Second,
		MaxBackoff:     4 * time.Second,
	})
	f.connect(t, "chan-1")
	server := sim.accept(t)

	server.Close()
	require.Eventually(t, func() bool {
		return f.sess.State() == Disconnected && f.clock.Pending() == 1
	}, waitFor, 5*time.Millisecond)

	f.clock.Advance(999 * time.Millisecond)
	assert.Equal(t, Disconnected, f.sess.State())

	f.clock.Advance(time.Millisecond)
	assert.Equal(t, Connected, f.sess.State())
	sim.accept(t)

	// an explicit disconnect cancels pending retries
	f.sess.Disconnect()
	f.clock.Advance(time.Minute)
	assert.Equal(t, Disconnected, f.sess.State())
}

func TestSession_NormalCloseDoesNotReconnect(t *testing.T) {
	sim := newSimServer(t)
	f := newFixture(t, sim.url(), ReconnectPolicy{
		Enabled:        true,
		InitialBackoff: time.Second,
		MaxBackoff:     4 * time.Second,
	})
	f.connect(t, "chan-1")
	server := sim.accept(t)

	require.NoError(t, server.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete")))

	// The observer hears about the close only after the retry decision is made.
	require.Eventually(t, func() bool {
		st, ok := f.obs.lastState()
		return ok && st == Disconnected
	}, waitFor, 5*time.Millisecond)
	assert.Zero(t, f.clock.Pending(), "a finished run is not retried")

	f.clock.Advance(time.Minute)
	assert.Equal(t, Disconnected, f.sess.State())
	select {
	case <-sim.conns:
		t.Fatal("session dialled again after a normal close")
	default:
	}
}

func TestSession_BackoffDoublesUpToMax(t *testing.T) {
	f := newFixture(t, "ws://127.0.0.1:1", ReconnectPolicy{
		Enabled:        true,
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
	})
	f.sess.connMu.Lock()
	var got []time.Duration
	for i := 0; i < 4; i++ {
		f.sess.scheduleRetryLocked()
		got = append(got, f.sess.backoff)
		f.sess.stopRetryLocked()
	}
	f.sess.connMu.Unlock()

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, got)
}

func TestSession_CloseRejectsConnect(t *testing.T) {
	sim := newSimServer(t)
	f := newFixture(t, sim.url(), ReconnectPolicy{})
	f.connect(t, "chan-1")
	sim.accept(t)

	f.sess.Close()
	assert.Equal(t, Disconnected, f.sess.State())

	f.sess.Connect(context.Background())
	assert.Equal(t, Disconnected, f.sess.State())
}

func TestSession_Restore(t *testing.T) {
	f := newFixture(t, "ws://127.0.0.1:1", ReconnectPolicy{})
	rec := models.NewRoundRecord(4)
	rec.Beliefs[1] = 0.5
	rec.Speaking[1] = true

	f.sess.Restore([]models.RoundRecord{*rec})

	got, ok := f.sess.Round(4)
	require.True(t, ok)
	assert.Equal(t, float32(0.5), got.Beliefs[1])
	r, _ := f.sess.LatestRound()
	assert.Equal(t, 4, r)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
}
