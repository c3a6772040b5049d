package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Vasu1712/silensess-backend/internal/wire"
)

const (
	maxSubmissionBytes = 1 << 20
	writeWait          = 10 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// Options configures the synthetic runs.
type Options struct {
	Agents int
	Rounds int
	// Shard is the number of agents per frame.
	Shard int
	// Interval is the pause between rounds.
	Interval time.Duration
	// Seed fixes the belief sequence; zero picks a random one per run.
	Seed uint64
}

// Validate reports options that cannot produce a run.
func (o Options) Validate() error {
	var errs []error
	if o.Agents <= 0 {
		errs = append(errs, fmt.Errorf("agents must be positive, got %d", o.Agents))
	}
	if o.Rounds <= 0 {
		errs = append(errs, fmt.Errorf("rounds must be positive, got %d", o.Rounds))
	}
	if o.Shard < 0 {
		errs = append(errs, fmt.Errorf("shard must not be negative, got %d", o.Shard))
	}
	if o.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must not be negative, got %s", o.Interval))
	}
	return errors.Join(errs...)
}

type run struct {
	kind      string
	createdAt time.Time
}

// Server answers /run and /custom with a fresh channel id and streams a
// synthetic run on /ws/{channel}.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu   sync.Mutex
	runs map[string]run
}

func NewServer(opts Options, logger *slog.Logger) (*Server, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{wire.FrameSubprotocol},
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "replay"),
		runs:   make(map[string]run),
	}, nil
}

// Handler returns the HTTP routes of the stand-in server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/run", s.submit("run")).Methods(http.MethodPost)
	r.HandleFunc("/custom", s.submit("custom")).Methods(http.MethodPost)
	r.HandleFunc("/ws/{channel}", s.stream).Methods(http.MethodGet)
	return r
}

// Channels returns the number of channels handed out so far.
func (s *Server) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *Server) submit(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmissionBytes))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			http.Error(w, "Empty submission", http.StatusBadRequest)
			return
		}

		channel := uuid.NewString()
		s.mu.Lock()
		s.runs[channel] = run{kind: kind, createdAt: time.Now()}
		s.mu.Unlock()

		s.logger.Info("submission accepted", "kind", kind, "bytes", len(body), "channel", channel)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, channel+"\n")
	}
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	s.mu.Lock()
	submitted, ok := s.runs[channel]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Unknown channel", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "channel", channel, "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Control frames are only processed while reading.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	seed := s.opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	gen := NewGenerator(seed, s.opts.Agents, s.opts.Shard)
	s.logger.Info("streaming run", "channel", channel, "kind", submitted.kind,
		"submittedAgo", time.Since(submitted.createdAt).Round(time.Millisecond), "run", gen.RunID,
		"agents", gen.Agents, "rounds", s.opts.Rounds, "shard", gen.Shard)

	sent, err := s.send(ctx, conn, gen)
	if err != nil {
		s.logger.Info("stream ended early", "channel", channel, "frames", sent, "err", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"),
		time.Now().Add(writeWait))
	s.logger.Info("run complete", "channel", channel, "frames", sent)
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, gen *Generator) (int, error) {
	var tick <-chan time.Time
	if s.opts.Interval > 0 {
		t := time.NewTicker(s.opts.Interval)
		defer t.Stop()
		tick = t.C
	}

	sent := 0
	for round := 0; round < s.opts.Rounds; round++ {
		if round > 0 && tick != nil {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-tick:
			}
		}
		for _, f := range gen.Round(round) {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			payload, err := wire.EncodeFrame(f)
			if err != nil {
				return sent, err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return sent, err
			}
			sent++
		}
	}
	return sent, nil
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	// Streams are hijacked and outlive Shutdown unless their request
	// context ends with ctx.
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("replay server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
