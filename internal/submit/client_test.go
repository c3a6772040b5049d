package submit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/silensess-backend/internal/logging"
	"github.com/Vasu1712/silensess-backend/internal/metrics"
	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/storage"
	"github.com/Vasu1712/silensess-backend/internal/storage/memory"
	"github.com/Vasu1712/silensess-backend/internal/wire"
)

type captured struct {
	path        string
	contentType string
	body        []byte
}

func newServer(t *testing.T, status int, reply string) (*httptest.Server, chan captured) {
	t.Helper()
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- captured{path: r.URL.Path, contentType: r.Header.Get("Content-Type"), body: b}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func runConfig() models.RunConfig {
	return models.RunConfig{
		SaveMode:       models.SaveModeStandard,
		NumNetworks:    1,
		Density:        3,
		IterationLimit: 10,
		AgentConfigs:   []models.AgentTypeConfig{{Count: 4}},
	}
}

func TestSubmitRun_StoresChannel(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, "  chan-42\n")
	store := memory.NewStore(logging.Discard())
	m := metrics.New(prometheus.NewRegistry())
	c := New(srv.URL+"/", time.Second, store, logging.Discard(), m)

	id, err := c.SubmitRun(context.Background(), runConfig())
	require.NoError(t, err)
	assert.Equal(t, "chan-42", id)

	req := <-got
	assert.Equal(t, "/run", req.path)
	assert.Equal(t, "application/octet-stream", req.contentType)
	want, err := wire.EncodeRun(runConfig())
	require.NoError(t, err)
	assert.Equal(t, want, req.body)

	stored, err := store.ChannelID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "chan-42", stored)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("run", "ok")))
}

func TestSubmitCustom_PostsToCustom(t *testing.T) {
	srv, got := newServer(t, http.StatusCreated, "c-1")
	c := New(srv.URL, time.Second, memory.NewStore(nil), nil, nil)

	cfg := models.CustomNetworkConfig{
		NetworkName:    "pair",
		IterationLimit: 5,
		Agents:         []models.CustomAgent{{Name: "a"}, {Name: "b"}},
	}
	id, err := c.SubmitCustom(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "c-1", id)
	assert.Equal(t, "/custom", (<-got).path)
}

func TestSubmit_UnexpectedStatus(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest, "bad config")
	store := memory.NewStore(nil)
	m := metrics.New(prometheus.NewRegistry())
	c := New(srv.URL, time.Second, store, nil, m)

	_, err := c.SubmitRun(context.Background(), runConfig())
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "bad config")

	_, err = store.ChannelID(context.Background())
	assert.ErrorIs(t, err, storage.ErrNoChannel)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("run", "error")))
}

func TestSubmit_EmptyChannel(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, "   ")
	c := New(srv.URL, time.Second, memory.NewStore(nil), nil, nil)

	_, err := c.SubmitRun(context.Background(), runConfig())
	assert.ErrorIs(t, err, ErrEmptyChannel)
}

func TestSubmit_InvalidConfigNeverSent(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, "x")
	c := New(srv.URL, time.Second, memory.NewStore(nil), nil, nil)

	cfg := runConfig()
	cfg.IterationLimit = 0
	_, err := c.SubmitRun(context.Background(), cfg)
	require.Error(t, err)
	assert.Empty(t, got)
}
