package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/mux"

	"github.com/Vasu1712/silensess-backend/internal/clock"
	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/session"
	"github.com/Vasu1712/silensess-backend/internal/storage"
	"github.com/Vasu1712/silensess-backend/internal/submit"
	"github.com/Vasu1712/silensess-backend/internal/ws"
)

// Session is the part of *session.Session the API drives.
type Session interface {
	Connect(ctx context.Context)
	Disconnect()
	ClearData()
	Restore(records []models.RoundRecord)
	Status() session.Status
	Latest() (models.SimulationFrame, bool)
	History() []models.RoundRecord
	Round(round int) (models.RoundRecord, bool)
	AgentKeys() []string
	ChannelID() string
}

// Submitter sends simulation configurations to the engine.
type Submitter interface {
	SubmitRun(ctx context.Context, cfg models.RunConfig) (string, error)
	SubmitCustom(ctx context.Context, cfg models.CustomNetworkConfig) (string, error)
}

// SimulationHandler holds the dependencies of the simulation HTTP API.
type SimulationHandler struct {
	Session   Session
	Submitter Submitter
	Channels  storage.ChannelStore
	Snapshots storage.SnapshotStore
	Hub       *ws.Hub
	Clock     clock.Clock
	// ConnectDelay is how long to wait after a successful submission
	// before connecting to the new channel.
	ConnectDelay time.Duration
	Logger       *slog.Logger
}

type historyResponse struct {
	AgentKeys []string         `json:"agentKeys"`
	Rounds    []map[string]any `json:"rounds"`
}

type submitResponse struct {
	ChannelID      string `json:"channelId"`
	ConnectAfterMs int64  `json:"connectAfterMs"`
}

type channelRequest struct {
	ChannelID string `json:"channelId"`
}

func (h *SimulationHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Connect opens the telemetry stream for the stored channel id. It answers
// 502 with the resulting status when the connection could not be opened.
func (h *SimulationHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.Session.Connect(r.Context())
	st := h.Session.Status()
	if !st.Connected {
		writeJSON(w, http.StatusBadGateway, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *SimulationHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.Session.Disconnect()
	writeJSON(w, http.StatusOK, h.Session.Status())
}

func (h *SimulationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.Session.ClearData()
	writeJSON(w, http.StatusOK, h.Session.Status())
}

func (h *SimulationHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.Status())
}

// Latest returns the most recently applied frame, or 404 before the first batch.
func (h *SimulationHandler) Latest(w http.ResponseWriter, r *http.Request) {
	f, ok := h.Session.Latest()
	if !ok {
		http.Error(w, "No frame received yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// History returns chart rows in round order. With ?format=cbor it returns
// the raw records CBOR-encoded instead.
func (h *SimulationHandler) History(w http.ResponseWriter, r *http.Request) {
	records := h.Session.History()

	if strings.EqualFold(r.URL.Query().Get("format"), "cbor") {
		payload, err := cbor.Marshal(records)
		if err != nil {
			h.logger().Error("encoding history as cbor", "err", err)
			http.Error(w, "Failed to encode history", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/cbor")
		_, _ = w.Write(payload)
		return
	}

	resp := historyResponse{
		AgentKeys: h.Session.AgentKeys(),
		Rounds:    make([]map[string]any, len(records)),
	}
	for i, rec := range records {
		resp.Rounds[i] = rec.ChartPoint()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SimulationHandler) Round(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.Atoi(mux.Vars(r)["round"])
	if err != nil {
		http.Error(w, "Invalid round", http.StatusBadRequest)
		return
	}
	rec, ok := h.Session.Round(round)
	if !ok {
		http.Error(w, "Round not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec.ChartPoint())
}

func (h *SimulationHandler) Agents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"agentKeys": h.Session.AgentKeys()})
}

// snapshotChannel picks ?channel=, then the session's channel, then the
// stored channel id.
func (h *SimulationHandler) snapshotChannel(r *http.Request) (string, error) {
	if c := r.URL.Query().Get("channel"); c != "" {
		return c, nil
	}
	if c := h.Session.ChannelID(); c != "" {
		return c, nil
	}
	return h.Channels.ChannelID(r.Context())
}

// SaveSnapshot persists the current history under the active channel.
func (h *SimulationHandler) SaveSnapshot(w http.ResponseWriter, r *http.Request) {
	channel, err := h.snapshotChannel(r)
	if err != nil {
		http.Error(w, "No channel to snapshot", http.StatusConflict)
		return
	}
	records := h.Session.History()
	if err := h.Snapshots.SaveSnapshot(r.Context(), channel, records); err != nil {
		h.logger().Error("saving snapshot", "channel", channel, "err", err)
		http.Error(w, "Failed to save snapshot", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"channelId": channel, "rounds": len(records)})
}

// LoadSnapshot returns a stored snapshot as chart rows.
func (h *SimulationHandler) LoadSnapshot(w http.ResponseWriter, r *http.Request) {
	records, channel, ok := h.loadSnapshot(w, r)
	if !ok {
		return
	}
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = rec.ChartPoint()
	}
	writeJSON(w, http.StatusOK, map[string]any{"channelId": channel, "rounds": rows})
}

// RestoreSnapshot replaces the session history with a stored snapshot.
func (h *SimulationHandler) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	records, _, ok := h.loadSnapshot(w, r)
	if !ok {
		return
	}
	h.Session.Restore(records)
	writeJSON(w, http.StatusOK, h.Session.Status())
}

func (h *SimulationHandler) loadSnapshot(w http.ResponseWriter, r *http.Request) ([]models.RoundRecord, string, bool) {
	channel, err := h.snapshotChannel(r)
	if err != nil {
		http.Error(w, "No channel given", http.StatusBadRequest)
		return nil, "", false
	}
	records, err := h.Snapshots.LoadSnapshot(r.Context(), channel)
	if errors.Is(err, storage.ErrNoSnapshot) {
		http.Error(w, "Snapshot not found", http.StatusNotFound)
		return nil, "", false
	}
	if err != nil {
		h.logger().Error("loading snapshot", "channel", channel, "err", err)
		http.Error(w, "Failed to load snapshot", http.StatusInternalServerError)
		return nil, "", false
	}
	return records, channel, true
}

// SubmitRun validates a standard run, resets the session, submits it and
// schedules a connect to the returned channel.
func (h *SimulationHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var cfg models.RunConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, "Invalid run config: "+err.Error(), http.StatusBadRequest)
		return
	}
	h.submit(w, r, "run", func(ctx context.Context) (string, error) {
		return h.Submitter.SubmitRun(ctx, cfg)
	})
}

func (h *SimulationHandler) SubmitCustom(w http.ResponseWriter, r *http.Request) {
	var cfg models.CustomNetworkConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, "Invalid custom network: "+err.Error(), http.StatusBadRequest)
		return
	}
	h.submit(w, r, "custom", func(ctx context.Context) (string, error) {
		return h.Submitter.SubmitCustom(ctx, cfg)
	})
}

func (h *SimulationHandler) submit(w http.ResponseWriter, r *http.Request, kind string, send func(context.Context) (string, error)) {
	h.Session.ClearData()
	h.Session.Disconnect()

	channel, err := send(r.Context())
	if err != nil {
		h.logger().Error("submission failed", "kind", kind, "err", err)
		status := http.StatusBadGateway
		if !errors.Is(err, submit.ErrUnexpectedStatus) && !errors.Is(err, submit.ErrEmptyChannel) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "Simulation server rejected the request: "+err.Error(), status)
		return
	}

	h.Clock.AfterFunc(h.ConnectDelay, func() {
		h.Session.Connect(context.Background())
	})
	writeJSON(w, http.StatusAccepted, submitResponse{
		ChannelID:      channel,
		ConnectAfterMs: h.ConnectDelay.Milliseconds(),
	})
}

// SetChannel records a channel id by hand, e.g. to follow a run submitted elsewhere.
func (h *SimulationHandler) SetChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Channels.SetChannelID(r.Context(), req.ChannelID); err != nil {
		if errors.Is(err, storage.ErrNoChannel) {
			http.Error(w, "channelId cannot be empty", http.StatusBadRequest)
			return
		}
		h.logger().Error("storing channel id", "err", err)
		http.Error(w, "Failed to store channel id", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, channelRequest{ChannelID: strings.TrimSpace(req.ChannelID)})
}

// ServeWS subscribes a dashboard to ?channel= (every channel when empty).
func (h *SimulationHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.Hub.ServeWS(w, r, r.URL.Query().Get("channel"))
}
