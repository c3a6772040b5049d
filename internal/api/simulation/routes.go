package simulation

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterSimulationRoutes mounts the simulation API and the dashboard
// WebSocket on r. Mutating routes are wrapped in protect (auth, rate
// limiting); read routes are not.
func RegisterSimulationRoutes(r *mux.Router, handler *SimulationHandler, protect ...mux.MiddlewareFunc) {
	// Every REST route lives under /api/v1/simulation.
	api := r.PathPrefix("/api/v1/simulation").Subrouter()

	// Read routes: connection status and the aggregated telemetry.
	api.HandleFunc("/status", handler.Status).Methods(http.MethodGet)
	// Most recent frame received from the simulation.
	api.HandleFunc("/latest", handler.Latest).Methods(http.MethodGet)
	// Full round history; ?format=cbor switches to CBOR.
	api.HandleFunc("/history", handler.History).Methods(http.MethodGet)
	// A single round; the handler answers 404 for rounds not seen yet.
	api.HandleFunc("/rounds/{round:-?[0-9]+}", handler.Round).Methods(http.MethodGet)
	api.HandleFunc("/agents", handler.Agents).Methods(http.MethodGet)
	// Reads the stored snapshot without touching the live history.
	api.HandleFunc("/snapshot", handler.LoadSnapshot).Methods(http.MethodGet)

	// Control routes change session or storage state and go through protect.
	// The subrouter shares the prefix, so GET /snapshot above is unaffected.
	ctl := api.NewRoute().Subrouter()
	ctl.Use(protect...)
	// Open or close the telemetry stream for the current channel.
	ctl.HandleFunc("/connect", handler.Connect).Methods(http.MethodPost)
	ctl.HandleFunc("/disconnect", handler.Disconnect).Methods(http.MethodPost)
	// Discard everything received so far.
	ctl.HandleFunc("/clear", handler.Clear).Methods(http.MethodPost)
	ctl.HandleFunc("/snapshot", handler.SaveSnapshot).Methods(http.MethodPost)
	ctl.HandleFunc("/snapshot/restore", handler.RestoreSnapshot).Methods(http.MethodPost)
	// Start a run on the simulation server; the new channel is followed.
	ctl.HandleFunc("/runs", handler.SubmitRun).Methods(http.MethodPost)
	ctl.HandleFunc("/runs/custom", handler.SubmitCustom).Methods(http.MethodPost)
	// Point the session at a channel started elsewhere.
	ctl.HandleFunc("/channel", handler.SetChannel).Methods(http.MethodPut)

	// Dashboard WebSocket; ?channel= narrows it to one channel.
	r.HandleFunc("/ws/simulation", handler.ServeWS).Methods(http.MethodGet)
}
