package display

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	Fx "github.com/maroda/fmdrisk/plugin"
	Ft "github.com/maroda/fmdrisk/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SetupMux handles all data serving:
// - Prometheus metric endpoint
// - Websocket with study progress
// - Version for programmatic use
// - Summary, end classes and history pairs of the latest study
func (v *View) SetupMux() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", v.Stats.Handler())
	r.HandleFunc("/healthz", v.HealthHandler)
	r.HandleFunc("/ws", v.WebsocketHandler)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(v.StatsMiddleware)
	api.HandleFunc("/version", v.VersionHandler).Methods(http.MethodGet)
	api.HandleFunc("/summary", v.SummaryHandler).Methods(http.MethodGet)
	api.HandleFunc("/endclasses", v.EndClassesHandler).Methods(http.MethodGet)
	api.HandleFunc("/histories/{id}", v.HistoryHandler).Methods(http.MethodGet)
	api.HandleFunc("/rerun", v.RerunHandler).Methods(http.MethodPost)

	return otelhttp.NewHandler(r, "fmdrisk")
}

var Version = "dev"

func (v *View) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (v *View) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SummaryHandler serves the aggregate of the latest study
func (v *View) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	report := v.Report()
	if report == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no study has finished yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch":   report.ID,
		"model":   v.Model,
		"summary": report.Summary,
	})
}

// EndClassesHandler serves the end results of the latest study,
// or with ?batch= those of a stored batch.
func (v *View) EndClassesHandler(w http.ResponseWriter, r *http.Request) {
	if batch := r.URL.Query().Get("batch"); batch != "" {
		v.storedEndClasses(w, batch)
		return
	}

	report := v.Report()
	if report == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no study has finished yet"})
		return
	}
	writeJSON(w, http.StatusOK, report.EndClasses)
}

func (v *View) storedEndClasses(w http.ResponseWriter, batch string) {
	if v.Output == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no output configured"})
		return
	}
	records, err := v.Output.QueryBatch(batch)
	if errors.Is(err, Fx.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown batch " + batch})
		return
	}
	if err != nil {
		slog.Error("Could not query batch", slog.String("batch", batch), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	out := make(map[string]Ft.EndResult, len(records))
	for _, rec := range records {
		out[rec.ID] = rec.Result
	}
	writeJSON(w, http.StatusOK, out)
}

// HistoryHandler serves the nominal and faulty histories of one scenario
func (v *View) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	report := v.Report()
	if report == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no study has finished yet"})
		return
	}
	id := mux.Vars(r)["id"]
	pair, ok := report.Compare(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown scenario " + id})
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// RerunHandler restarts the study in the background
func (v *View) RerunHandler(w http.ResponseWriter, r *http.Request) {
	if v.Supervisor == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no supervisor"})
		return
	}
	if v.Supervisor.Stopped() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "study supervisor is stopped"})
		return
	}
	go v.Supervisor.Restart()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rerun started"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Could not encode response", slog.Any("error", err))
	}
}
