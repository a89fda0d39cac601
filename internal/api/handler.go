// Package api serves the HTTP and WebSocket interface of the simulator:
// variable reads and writes, engine status, and history queries.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/beamsim/spearsim/internal/history"
	"github.com/beamsim/spearsim/internal/pv"
	"github.com/beamsim/spearsim/internal/redishealth"
	"github.com/beamsim/spearsim/internal/report"
	"github.com/beamsim/spearsim/internal/sim"
)

// StatusProvider exposes the engine's point-in-time state.
type StatusProvider interface {
	Status() sim.Status
}

// RedisHealthChecker provides Redis connection health information.
type RedisHealthChecker interface {
	IsConnected() bool
	GetStatus() redishealth.Status
}

// variableView is the JSON shape of one control variable with its metadata.
type variableView struct {
	Name     string      `json:"name"`
	Kind     string      `json:"kind"`
	Unit     string      `json:"unit,omitempty"`
	Doc      string      `json:"doc,omitempty"`
	Min      *float64    `json:"min,omitempty"`
	Max      *float64    `json:"max,omitempty"`
	Labels   []string    `json:"labels,omitempty"`
	ReadOnly bool        `json:"read_only"`
	Value    interface{} `json:"value"`
}

// writeRequest is the JSON body for PUT /variables/{name}.
type writeRequest struct {
	Value string `json:"value"`
}

// writeResult reports the outcome of a write. Stored echoes what the store
// holds afterward; a clamped or refused request shows up as Stored differing
// from Requested.
type writeResult struct {
	Name      string `json:"name"`
	Requested string `json:"requested"`
	Stored    string `json:"stored"`
	Accepted  bool   `json:"accepted"`
}

// serviceStatus is the response for GET /status.
type serviceStatus struct {
	Instance      string              `json:"instance"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Engine        sim.Status          `json:"engine"`
	RedisHealth   *redishealth.Status `json:"redis_health,omitempty"`
	WSClients     int                 `json:"ws_clients"`
}

// Handler holds all dependencies for HTTP request handling.
type Handler struct {
	Instance    string
	Store       *pv.Store
	Engine      StatusProvider
	History     *history.Store
	Hub         *Hub
	RedisHealth RedisHealthChecker // nil means no health checking
	StartTime   time.Time
}

// RegisterRoutes adds all API routes to the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /variables", h.listVariables)
	mux.HandleFunc("GET /variables/{name}", h.getVariable)
	mux.HandleFunc("PUT /variables/{name}", h.putVariable)
	mux.HandleFunc("GET /status", h.getStatus)
	mux.HandleFunc("GET /history/samples", h.getSamples)
	mux.HandleFunc("GET /history/transitions", h.getTransitions)
	mux.HandleFunc("GET /history/faults", h.getFaults)
	mux.HandleFunc("GET /reports/history/pdf", h.exportPDF)

	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWebSocket)
	}
}

func (h *Handler) view(name string) (variableView, error) {
	def, err := h.Store.Definition(name)
	if err != nil {
		return variableView{}, err
	}
	val, err := h.Store.Read(name)
	if err != nil {
		return variableView{}, err
	}

	v := variableView{
		Name:     def.Name,
		Kind:     def.Kind.String(),
		Unit:     def.Unit,
		Doc:      def.Doc,
		Labels:   def.Labels,
		ReadOnly: def.ReadOnly,
		Value:    def.Interface(val),
	}
	if def.Kind == pv.KindFloat {
		min, max := def.Min, def.Max
		v.Min, v.Max = &min, &max
	}
	return v, nil
}

func (h *Handler) listVariables(w http.ResponseWriter, r *http.Request) {
	names := h.Store.Names()
	views := make([]variableView, 0, len(names))
	for _, name := range names {
		v, err := h.view(name)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getVariable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	v, err := h.view(name)
	if errors.Is(err, pv.ErrUnknownVariable) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown variable"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) putVariable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Value == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value is required"})
		return
	}

	def, err := h.Store.Definition(name)
	if errors.Is(err, pv.ErrUnknownVariable) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown variable"})
		return
	}

	stored, err := h.Store.RequestWrite(name, req.Value)
	if errors.Is(err, pv.ErrReadOnly) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "variable is read-only"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	storedStr := def.Format(stored)
	writeJSON(w, http.StatusOK, writeResult{
		Name:      name,
		Requested: req.Value,
		Stored:    storedStr,
		Accepted:  storedStr == req.Value,
	})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	status := serviceStatus{
		Instance:      h.Instance,
		UptimeSeconds: int64(time.Since(h.StartTime).Seconds()),
		Engine:        h.Engine.Status(),
	}
	if h.RedisHealth != nil {
		rh := h.RedisHealth.GetStatus()
		status.RedisHealth = &rh
	}
	if h.Hub != nil {
		status.WSClients = h.Hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, status)
}

// parseSince reads the optional since query parameter, defaulting to the
// last hour.
func parseSince(r *http.Request) (time.Time, error) {
	since := time.Now().Add(-time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid since parameter, use RFC3339")
		}
		since = parsed
	}
	return since, nil
}

func (h *Handler) getSamples(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if _, err := fmt.Sscanf(l, "%d", &limit); err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit parameter"})
			return
		}
	}

	samples, err := h.History.QuerySamples(since, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to query samples"})
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (h *Handler) getTransitions(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	transitions, err := h.History.QueryTransitions(since)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to query transitions"})
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}

func (h *Handler) getFaults(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	faults, err := h.History.QueryFaults(since)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to query faults"})
		return
	}
	writeJSON(w, http.StatusOK, faults)
}

func (h *Handler) exportPDF(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=beam-history.pdf")
	if err := report.ExportPDF(w, h.Instance, h.History, since); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
