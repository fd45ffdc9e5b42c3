package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"factorbench/config"
	"factorbench/db"
	"factorbench/factor"
)

// Handlers holds the dependencies of the API routes.
type Handlers struct {
	store  *db.Store
	runner *factor.Runner
	hub    *RunHub
	logger *zap.Logger

	mu       sync.Mutex
	defaults config.BacktestDefaults
	running  bool
}

// NewHandlers wires the handler set.
func NewHandlers(store *db.Store, runner *factor.Runner, hub *RunHub, defaults config.BacktestDefaults, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:    store,
		runner:   runner,
		hub:      hub,
		defaults: defaults,
		logger:   logger,
	}
}

// SetDefaults swaps the backtest defaults; used by the config watcher.
func (h *Handlers) SetDefaults(defaults config.BacktestDefaults) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaults = defaults
}

// Register installs all routes on the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("POST /api/backtest/run", h.handleRun)
	mux.HandleFunc("GET /api/backtest/runs", h.handleRuns)
	mux.HandleFunc("GET /api/factor/ic", h.handleIC)
	mux.HandleFunc("GET /api/factor/layers", h.handleLayers)
	mux.HandleFunc("GET /api/portfolio/nav", h.handleNav)
	mux.HandleFunc("GET /api/portfolio/holdings", h.handleHoldings)
	mux.HandleFunc("GET /api/ws/runs", h.hub.ServeWS)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runRequest is the POST body of a run trigger; zero fields fall back to
// the configured defaults.
type runRequest struct {
	Factor     string `json:"factor"`
	Start      string `json:"start"`
	End        string `json:"end"`
	ICHorizon  int    `json:"ic_horizon"`
	Layers     int    `json:"layers"`
	MinN       int    `json:"min_n"`
	NavHorizon int    `json:"nav_horizon"`
	TopN       int    `json:"topn"`
}

func (h *Handlers) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Factor == "" {
		http.Error(w, "factor is required", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		http.Error(w, "a backtest run is already in progress", http.StatusConflict)
		return
	}
	h.running = true
	params := factor.ParamsFromDefaults(h.defaults)
	h.mu.Unlock()

	params.Factor = req.Factor
	params.Start = req.Start
	params.End = req.End
	if req.ICHorizon > 0 {
		params.ICHorizon = req.ICHorizon
	}
	if req.Layers > 0 {
		params.Layers = req.Layers
	}
	if req.MinN > 0 {
		params.MinN = req.MinN
	}
	if req.NavHorizon > 0 {
		params.NavHorizon = req.NavHorizon
	}
	if req.TopN > 0 {
		params.TopN = req.TopN
	}

	go func() {
		defer func() {
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
		}()
		h.hub.Broadcast("run_started", req)
		if err := h.runner.Run(context.Background(), params); err != nil {
			h.logger.Error("backtest run failed", zap.Error(err))
			h.hub.Broadcast("run_failed", map[string]string{"error": err.Error()})
			return
		}
		h.hub.Broadcast("run_finished", req)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handlers) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.store.RecentRunLogs(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) handleIC(w http.ResponseWriter, r *http.Request) {
	factorName, horizon, start, end, ok := h.factorRangeQuery(w, r)
	if !ok {
		return
	}
	records, err := h.store.QueryIC(r.Context(), factorName, horizon, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handlers) handleLayers(w http.ResponseWriter, r *http.Request) {
	factorName, horizon, start, end, ok := h.factorRangeQuery(w, r)
	if !ok {
		return
	}
	records, err := h.store.QueryLayerReturns(r.Context(), factorName, horizon, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handlers) handleNav(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	start, end := rangeOrDefault(r)
	points, err := h.store.QueryNav(r.Context(), code, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handlers) handleHoldings(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	date := r.URL.Query().Get("date")
	if code == "" || date == "" {
		http.Error(w, "code and date are required", http.StatusBadRequest)
		return
	}
	holdings, err := h.store.QueryHoldings(r.Context(), code, date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (h *Handlers) factorRangeQuery(w http.ResponseWriter, r *http.Request) (factorName string, horizon int, start, end string, ok bool) {
	factorName = r.URL.Query().Get("factor")
	if factorName == "" {
		http.Error(w, "factor is required", http.StatusBadRequest)
		return "", 0, "", "", false
	}
	horizon, err := strconv.Atoi(r.URL.Query().Get("horizon"))
	if err != nil || horizon < 1 {
		h.mu.Lock()
		horizon = h.defaults.ICHorizon
		h.mu.Unlock()
	}
	start, end = rangeOrDefault(r)
	return factorName, horizon, start, end, true
}

func rangeOrDefault(r *http.Request) (start, end string) {
	start = r.URL.Query().Get("start")
	end = r.URL.Query().Get("end")
	if start == "" {
		start = "0000-01-01"
	}
	if end == "" {
		end = "9999-12-31"
	}
	return start, end
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		return
	}
}
