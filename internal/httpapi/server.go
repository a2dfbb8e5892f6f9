package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"farm_engine/internal/config"
	"farm_engine/internal/engine"
	"farm_engine/internal/logbus"
	"farm_engine/internal/store/sqlite"
	"farm_engine/internal/ws"
)

type Options struct {
	Cfg    config.Config
	Bus    *logbus.Bus
	Engine *engine.Engine
}

type Server struct {
	cfg    config.Config
	bus    *logbus.Bus
	engine *engine.Engine
	ws     *ws.Handler
}

func New(opts Options) *Server {
	return &Server{
		cfg:    opts.Cfg,
		bus:    opts.Bus,
		engine: opts.Engine,
		ws:     ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/tasks/start", s.handleTaskStart)
	api.HandleFunc("/api/v1/tasks/stop", s.handleTaskStop)
	api.HandleFunc("/api/v1/tasks/state", s.handleTaskState)
	api.HandleFunc("/api/v1/tasks/records", s.handleTaskRecords)
	api.HandleFunc("/api/v1/records", s.handleRecord)
	api.HandleFunc("/api/v1/engine/stop", s.handleEngineStop)
	api.HandleFunc("/api/v1/engine/state", s.handleEngineState)
	api.HandleFunc("/api/v1/wallets/refresh-balances", s.handleRefreshBalances)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type taskPayload struct {
	TaskID     string   `json:"taskId"`
	AccountIDs []string `json:"accountIds,omitempty"`
	Headless   *bool    `json:"headless,omitempty"`
}

func (s *Server) handleTaskStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body taskPayload
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body.TaskID = strings.TrimSpace(body.TaskID)
	if body.TaskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "taskId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	st, err := s.engine.Start(ctx, engine.StartRequest{
		TaskID:     body.TaskID,
		AccountIDs: body.AccountIDs,
		Headless:   body.Headless,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"data": st})
	case errors.Is(err, engine.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrTaskRunning):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "data": st})
	case errors.Is(err, engine.ErrNoAccounts):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "data": st})
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// handleTaskStop accepts POST with a JSON body or DELETE with ?taskId=.
func (s *Server) handleTaskStop(w http.ResponseWriter, r *http.Request) {
	var taskID string
	switch r.Method {
	case http.MethodPost:
		var body taskPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		taskID = body.TaskID
	case http.MethodDelete:
		taskID = r.URL.Query().Get("taskId")
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "taskId is required"})
		return
	}

	st, err := s.engine.Stop(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, engine.ErrTaskNotRunning) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": st})
}

func (s *Server) handleTaskState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	taskID := strings.TrimSpace(r.URL.Query().Get("taskId"))
	if taskID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.States()})
		return
	}
	st, ok := s.engine.State(taskID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "task has not run in this process"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": st})
}

func (s *Server) handleTaskRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	taskID := strings.TrimSpace(r.URL.Query().Get("taskId"))
	if taskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "taskId is required"})
		return
	}
	recs, err := s.engine.Records(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": recs})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	rec, err := s.engine.Record(r.Context(), id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Task.StopTimeout())
	defer cancel()
	if err := s.engine.StopAll(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEngineState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.States()})
}

type refreshBalancesPayload struct {
	WalletIDs []string `json:"walletIds,omitempty"`
}

func (s *Server) handleRefreshBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body refreshBalancesPayload
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, _, err := s.engine.RefreshBalances(r.Context(), body.WalletIDs)
	if err != nil {
		if errors.Is(err, engine.ErrNoBalanceProvider) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"data": map[string]any{"queued": n}})
}
