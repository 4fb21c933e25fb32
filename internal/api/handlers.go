package api

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/httputil"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
)

type handlers struct {
	deps      Deps
	startedAt time.Time
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Running       bool              `json:"running"`
	StopRequested bool              `json:"stop_requested"`
	Standby       bool              `json:"standby"`
	StandbyReason string            `json:"standby_reason,omitempty"`
	LastRunAt     string            `json:"last_run_at,omitempty"`
	NextRunAt     string            `json:"next_run_at,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	LastRun       *state.RunSummary `json:"last_run,omitempty"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Running:       h.deps.Runner.Running(),
		StopRequested: h.deps.Runner.StopRequested(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.deps.Standby != nil && h.deps.Standby.Engaged() {
		resp.Standby = true
		resp.StandbyReason = h.deps.Standby.Reason()
	}
	if at := h.deps.Runner.LastRunAt(); !at.IsZero() {
		resp.LastRunAt = at.Format(time.RFC3339)
	}
	if h.deps.Scheduler != nil {
		if next, ok := h.deps.Scheduler.Next(); ok {
			resp.NextRunAt = next.Format(time.RFC3339)
		}
	}
	if summary, ok := h.deps.Runner.LastSummary(); ok {
		resp.LastRun = &summary
	}
	httputil.JSON(w, http.StatusOK, resp)
}

type accountView struct {
	Email    string `json:"email"`
	Enabled  bool   `json:"enabled"`
	HasTOTP  bool   `json:"has_totp"`
	HasProxy bool   `json:"has_proxy"`
	HasPhone bool   `json:"has_phone"`
}

func (h *handlers) accounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := config.LoadAccounts(h.deps.AccountsPath)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{
			Email:    logger.RedactEmail(a.Email),
			Enabled:  a.IsEnabled(),
			HasTOTP:  a.TOTP != "",
			HasProxy: a.Proxy != "",
			HasPhone: a.PhoneNumber != "",
		})
	}
	httputil.JSON(w, http.StatusOK, views)
}

func (h *handlers) logs(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	httputil.JSON(w, http.StatusOK, logger.Recent(limit))
}

func (h *handlers) clearLogs(w http.ResponseWriter, r *http.Request) {
	logger.Clear()
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]state.HistoryEntry)
	for _, acct := range h.deps.History.Accounts() {
		out[acct] = h.deps.History.Entries(acct)
	}
	httputil.JSON(w, http.StatusOK, out)
}

func (h *handlers) memory(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	httputil.JSON(w, http.StatusOK, map[string]any{
		"alloc_bytes":       ms.Alloc,
		"total_alloc_bytes": ms.TotalAlloc,
		"sys_bytes":         ms.Sys,
		"heap_objects":      ms.HeapObjects,
		"num_gc":            ms.NumGC,
		"goroutines":        runtime.NumGoroutine(),
	})
}

func (h *handlers) reports(w http.ResponseWriter, r *http.Request) {
	paths, err := state.ListReports(h.deps.ReportsDir, r.URL.Query().Get("day"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, paths)
}

func (h *handlers) accountHistoryAll(w http.ResponseWriter, r *http.Request) {
	h.history(w, r)
}

func (h *handlers) accountHistory(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	httputil.JSON(w, http.StatusOK, h.deps.History.Entries(email))
}

func (h *handlers) accountStats(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	httputil.JSON(w, http.StatusOK, h.deps.History.Stats(email))
}

func daysParam(r *http.Request) int {
	if s := r.URL.Query().Get("days"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}

func (h *handlers) statsHistorical(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.deps.History.Historical(daysParam(r)))
}

func (h *handlers) statsBreakdown(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.deps.History.ActivityBreakdown(daysParam(r)))
}

func (h *handlers) statsGlobal(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.deps.History.Global())
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	if h.deps.Standby != nil && h.deps.Standby.Engaged() {
		httputil.Error(w, http.StatusConflict, "standby engaged: "+h.deps.Standby.Reason())
		return
	}
	if !h.deps.Runner.Trigger(r.Context()) {
		httputil.Error(w, http.StatusConflict, "a run is already in progress")
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	h.deps.Runner.RequestStop()
	httputil.JSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (h *handlers) restart(w http.ResponseWriter, r *http.Request) {
	if h.deps.Restart == nil {
		httputil.Error(w, http.StatusNotImplemented, "restart not supported by this deployment")
		return
	}
	h.deps.Restart()
	httputil.JSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

func (h *handlers) runSingle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	res, err := h.deps.Runner.RunSingle(r.Context(), body.Email)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"account": logger.RedactEmail(res.Account),
		"points":  res.DesktopPoints + res.MobilePoints,
		"success": res.Success,
	})
}

func (h *handlers) resetAccount(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if err := h.deps.Jobs.Reset(email, state.Today()); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *handlers) resetState(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Jobs.ResetAllToday(); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *handlers) configReadOnly(w http.ResponseWriter, r *http.Request) {
	httputil.Error(w, http.StatusForbidden,
		"configuration is file-managed, edit the file manually to preserve comments")
}
