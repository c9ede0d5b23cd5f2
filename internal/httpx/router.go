package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/runtime"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/service/auth"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/service/workspace"
)

const (
	rateWindowDefault      = time.Minute
	rateLimitSignup        = 5
	rateLimitLogin         = 12
	rateLimitUserWrite     = 60
	rateLimitUserRead      = 120
	rateLimitAdmin         = 30
	healthCheckTimeout     = 2 * time.Second
	defaultIdleMinutes     = 30
	maxExecRequestBodySize = 1 << 20
)

// Router wires the workspace management endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	auth       auth.Service
	workspaces *workspace.Manager
	limiter    RateLimiter
	dbHealth   func(context.Context) error

	metricsOnce      sync.Once
	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	lifecycleResults *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, workspaces *workspace.Manager, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		auth:       authSvc,
		workspaces: workspaces,
		limiter:    limiter,
		dbHealth:   dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.instrument("/auth/signup", r.withRateLimit(rateLimitSignup, rateWindowDefault, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.instrument("/auth/login", r.withRateLimit(rateLimitLogin, rateWindowDefault, r.handleLogin)))
	r.mux.HandleFunc("/v1/workspace/start", r.instrument("/v1/workspace/start", r.withRateLimit(rateLimitUserWrite, rateWindowDefault, r.requireAuth(r.handleStart))))
	r.mux.HandleFunc("/v1/workspace/stop", r.instrument("/v1/workspace/stop", r.withRateLimit(rateLimitUserWrite, rateWindowDefault, r.requireAuth(r.handleStop))))
	r.mux.HandleFunc("/v1/workspace/remove", r.instrument("/v1/workspace/remove", r.withRateLimit(rateLimitUserWrite, rateWindowDefault, r.requireAuth(r.handleRemove))))
	r.mux.HandleFunc("/v1/workspace/exec", r.instrument("/v1/workspace/exec", r.withRateLimit(rateLimitUserWrite, rateWindowDefault, r.requireAuth(r.handleExec))))
	r.mux.HandleFunc("/v1/workspace/status", r.instrument("/v1/workspace/status", r.withRateLimit(rateLimitUserRead, rateWindowDefault, r.requireAuth(r.handleStatus))))
	r.mux.HandleFunc("/v1/workspaces/idle", r.instrument("/v1/workspaces/idle", r.withRateLimit(rateLimitAdmin, rateWindowDefault, r.requireAuth(r.handleIdle))))
	r.mux.HandleFunc("/v1/workspaces/cleanup", r.instrument("/v1/workspaces/cleanup", r.withRateLimit(rateLimitAdmin, rateWindowDefault, r.requireAuth(r.handleCleanup))))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Signup(req.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user": map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
		},
		"token": token,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"token":   token,
	})
}

func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	user, ok := userFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	container, err := r.workspaces.EnsureRunning(req.Context(), user)
	r.recordOperation("start", err)
	if err != nil {
		r.writeWorkspaceError(w, "start workspace", user.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"container_id":   container.ID,
		"container_name": container.Name,
		"state":          container.State,
	})
}

func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	user, ok := userFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var payload struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	}
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	stopped, err := r.workspaces.Stop(req.Context(), user.ID, time.Duration(payload.TimeoutSeconds)*time.Second)
	r.recordOperation("stop", err)
	if err != nil {
		r.writeWorkspaceError(w, "stop workspace", user.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

func (r *Router) handleRemove(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	user, ok := userFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var payload struct {
		Force bool `json:"force"`
	}
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	removed, err := r.workspaces.Remove(req.Context(), user.ID, payload.Force)
	r.recordOperation("remove", err)
	if err != nil {
		r.writeWorkspaceError(w, "remove workspace", user.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (r *Router) handleExec(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	user, ok := userFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var payload struct {
		Command string `json:"command"`
		Workdir string `json:"workdir"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxExecRequestBodySize)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Command == "" {
		writeError(w, http.StatusBadRequest, "command required")
		return
	}
	exitCode, output, err := r.workspaces.Exec(req.Context(), user, payload.Command, payload.Workdir)
	r.recordOperation("exec", err)
	if err != nil {
		r.writeWorkspaceError(w, "exec in workspace", user.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exit_code": exitCode,
		"output":    string(output),
	})
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	user, ok := userFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	status, err := r.workspaces.Status(req.Context(), user.ID)
	if err != nil {
		r.writeWorkspaceError(w, "workspace status", user.ID, err)
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "no workspace container")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"container_id":   status.ContainerID,
		"container_name": status.ContainerName,
		"state":          status.State,
		"image":          status.Image,
		"created_at":     status.CreatedAt,
	})
}

func (r *Router) handleIdle(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	idle, err := r.workspaces.ListIdle(req.Context(), idleDuration(req.URL.Query().Get("minutes")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list idle workspaces")
		return
	}
	out := make([]map[string]any, 0, len(idle))
	for _, ws := range idle {
		out = append(out, map[string]any{
			"user_id":          ws.Workspace.UserID,
			"container_id":     ws.Container.ID,
			"container_name":   ws.Container.Name,
			"last_activity_at": ws.Workspace.LastActivityAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"idle": out})
}

func (r *Router) handleCleanup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Minutes int `json:"minutes"`
	}
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	stopped, err := r.workspaces.CleanupIdle(req.Context(), idleDuration(strconv.Itoa(payload.Minutes)))
	r.recordOperation("cleanup", err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

func (r *Router) writeWorkspaceError(w http.ResponseWriter, op, userID string, err error) {
	r.logger.Error(op+" failed", "user_id", userID, "error", err)
	switch {
	case errors.Is(err, runtime.ErrImageNotFound):
		writeError(w, http.StatusServiceUnavailable, "workspace image is not available")
	default:
		var runtimeErr *runtime.Error
		if errors.As(err, &runtimeErr) {
			writeError(w, http.StatusBadGateway, "container runtime failure")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func idleDuration(minutes string) time.Duration {
	parsed, err := strconv.Atoi(minutes)
	if err != nil || parsed <= 0 {
		parsed = defaultIdleMinutes
	}
	return time.Duration(parsed) * time.Minute
}
