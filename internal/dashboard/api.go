// Package dashboard provides a web dashboard and JSON API over the shared
// task list and peer status.
package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/app"
	"github.com/jaakkos/peertasks/internal/domain"
	"github.com/jaakkos/peertasks/internal/metrics"
)

// maxBodyBytes caps request bodies accepted by the write endpoints.
const maxBodyBytes = 64 << 10

// StateSnapshot is the JSON response from /api/state.
type StateSnapshot struct {
	Timestamp   string         `json:"timestamp"`
	LocalPeerID string         `json:"local_peer_id"`
	Online      bool           `json:"online"`
	Tasks       []TaskSnapshot `json:"tasks"`
	Peers       []domain.Peer  `json:"peers"`
}

// TaskSnapshot is a per-task summary.
type TaskSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
	Creator   string `json:"creator"`
	CreatedAt string `json:"created_at"`
	Age       string `json:"age"`
}

// Handler holds dependencies for dashboard HTTP handlers.
type Handler struct {
	session *app.Session
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// HandlerOption configures optional dependencies for the dashboard handler.
type HandlerOption func(*Handler)

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the handler's logger.
func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a dashboard handler.
func NewHandler(session *app.Session, opts ...HandlerOption) *Handler {
	h := &Handler{session: session, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes adds dashboard routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", h.handleAPIState)
	mux.HandleFunc("POST /api/tasks", h.handleAddTask)
	mux.HandleFunc("POST /api/tasks/{id}/toggle", h.handleToggleTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.handleDeleteTask)
	mux.HandleFunc("POST /api/peers/refresh", h.handleRefreshPeers)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", h.metrics.Handler())
	mux.HandleFunc("GET /dashboard", h.handleDashboard)
	mux.HandleFunc("GET /dashboard/", h.handleDashboard)
}

func (h *Handler) handleAPIState(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	online, _ := h.session.Online().Latest()
	peers, _ := h.session.Peers().Latest()
	tasks, _ := h.session.Tasks().Latest()

	snap := StateSnapshot{
		Timestamp:   now.UTC().Format(time.RFC3339),
		LocalPeerID: h.session.LocalPeerID(),
		Online:      online,
		Tasks:       make([]TaskSnapshot, 0, len(tasks)),
		Peers:       peers,
	}
	if snap.Peers == nil {
		snap.Peers = []domain.Peer{}
	}
	for _, t := range tasks {
		snap.Tasks = append(snap.Tasks, TaskSnapshot{
			ID:        t.ID,
			Name:      t.Name,
			Completed: t.Completed,
			Creator:   t.Creator,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
			Age:       relTime(t.CreatedAt, now),
		})
	}
	writeJSON(w, http.StatusOK, snap)
}

type addTaskRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req addTaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	task, err := h.session.AddTask(r.Context(), req.Name)
	if err != nil {
		h.commandError(w, "add_task", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": task.ID, "name": task.Name})
}

func (h *Handler) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.session.ToggleTask(r.Context(), id); err != nil {
		h.commandError(w, "toggle_task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.session.DeleteTask(r.Context(), id); err != nil {
		h.commandError(w, "delete_task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefreshPeers(w http.ResponseWriter, r *http.Request) {
	h.session.RefreshPeers()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	online, _ := h.session.Online().Latest()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": online})
}

func (h *Handler) commandError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, app.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("dashboard command failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func relTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return formatDuration(d, "s")
	case d < time.Hour:
		return formatDuration(d, "m")
	case d < 24*time.Hour:
		return formatDuration(d, "h")
	default:
		return t.Format("Jan 2 15:04")
	}
}

func formatDuration(d time.Duration, unit string) string {
	switch unit {
	case "s":
		return strconv.Itoa(int(d.Seconds())) + "s ago"
	case "m":
		return strconv.Itoa(int(d.Minutes())) + "m ago"
	case "h":
		return strconv.Itoa(int(d.Hours())) + "h ago"
	default:
		return d.String()
	}
}
