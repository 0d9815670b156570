package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/GoCodeAlone/tasktimer/comms"
	"github.com/GoCodeAlone/tasktimer/task"
	"github.com/GoCodeAlone/tasktimer/timer"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Timer   TimerService
	Bus     comms.Bus
	Logger  *slog.Logger
	Version string
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.addTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", h.renameTask)
	mux.HandleFunc("POST /api/tasks/{id}/toggle", h.toggleTimer)
	mux.HandleFunc("POST /api/tasks/{id}/complete", h.completeTask)

	mux.HandleFunc("GET /api/timer", h.getTimer)
	mux.HandleFunc("POST /api/timer/reset", h.resetTimer)

	mux.HandleFunc("GET /api/snapshot", h.snapshot)
	mux.HandleFunc("GET /api/events/history", h.eventHistory)

	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCommandError maps core errors to HTTP statuses. It reports false for
// nil and persistence errors, which leave the command successful.
func (h *Handlers) writeCommandError(w http.ResponseWriter, err error) bool {
	var perr *task.PersistenceError
	switch {
	case err == nil, errors.As(err, &perr):
		return false
	case errors.Is(err, task.ErrInvalidTaskReference):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, timer.ErrTimerBusy), errors.Is(err, timer.ErrNotActiveTask):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.Logger.Error("command failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
	return true
}

// warning returns the text clients show for a non-fatal persistence failure.
func warning(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type nameRequest struct {
	Name string `json:"name"`
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.Timer.Snapshot().Tasks
	if r.URL.Query().Get("order") == "display" {
		tasks = tasks.Reversed()
	}
	if tasks == nil {
		tasks = task.List{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type taskResponse struct {
	task.Task
	Warning string `json:"warning,omitempty"`
}

func (h *Handlers) addTask(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id, err := h.Timer.Add(r.Context(), req.Name)
	if h.writeCommandError(w, err) {
		return
	}
	if id == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	t, ok := h.findTask(id)
	if !ok {
		writeError(w, http.StatusInternalServerError, "added task vanished")
		return
	}
	writeJSON(w, http.StatusCreated, taskResponse{Task: t, Warning: warning(err)})
}

func (h *Handlers) renameTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	_, err := h.Timer.Rename(r.Context(), id, req.Name)
	if h.writeCommandError(w, err) {
		return
	}
	t, ok := h.findTask(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: t, Warning: warning(err)})
}

// --- Timer handlers ---

type viewResponse struct {
	timer.View
	Button  string `json:"button"`
	Warning string `json:"warning,omitempty"`
}

func newViewResponse(v timer.View, err error) viewResponse {
	return viewResponse{View: v, Button: v.ButtonLabel(), Warning: warning(err)}
}

func (h *Handlers) toggleTimer(w http.ResponseWriter, r *http.Request) {
	v, err := h.Timer.StartOrToggle(r.Context(), r.PathValue("id"))
	if h.writeCommandError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, newViewResponse(v, err))
}

type completeResponse struct {
	Completed bool         `json:"completed"`
	Task      *task.Task   `json:"task,omitempty"`
	Timer     viewResponse `json:"timer"`
	Warning   string       `json:"warning,omitempty"`
}

func (h *Handlers) completeTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	completed, v, err := h.Timer.Complete(r.Context(), id)
	if h.writeCommandError(w, err) {
		return
	}
	resp := completeResponse{
		Completed: completed,
		Timer:     newViewResponse(v, nil),
		Warning:   warning(err),
	}
	if completed {
		if t, ok := h.findTask(id); ok {
			resp.Task = &t
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) getTimer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newViewResponse(h.Timer.View(), nil))
}

func (h *Handlers) resetTimer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newViewResponse(h.Timer.Reset(r.Context()), nil))
}

func (h *Handlers) snapshot(w http.ResponseWriter, _ *http.Request) {
	snap := h.Timer.Snapshot()
	if snap.Tasks == nil {
		snap.Tasks = task.List{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- Event handlers ---

func (h *Handlers) eventHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	if h.Bus == nil {
		writeJSON(w, http.StatusOK, []*comms.Event{})
		return
	}
	events, err := h.Bus.History(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*comms.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.Version,
		"timer":   string(h.Timer.View().State),
	})
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}

func (h *Handlers) findTask(id string) (task.Task, bool) {
	tasks := h.Timer.Snapshot().Tasks
	if i := tasks.Index(id); i >= 0 {
		return tasks[i], true
	}
	return task.Task{}, false
}
