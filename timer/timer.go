// Package timer implements the single stopwatch bound to the active task and
// the command surface presentation layers drive it through.
package timer

import (
	"errors"
	"time"

	"github.com/GoCodeAlone/tasktimer/task"
)

// State is the stopwatch state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

var (
	// ErrTimerBusy is returned when a task other than the active one is
	// toggled while a session is running or paused.
	ErrTimerBusy = errors.New("another task is being timed")

	// ErrNotActiveTask is returned when completing a task that is not the
	// one being timed.
	ErrNotActiveTask = errors.New("task is not being timed")
)

// Session is the stopwatch session. While Running, elapsed time is
// now - StartedAt; while Paused, Elapsed holds the frozen value.
type Session struct {
	State     State         `json:"state"`
	TaskID    string        `json:"task_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// View is the display state handed to presentation layers.
type View struct {
	State     State  `json:"state"`
	TaskID    string `json:"task_id,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Display   string `json:"display"`
}

// ButtonLabel is the label for the start/pause control.
func (v View) ButtonLabel() string {
	if v.State == StateRunning {
		return "Pause"
	}
	return "Start"
}

// Snapshot is a read-only copy of the whole core state.
type Snapshot struct {
	Tasks task.List `json:"tasks"`
	Timer View      `json:"timer"`
}

func (s Session) view() View {
	return View{
		State:     s.State,
		TaskID:    s.TaskID,
		ElapsedMS: s.Elapsed.Milliseconds(),
		Display:   FormatElapsed(s.Elapsed),
	}
}
