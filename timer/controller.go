package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/tasktimer/comms"
	"github.com/GoCodeAlone/tasktimer/task"
)

// DefaultTickInterval is used when Config.TickInterval is zero.
const DefaultTickInterval = 100 * time.Millisecond

// TaskStore is the task persistence the controller reads and writes through.
// *task.Store satisfies it.
type TaskStore interface {
	Add(ctx context.Context, name string) (string, error)
	Rename(ctx context.Context, id, name string) (bool, error)
	SetCompletion(ctx context.Context, id string, completed bool, recordedTime string) error
	Get(id string) (task.Task, error)
	List() task.List
}

// Config holds the controller's collaborators.
type Config struct {
	Store        TaskStore
	Bus          comms.Bus     // optional; receives state-change events
	Clock        Clock         // SystemClock when nil
	TickInterval time.Duration // DefaultTickInterval when zero
	Logger       *slog.Logger

	// OnComplete runs once per successful completion on its own goroutine.
	// Its outcome is ignored.
	OnComplete func(t task.Task)
}

// Controller owns the stopwatch session and serialises every command.
type Controller struct {
	mu    sync.Mutex
	pubMu sync.Mutex // keeps events in command order
	cfg   Config

	session     Session
	lastDisplay string

	ticker     Ticker
	tickCancel context.CancelFunc
	tickGen    uint64
	closed     bool
}

// NewController returns an idle controller.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		session: Session{State: StateIdle},
	}
}

// Add creates a task. Blank names are ignored and yield an empty ID.
func (c *Controller) Add(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, err := c.cfg.Store.Add(ctx, name)
	if id == "" {
		c.mu.Unlock()
		return "", err
	}
	c.publishLocked(ctx, err)
	return id, err
}

// Rename changes a task's name. It reports whether anything changed.
func (c *Controller) Rename(ctx context.Context, id, name string) (bool, error) {
	c.mu.Lock()
	changed, err := c.cfg.Store.Rename(ctx, id, name)
	if !changed {
		c.mu.Unlock()
		return false, err
	}
	c.publishLocked(ctx, err)
	return true, err
}

// StartOrToggle starts timing the task when idle, pauses a running session
// and resumes a paused one. Starting from idle reopens a completed task and
// begins from zero. Toggling a different task while a session is active
// fails with ErrTimerBusy.
func (c *Controller) StartOrToggle(ctx context.Context, id string) (View, error) {
	c.mu.Lock()
	t, err := c.cfg.Store.Get(id)
	if err != nil {
		v := c.session.view()
		c.mu.Unlock()
		return v, err
	}
	now := c.cfg.Clock.Now()

	var persistErr error
	switch c.session.State {
	case StateIdle:
		if t.Completed {
			if err := c.cfg.Store.SetCompletion(ctx, id, false, ""); err != nil {
				if !isPersistence(err) {
					v := c.session.view()
					c.mu.Unlock()
					return v, err
				}
				persistErr = err
			}
		}
		c.session = Session{State: StateRunning, TaskID: id, StartedAt: now}
		c.lastDisplay = ""
		c.startTickingLocked()
		c.cfg.Logger.Debug("timer started", slog.String("task_id", id))

	case StateRunning:
		if id != c.session.TaskID {
			v := c.session.view()
			c.mu.Unlock()
			return v, fmt.Errorf("toggle %s: %w", id, ErrTimerBusy)
		}
		c.advanceLocked(now)
		c.session.State = StatePaused
		c.stopTickingLocked()
		c.cfg.Logger.Debug("timer paused", slog.String("task_id", id), slog.Duration("elapsed", c.session.Elapsed))

	case StatePaused:
		if id != c.session.TaskID {
			v := c.session.view()
			c.mu.Unlock()
			return v, fmt.Errorf("toggle %s: %w", id, ErrTimerBusy)
		}
		c.session.StartedAt = now.Add(-c.session.Elapsed)
		c.session.State = StateRunning
		c.startTickingLocked()
		c.cfg.Logger.Debug("timer resumed", slog.String("task_id", id))
	}

	v := c.session.view()
	c.publishLocked(ctx, persistErr)
	return v, persistErr
}

// Complete records the running session's elapsed time on the active task,
// marks it completed and returns to idle. It is a no-op (false, nil) unless
// the timer is running. id may be empty to mean the active task.
func (c *Controller) Complete(ctx context.Context, id string) (bool, View, error) {
	c.mu.Lock()
	if c.session.State != StateRunning {
		v := c.session.view()
		c.mu.Unlock()
		return false, v, nil
	}
	if id != "" && id != c.session.TaskID {
		v := c.session.view()
		c.mu.Unlock()
		if _, err := c.cfg.Store.Get(id); err != nil {
			return false, v, err
		}
		return false, v, fmt.Errorf("complete %s: %w", id, ErrNotActiveTask)
	}

	c.advanceLocked(c.cfg.Clock.Now())
	activeID := c.session.TaskID
	recorded := FormatElapsed(c.session.Elapsed)

	var persistErr error
	if err := c.cfg.Store.SetCompletion(ctx, activeID, true, recorded); err != nil {
		if !isPersistence(err) {
			v := c.session.view()
			c.mu.Unlock()
			return false, v, err
		}
		persistErr = err
	}
	c.stopTickingLocked()
	c.session = Session{State: StateIdle}
	c.lastDisplay = ""
	c.cfg.Logger.Info("task completed", slog.String("task_id", activeID), slog.String("time", recorded))

	if done, err := c.cfg.Store.Get(activeID); err == nil {
		c.fireOnComplete(done)
	}
	v := c.session.view()
	c.publishLocked(ctx, persistErr)
	return true, v, persistErr
}

// Reset discards the current session without recording anything.
func (c *Controller) Reset(ctx context.Context) View {
	c.mu.Lock()
	if c.session.State == StateIdle {
		v := c.session.view()
		c.mu.Unlock()
		return v
	}
	c.stopTickingLocked()
	c.cfg.Logger.Debug("timer reset", slog.String("task_id", c.session.TaskID))
	c.session = Session{State: StateIdle}
	c.lastDisplay = ""
	v := c.session.view()
	c.publishLocked(ctx, nil)
	return v
}

// Tick refreshes the running session's elapsed time and returns the current
// view. A tick event is published whenever the displayed text changes.
// It does nothing unless the timer is running.
func (c *Controller) Tick() View {
	c.mu.Lock()
	return c.tickLocked()
}

func (c *Controller) tickFrom(gen uint64) {
	c.mu.Lock()
	if gen != c.tickGen {
		c.mu.Unlock()
		return
	}
	c.tickLocked()
}

// tickLocked releases c.mu.
func (c *Controller) tickLocked() View {
	if c.session.State != StateRunning {
		v := c.session.view()
		c.mu.Unlock()
		return v
	}
	c.advanceLocked(c.cfg.Clock.Now())
	v := c.session.view()
	if v.Display == c.lastDisplay {
		c.mu.Unlock()
		return v
	}
	c.lastDisplay = v.Display

	c.pubMu.Lock()
	c.mu.Unlock()
	defer c.pubMu.Unlock()
	c.publish(context.Background(), comms.TypeTick, v)
	return v
}

// View returns the current display state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.session.view()
}

// Session returns a copy of the session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.session
}

// Snapshot returns the task list and timer view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Ticking reports whether a tick source is active.
func (c *Controller) Ticking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticker != nil
}

// Close stops the tick source. Commands keep working but no further
// background ticks are produced.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTickingLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	c.refreshLocked()
	return Snapshot{Tasks: c.cfg.Store.List(), Timer: c.session.view()}
}

func (c *Controller) refreshLocked() {
	if c.session.State == StateRunning {
		c.advanceLocked(c.cfg.Clock.Now())
	}
}

// advanceLocked moves Elapsed forward to now. Elapsed never decreases.
func (c *Controller) advanceLocked(now time.Time) {
	if d := now.Sub(c.session.StartedAt); d > c.session.Elapsed {
		c.session.Elapsed = d
	}
}

// startTickingLocked replaces any tick source with a fresh one.
func (c *Controller) startTickingLocked() {
	c.stopTickingLocked()
	if c.closed {
		return
	}
	c.tickGen++
	gen := c.tickGen
	ticker := c.cfg.Clock.NewTicker(c.cfg.TickInterval)
	ctx, cancel := context.WithCancel(context.Background())
	c.ticker = ticker
	c.tickCancel = cancel
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				c.tickFrom(gen)
			}
		}
	}()
}

func (c *Controller) stopTickingLocked() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.tickCancel()
	c.ticker = nil
	c.tickCancel = nil
	c.tickGen++
}

func (c *Controller) fireOnComplete(t task.Task) {
	fn := c.cfg.OnComplete
	if fn == nil {
		return
	}
	logger := c.cfg.Logger
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("completion effect panicked", slog.Any("panic", r))
			}
		}()
		fn(t)
	}()
}

// publishLocked takes a snapshot, releases c.mu and publishes it, followed by
// a warning event when persistErr is set.
func (c *Controller) publishLocked(ctx context.Context, persistErr error) {
	snap := c.snapshotLocked()
	c.pubMu.Lock()
	c.mu.Unlock()
	defer c.pubMu.Unlock()

	c.publish(ctx, comms.TypeSnapshot, snap)
	if persistErr != nil {
		c.publish(ctx, comms.TypePersistWarning, map[string]string{"error": persistErr.Error()})
	}
}

func (c *Controller) publish(ctx context.Context, typ comms.EventType, payload any) {
	if c.cfg.Bus == nil {
		return
	}
	if err := c.cfg.Bus.Publish(ctx, &comms.Event{Type: typ, Payload: payload}); err != nil {
		c.cfg.Logger.Warn("publish event", slog.String("type", string(typ)), slog.Any("err", err))
	}
}

func isPersistence(err error) bool {
	var perr *task.PersistenceError
	return errors.As(err, &perr)
}
