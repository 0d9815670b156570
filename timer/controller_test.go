package timer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoCodeAlone/tasktimer/comms"
	"github.com/GoCodeAlone/tasktimer/kv"
	"github.com/GoCodeAlone/tasktimer/task"
)

// --- Test doubles ---

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fakeClock) NewTicker(_ time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *fakeClock) Tickers() []*fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTicker(nil), f.tickers...)
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type recorder struct {
	mu     sync.Mutex
	events []*comms.Event
	notify chan *comms.Event
}

func newRecorder(bus comms.Bus) *recorder {
	r := &recorder{notify: make(chan *comms.Event, 64)}
	bus.Subscribe("test", func(_ context.Context, ev *comms.Event) error {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		select {
		case r.notify <- ev:
		default:
		}
		return nil
	})
	return r
}

func (r *recorder) count(typ comms.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	ctrl    *Controller
	store   *task.Store
	backend *kv.MemoryStore
	clock   *fakeClock
	events  *recorder
	done    chan task.Task
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := kv.NewMemoryStore()
	store := task.NewStore(backend, task.Options{})
	bus := comms.NewInMemoryBus()
	h := &harness{
		store:   store,
		backend: backend,
		clock:   newFakeClock(),
		events:  newRecorder(bus),
		done:    make(chan task.Task, 8),
	}
	h.ctrl = NewController(Config{
		Store:      store,
		Bus:        bus,
		Clock:      h.clock,
		OnComplete: func(t task.Task) { h.done <- t },
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) add(t *testing.T, name string) string {
	t.Helper()
	id, err := h.ctrl.Add(context.Background(), name)
	if err != nil {
		t.Fatalf("Add(%q): %v", name, err)
	}
	return id
}

func (h *harness) toggle(t *testing.T, id string) View {
	t.Helper()
	v, err := h.ctrl.StartOrToggle(context.Background(), id)
	if err != nil {
		t.Fatalf("StartOrToggle(%s): %v", id, err)
	}
	return v
}

func (h *harness) task(t *testing.T, id string) task.Task {
	t.Helper()
	got, err := h.store.Get(id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return got
}

func (h *harness) noCompletionEffect(t *testing.T) {
	t.Helper()
	select {
	case got := <-h.done:
		t.Errorf("unexpected completion effect for %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// --- Tests ---

func TestController_StartTickDisplay(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "Write report")

	v := h.toggle(t, id)
	if v.State != StateRunning || v.TaskID != id {
		t.Fatalf("view = %+v, want running on %s", v, id)
	}
	if v.ButtonLabel() != "Pause" {
		t.Errorf("ButtonLabel = %q, want Pause", v.ButtonLabel())
	}

	h.clock.Advance(1500 * time.Millisecond)
	v = h.ctrl.Tick()
	if v.Display != "00:00:01" {
		t.Errorf("Display = %q, want 00:00:01", v.Display)
	}
	if v.ElapsedMS != 1500 {
		t.Errorf("ElapsedMS = %d, want 1500", v.ElapsedMS)
	}
}

func TestController_TickMonotonic(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	h.toggle(t, id)

	prev := ""
	for i := 0; i < 50; i++ {
		h.clock.Advance(237 * time.Millisecond)
		v := h.ctrl.Tick()
		if v.Display < prev {
			t.Fatalf("display went backwards: %q after %q", v.Display, prev)
		}
		prev = v.Display
	}

	// A clock stepping backwards must not shrink elapsed time.
	before := h.ctrl.View().ElapsedMS
	h.clock.Advance(-10 * time.Second)
	if after := h.ctrl.Tick().ElapsedMS; after < before {
		t.Errorf("elapsed decreased from %d to %d", before, after)
	}
}

func TestController_TickPublishesOnDisplayChange(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	h.toggle(t, id)

	h.clock.Advance(200 * time.Millisecond)
	h.ctrl.Tick() // 00:00:00, first observation
	h.clock.Advance(200 * time.Millisecond)
	h.ctrl.Tick() // unchanged
	h.clock.Advance(700 * time.Millisecond)
	h.ctrl.Tick() // 00:00:01

	if n := h.events.count(comms.TypeTick); n != 2 {
		t.Errorf("tick events = %d, want 2", n)
	}
}

func TestController_TickIdleNoop(t *testing.T) {
	h := newHarness(t)
	v := h.ctrl.Tick()
	if v.State != StateIdle || v.Display != "00:00:00" {
		t.Errorf("idle tick view = %+v", v)
	}
	if n := h.events.count(comms.TypeTick); n != 0 {
		t.Errorf("tick events while idle = %d", n)
	}
}

func TestController_PauseResumeFidelity(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")

	h.toggle(t, id)
	h.clock.Advance(40 * time.Second) // d1

	v := h.toggle(t, id)
	if v.State != StatePaused || v.ElapsedMS != 40_000 {
		t.Fatalf("paused view = %+v, want 40s paused", v)
	}
	if v.ButtonLabel() != "Start" {
		t.Errorf("ButtonLabel = %q, want Start", v.ButtonLabel())
	}

	h.clock.Advance(3 * time.Hour) // gap while paused
	if got := h.ctrl.Tick().ElapsedMS; got != 40_000 {
		t.Errorf("elapsed advanced while paused: %d", got)
	}

	h.toggle(t, id)
	h.clock.Advance(50 * time.Second) // d2

	completed, v, err := h.ctrl.Complete(context.Background(), id)
	if err != nil || !completed {
		t.Fatalf("Complete = %v, %v", completed, err)
	}
	if v.State != StateIdle {
		t.Errorf("state after complete = %s", v.State)
	}
	got := h.task(t, id)
	if !got.Completed || got.Time != "00:01:30" {
		t.Errorf("task = %+v, want completed 00:01:30", got)
	}
}

func TestController_Complete(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	h.toggle(t, id)
	h.clock.Advance(90 * time.Second)

	completed, v, err := h.ctrl.Complete(context.Background(), "")
	if err != nil || !completed {
		t.Fatalf("Complete = %v, %v", completed, err)
	}
	if v.State != StateIdle || v.TaskID != "" || v.ElapsedMS != 0 {
		t.Errorf("view after complete = %+v, want reset idle", v)
	}
	got := h.task(t, id)
	if !got.Completed || got.Time != "00:01:30" {
		t.Errorf("task = %+v", got)
	}
	if h.ctrl.Ticking() {
		t.Error("tick source still active after complete")
	}

	select {
	case done := <-h.done:
		if done.ID != id || !done.Completed {
			t.Errorf("effect got %+v", done)
		}
	case <-time.After(time.Second):
		t.Fatal("completion effect not invoked")
	}
	h.noCompletionEffect(t)

	// Persisted, not just in memory.
	reloaded := task.NewStore(h.backend, task.Options{})
	list, err := reloaded.LoadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if list[0].Time != "00:01:30" {
		t.Errorf("persisted time = %q", list[0].Time)
	}
}

func TestController_CompleteWhileIdle(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	before := h.ctrl.Snapshot()
	writes := h.backend.Sets()

	completed, _, err := h.ctrl.Complete(context.Background(), id)
	if err != nil || completed {
		t.Fatalf("Complete while idle = %v, %v; want no-op", completed, err)
	}
	after := h.ctrl.Snapshot()
	if after.Tasks[0] != before.Tasks[0] || after.Timer != before.Timer {
		t.Errorf("state changed: %+v -> %+v", before, after)
	}
	if h.backend.Sets() != writes {
		t.Error("no-op complete wrote to the store")
	}
	h.noCompletionEffect(t)
}

func TestController_CompleteWhilePaused(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	h.toggle(t, id)
	h.clock.Advance(time.Minute)
	h.toggle(t, id)

	completed, v, err := h.ctrl.Complete(context.Background(), id)
	if err != nil || completed {
		t.Fatalf("Complete while paused = %v, %v; want no-op", completed, err)
	}
	if v.State != StatePaused {
		t.Errorf("state = %s, want paused", v.State)
	}
	if h.task(t, id).Completed {
		t.Error("task completed while paused")
	}
	h.noCompletionEffect(t)
}

func TestController_CompleteOtherTask(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	b := h.add(t, "b")
	h.toggle(t, a)

	if _, _, err := h.ctrl.Complete(context.Background(), b); !errors.Is(err, ErrNotActiveTask) {
		t.Errorf("Complete(other) = %v, want ErrNotActiveTask", err)
	}
	if _, _, err := h.ctrl.Complete(context.Background(), "nope"); !errors.Is(err, task.ErrInvalidTaskReference) {
		t.Errorf("Complete(unknown) = %v, want ErrInvalidTaskReference", err)
	}
	if h.ctrl.View().State != StateRunning {
		t.Error("rejected complete changed state")
	}
}

func TestController_RestartCompletedTask(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	h.toggle(t, id)
	h.clock.Advance(10 * time.Second)
	if _, _, err := h.ctrl.Complete(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	<-h.done

	v := h.toggle(t, id)
	if v.State != StateRunning || v.ElapsedMS != 0 {
		t.Errorf("restart view = %+v, want running from zero", v)
	}
	got := h.task(t, id)
	if got.Completed || got.Time != "" {
		t.Errorf("reopened task = %+v, want incomplete with empty time", got)
	}
}

func TestController_PauseDoesNotTouchCompletion(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	h.toggle(t, id)
	writes := h.backend.Sets()
	h.toggle(t, id)
	h.toggle(t, id)
	if h.backend.Sets() != writes {
		t.Error("pause/resume should not write tasks")
	}
}

func TestController_OtherTaskWhileActive(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, "a")
	b := h.add(t, "b")
	h.toggle(t, a)

	if _, err := h.ctrl.StartOrToggle(context.Background(), b); !errors.Is(err, ErrTimerBusy) {
		t.Errorf("toggle b while running a = %v, want ErrTimerBusy", err)
	}
	h.toggle(t, a) // pause
	if _, err := h.ctrl.StartOrToggle(context.Background(), b); !errors.Is(err, ErrTimerBusy) {
		t.Errorf("toggle b while paused a = %v, want ErrTimerBusy", err)
	}
	if s := h.ctrl.Session(); s.TaskID != a || s.State != StatePaused {
		t.Errorf("session = %+v, want paused on a", s)
	}
}

func TestController_InvalidReference(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.StartOrToggle(context.Background(), "missing")
	if !errors.Is(err, task.ErrInvalidTaskReference) {
		t.Errorf("err = %v, want ErrInvalidTaskReference", err)
	}
	if h.ctrl.View().State != StateIdle {
		t.Error("state changed on invalid reference")
	}
}

func TestController_Reset(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	h.toggle(t, id)
	h.clock.Advance(time.Minute)

	v := h.ctrl.Reset(context.Background())
	if v.State != StateIdle || v.ElapsedMS != 0 {
		t.Errorf("view after reset = %+v", v)
	}
	if h.task(t, id).Completed {
		t.Error("reset must not complete the task")
	}
	if h.ctrl.Ticking() {
		t.Error("tick source still active after reset")
	}
	h.noCompletionEffect(t)
}

func TestController_SingleTickSource(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")

	h.toggle(t, id) // start
	h.toggle(t, id) // pause
	h.toggle(t, id) // resume

	tickers := h.clock.Tickers()
	if len(tickers) != 2 {
		t.Fatalf("tickers created = %d, want 2", len(tickers))
	}
	if !tickers[0].stopped.Load() {
		t.Error("ticker from first run not stopped on pause")
	}
	if tickers[1].stopped.Load() {
		t.Error("current ticker stopped while running")
	}

	h.ctrl.Close()
	if !tickers[1].stopped.Load() {
		t.Error("Close did not stop the ticker")
	}
}

func TestController_BackgroundTicks(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	h.toggle(t, id)

	h.clock.Advance(2 * time.Second)
	h.clock.Tickers()[0].ch <- h.clock.Now()

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-h.events.notify:
			if ev.Type != comms.TypeTick {
				continue
			}
			if v := ev.Payload.(View); v.Display != "00:00:02" {
				t.Errorf("tick display = %q, want 00:00:02", v.Display)
			}
			return
		case <-deadline:
			t.Fatal("no tick event from the tick source")
		}
	}
}

func TestController_PublishesSnapshots(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	if _, err := h.ctrl.Add(context.Background(), "   "); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ctrl.Rename(context.Background(), id, "renamed"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ctrl.Rename(context.Background(), id, "renamed"); err != nil {
		t.Fatal(err)
	}
	h.toggle(t, id)

	// add, rename, start; the blank add and the no-op rename publish nothing.
	if n := h.events.count(comms.TypeSnapshot); n != 3 {
		t.Errorf("snapshot events = %d, want 3", n)
	}
}

func TestController_PersistenceWarning(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, "task")
	h.toggle(t, id)
	h.clock.Advance(5 * time.Second)

	h.backend.FailSets(errors.New("quota exceeded"))
	completed, _, err := h.ctrl.Complete(context.Background(), id)
	var perr *task.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Complete = %v, want *task.PersistenceError", err)
	}
	if !completed {
		t.Error("completion should stand despite the failed write")
	}
	if got := h.task(t, id); !got.Completed || got.Time != "00:00:05" {
		t.Errorf("in-memory task = %+v", got)
	}
	if n := h.events.count(comms.TypePersistWarning); n != 1 {
		t.Errorf("persist warnings = %d, want 1", n)
	}

	h.backend.FailSets(nil)
	h.add(t, "next")
	if h.store.Dirty() {
		t.Error("next mutation should retry the write")
	}
}

func TestController_CompletionEffectPanicIsContained(t *testing.T) {
	store := task.NewStore(kv.NewMemoryStore(), task.Options{})
	clock := newFakeClock()
	called := make(chan struct{})
	ctrl := NewController(Config{
		Store: store,
		Clock: clock,
		OnComplete: func(task.Task) {
			close(called)
			panic("confetti jammed")
		},
	})
	defer ctrl.Close()

	id, _ := ctrl.Add(context.Background(), "task")
	if _, err := ctrl.StartOrToggle(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ctrl.Complete(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("effect not invoked")
	}
	if ctrl.View().State != StateIdle {
		t.Error("state affected by effect")
	}
}
