// Package task defines the task model and the store that owns and persists
// the task list.
package task

import (
	"errors"
	"fmt"
)

// Task is a named item the user tracks time against.
type Task struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
	Time      string `json:"time"` // recorded duration, HH:MM:SS; empty until completed
}

// List is the ordered task collection. Order is insertion order.
type List []Task

// Reversed returns the list newest-first, the order tasks are displayed in.
func (l List) Reversed() List {
	out := make(List, len(l))
	for i, t := range l {
		out[len(l)-1-i] = t
	}
	return out
}

// Index returns the position of the task with the given ID, or -1.
func (l List) Index(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

// ErrInvalidTaskReference is returned for operations on a task that does not exist.
var ErrInvalidTaskReference = errors.New("invalid task reference")

// PersistenceError reports that the durable store rejected a write. The
// in-memory mutation that triggered it has been kept.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persist tasks: %v", e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

// CorruptStateError reports that the persisted task list could not be decoded.
type CorruptStateError struct {
	Key    string
	Reason string
	Err    error
}

func (e *CorruptStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt state under %q: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt state under %q: %s", e.Key, e.Reason)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }
