// Package api defines the REST API handlers and interfaces for the tasktimer server.
package api

import (
	"context"

	"github.com/GoCodeAlone/tasktimer/timer"
)

// TimerService is the command surface the API drives.
// Implemented by *timer.Controller.
type TimerService interface {
	Add(ctx context.Context, name string) (string, error)
	Rename(ctx context.Context, id, name string) (bool, error)
	StartOrToggle(ctx context.Context, id string) (timer.View, error)
	Complete(ctx context.Context, id string) (bool, timer.View, error)
	Reset(ctx context.Context) timer.View
	View() timer.View
	Snapshot() timer.Snapshot
}
