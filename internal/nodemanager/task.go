package nodemanager

import (
	"context"
	"fmt"

	"github.com/nearloop/backend/infrastructure/logging"
)

// Command is one action a TaskManager executes serially, in the order
// received (spec.md §4.9's restart/data-reset command surface).
type Command int

const (
	// CommandRestart stops then restarts the backend, no data loss.
	CommandRestart Command = iota
	// CommandDataReset stops the backend, wipes its data directory, then
	// restarts it.
	CommandDataReset
)

func (c Command) String() string {
	switch c {
	case CommandRestart:
		return "backend_restart"
	case CommandDataReset:
		return "backend_data_reset"
	default:
		return "unknown"
	}
}

// backendController is the subset of BackendController's behavior
// TaskManager depends on, narrowed to an interface so tests can inject a
// fake instead of shelling out to systemctl.
type backendController interface {
	StopBackend(ctx context.Context) error
	StartBackend(ctx context.Context) error
}

// TaskManagerDeps bundles what TaskManager needs to carry out a command.
type TaskManagerDeps struct {
	Controller backendController
	DataDir    string
	// AllowDataReset gates CommandDataReset the way the original gates it
	// behind a config flag, so a misrouted command can't wipe production
	// data by accident.
	AllowDataReset bool
	Log            *logging.Logger
}

// TaskManager serializes restart/reset commands onto a single worker
// loop (spec.md §5: "node-manager... subscribe[s] to a broadcast
// shutdown; on receipt they finish in-flight units and return").
type TaskManager struct {
	deps     TaskManagerDeps
	commands chan Command
}

// NewTaskManager builds a TaskManager with a depth-1 command queue,
// mirroring the original's mpsc::channel(1): while one command is being
// handled, one more may wait in the queue; a further Send blocks.
func NewTaskManager(deps TaskManagerDeps) *TaskManager {
	return &TaskManager{deps: deps, commands: make(chan Command, 1)}
}

// Send enqueues a command, blocking if one is already queued. It
// returns ctx.Err() if ctx is cancelled first.
func (t *TaskManager) Send(ctx context.Context, cmd Command) error {
	select {
	case t.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes commands until ctx is cancelled.
func (t *TaskManager) Run(ctx context.Context) {
	for {
		select {
		case cmd := <-t.commands:
			if err := t.handle(ctx, cmd); err != nil {
				t.deps.Log.Error(ctx, "task command failed", err, map[string]interface{}{"command": cmd.String()})
			} else {
				t.deps.Log.Info(ctx, "task command completed", map[string]interface{}{"command": cmd.String()})
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *TaskManager) handle(ctx context.Context, cmd Command) error {
	if err := t.deps.Controller.StopBackend(ctx); err != nil {
		return fmt.Errorf("stop backend: %w", err)
	}

	if cmd == CommandDataReset {
		if !t.deps.AllowDataReset {
			t.deps.Log.Warn(ctx, "skipping backend data reset, disabled in config", nil)
		} else if err := ResetBackendData(t.deps.DataDir); err != nil {
			return fmt.Errorf("reset backend data: %w", err)
		}
	}

	if err := t.deps.Controller.StartBackend(ctx); err != nil {
		return fmt.Errorf("start backend: %w", err)
	}
	return nil
}
