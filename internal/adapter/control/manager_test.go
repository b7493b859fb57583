package control_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/relaygrid/fleetsched/internal/adapter/control"
	"github.com/relaygrid/fleetsched/internal/domain"
	"github.com/relaygrid/fleetsched/internal/supervisor"
)

// blockingTasks is a domain.TaskQueue whose ResetStale blocks until ctx is
// cancelled, so Supervisor.Start (which calls ResetStale first thing) stays
// "running" for exactly as long as the test needs it to.
type blockingTasks struct{}

func (blockingTasks) ClaimNext(ctx domain.Context, groupID, profileID, runID string) (domain.Task, bool, error) {
	return domain.Task{}, false, nil
}
func (blockingTasks) RecordSuccess(ctx domain.Context, task domain.Task, profileID, runID string, cycleNumber int, messageText string) error {
	return nil
}
func (blockingTasks) RecordFailure(ctx domain.Context, task domain.Task, profileID, runID string, cycleNumber int, kind domain.OutcomeKind, waitSeconds int, decision domain.Decision) error {
	return nil
}
func (blockingTasks) ResetStale(ctx domain.Context, maxAge time.Duration) (int, error) {
	<-ctx.Done()
	return 0, nil
}
func (blockingTasks) HasPendingWork(ctx domain.Context, groupID string) (bool, error) { return false, nil }

type emptyProfiles struct{}

func (emptyProfiles) ListProfiles(ctx domain.Context, groupID string) ([]domain.Profile, error) {
	return nil, nil
}

func blockingSupervisor(groupID string, workerCount int) *supervisor.Supervisor {
	return &supervisor.Supervisor{
		GroupID:  groupID,
		Tasks:    blockingTasks{},
		Profiles: emptyProfiles{},
		Cfg:      supervisor.Config{WorkerCount: workerCount},
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestManagerStartStopLifecycle(t *testing.T) {
	started := make(chan struct{})
	mgr := control.NewManager(func(groupID string, workerCount int) *supervisor.Supervisor {
		close(started)
		return blockingSupervisor(groupID, workerCount)
	})

	if mgr.Running("g1") {
		t.Fatal("Running(g1) = true before Start")
	}
	if err := mgr.Start("g1", 3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("supervisor factory was never invoked")
	}
	if !mgr.Running("g1") {
		t.Error("Running(g1) = false after Start")
	}

	if err := mgr.Stop("g1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if mgr.Running("g1") {
		t.Error("Running(g1) = true after Stop")
	}
}

func TestManagerStartRejectsDuplicateGroup(t *testing.T) {
	mgr := control.NewManager(func(groupID string, workerCount int) *supervisor.Supervisor {
		return blockingSupervisor(groupID, workerCount)
	})
	if err := mgr.Start("g1", 1); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer func() { _ = mgr.Stop("g1") }()

	if err := mgr.Start("g1", 1); err == nil {
		t.Error("second Start for the same group should have errored")
	}
}

func TestManagerStopUnknownGroupErrors(t *testing.T) {
	mgr := control.NewManager(func(groupID string, workerCount int) *supervisor.Supervisor {
		return blockingSupervisor(groupID, workerCount)
	})
	if err := mgr.Stop("never-started"); err == nil {
		t.Error("Stop on an unknown group should have errored")
	}
}

var _ domain.TaskQueue = blockingTasks{}
var _ domain.ProfileSource = emptyProfiles{}
