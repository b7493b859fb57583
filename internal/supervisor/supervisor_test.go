package supervisor_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaygrid/fleetsched/internal/domain"
	"github.com/relaygrid/fleetsched/internal/supervisor"
	"github.com/relaygrid/fleetsched/internal/worker"
)

type fakeTaskQueue struct {
	resetCalls atomic.Int64
}

func (f *fakeTaskQueue) ClaimNext(domain.Context, string, string, string) (domain.Task, bool, error) {
	return domain.Task{}, false, nil
}
func (f *fakeTaskQueue) RecordSuccess(domain.Context, domain.Task, string, string, int, string) error {
	return nil
}
func (f *fakeTaskQueue) RecordFailure(domain.Context, domain.Task, string, string, int, domain.OutcomeKind, int, domain.Decision) error {
	return nil
}
func (f *fakeTaskQueue) ResetStale(domain.Context, time.Duration) (int, error) {
	f.resetCalls.Add(1)
	return 0, nil
}
func (f *fakeTaskQueue) HasPendingWork(domain.Context, string) (bool, error) { return false, nil }

type fakeProfileSource struct {
	profiles []domain.Profile
}

func (f fakeProfileSource) ListProfiles(domain.Context, string) ([]domain.Profile, error) {
	return f.profiles, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// shutdownWorker is a worker.Worker whose Run returns ExitNormal right away:
// ClaimNext finds nothing and HasPendingWork reports the group drained,
// simulating a Worker that found no work and shut down.
func shutdownWorker() *worker.Worker {
	return &worker.Worker{
		Tasks: noopTasks{},
		Driver: noopDriver{},
		Clock:  noopClock{},
		Proxies: workingProxySource{},
	}
}

type noopTasks struct{}

func (noopTasks) ClaimNext(domain.Context, string, string, string) (domain.Task, bool, error) {
	return domain.Task{}, false, nil
}
func (noopTasks) RecordSuccess(domain.Context, domain.Task, string, string, int, string) error {
	return nil
}
func (noopTasks) RecordFailure(domain.Context, domain.Task, string, string, int, domain.OutcomeKind, int, domain.Decision) error {
	return nil
}
func (noopTasks) ResetStale(domain.Context, time.Duration) (int, error) { return 0, nil }
func (noopTasks) HasPendingWork(domain.Context, string) (bool, error)   { return false, nil }

type noopDriver struct{}

func (noopDriver) Open(domain.Context, domain.Profile, string) (domain.Session, error) { return nil, nil }
func (noopDriver) SendAction(domain.Context, domain.Session, string, string) (domain.Outcome, error) {
	return domain.Outcome{Kind: domain.OutcomeSuccess}, nil
}
func (noopDriver) Close(domain.Context, domain.Session) error { return nil }

type noopClock struct{}

func (noopClock) Now() time.Time { return time.Time{} }

type workingProxySource struct{}

func (workingProxySource) Resolve(domain.Context, string) (string, bool, error) {
	return "proxy://1", true, nil
}
func (workingProxySource) Assign(domain.Context, string) (string, bool, error) {
	return "proxy://1", true, nil
}
func (workingProxySource) Rotate(domain.Context, string) (string, bool, error) {
	return "proxy://2", true, nil
}
func (workingProxySource) MarkUnhealthy(domain.Context, string, string) error { return nil }
func (workingProxySource) ObserveOutcome(domain.Context, string, domain.OutcomeKind) error {
	return nil
}

func TestStartWithNoEligibleProfilesReturnsImmediately(t *testing.T) {
	tasks := &fakeTaskQueue{}
	sup := &supervisor.Supervisor{
		GroupID:  "g1",
		Cfg:      supervisor.Config{WorkerCount: 3, ShutdownGrace: time.Second},
		Tasks:    tasks,
		Profiles: fakeProfileSource{profiles: []domain.Profile{{ProfileID: "p1", IsBlocked: true}}},
		NewWorker: func(domain.Profile, string) *worker.Worker { return shutdownWorker() },
		Log:      testLogger(),
	}

	done := make(chan error, 1)
	go func() { done <- sup.Start(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return for a group with no eligible profiles")
	}
	if tasks.resetCalls.Load() != 1 {
		t.Errorf("ResetStale called %d times, want 1 (no final reset since Start returned before the shutdown path)", tasks.resetCalls.Load())
	}
}

func TestStartSpawnsOneWorkerPerEligibleProfileAndShutsDownOnCancel(t *testing.T) {
	tasks := &fakeTaskQueue{}
	var spawned atomic.Int64

	sup := &supervisor.Supervisor{
		GroupID: "g1",
		Cfg:     supervisor.Config{WorkerCount: 5, ShutdownGrace: 2 * time.Second},
		Tasks:   tasks,
		Profiles: fakeProfileSource{profiles: []domain.Profile{
			{ProfileID: "p1", IsActive: true},
			{ProfileID: "p2", IsActive: true},
			{ProfileID: "p3", IsActive: true, IsBlocked: true},
		}},
		NewWorker: func(domain.Profile, string) *worker.Worker {
			spawned.Add(1)
			return &worker.Worker{
				Tasks:      noopTasks{},
				Proxies:    workingProxySource{},
				Driver:     noopDriver{},
				Clock:      noopClock{},
				Classifier: passthroughClassifier{},
			}
		},
		Log: testLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancellation")
	}
	if spawned.Load() != 2 {
		t.Errorf("spawned %d workers, want 2 (p3 is blocked, ineligible)", spawned.Load())
	}
}

type passthroughClassifier struct{}

func (passthroughClassifier) Classify(domain.Outcome) domain.Decision {
	return domain.Decision{Worker: domain.WorkerContinue}
}
