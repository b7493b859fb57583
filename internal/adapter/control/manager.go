package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaygrid/fleetsched/internal/supervisor"
)

// SupervisorFactory builds a fresh Supervisor bound to groupID and
// workerCount, wired with whatever Store/TaskQueue/ProxyRegistry/Driver the
// caller's dependency graph provides.
type SupervisorFactory func(groupID string, workerCount int) *supervisor.Supervisor

// Manager tracks the one Supervisor run per group this control surface
// currently owns, so start/stop/status can be served by independent HTTP
// requests against long-lived background goroutines.
type Manager struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	newSup  SupervisorFactory
}

// NewManager constructs a Manager that builds Supervisors via newSup.
func NewManager(newSup SupervisorFactory) *Manager {
	return &Manager{cancels: make(map[string]context.CancelFunc), newSup: newSup}
}

// Start launches a Supervisor for groupID if one is not already running.
func (m *Manager) Start(groupID string, workerCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.cancels[groupID]; running {
		return fmt.Errorf("group %q already has a run in progress", groupID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[groupID] = cancel

	sup := m.newSup(groupID, workerCount)
	go func() {
		_ = sup.Start(ctx)
		m.mu.Lock()
		delete(m.cancels, groupID)
		m.mu.Unlock()
	}()
	return nil
}

// Stop signals the running Supervisor for groupID to shut down gracefully.
func (m *Manager) Stop(groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, running := m.cancels[groupID]
	if !running {
		return fmt.Errorf("group %q has no run in progress", groupID)
	}
	cancel()
	delete(m.cancels, groupID)
	return nil
}

// Running reports whether groupID currently has an active Supervisor run.
func (m *Manager) Running(groupID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancels[groupID]
	return ok
}
