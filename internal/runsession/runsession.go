// Package runsession mints the per-Supervisor-invocation run_id that scopes
// each Worker's session cycle budget (§4.7). The run_id is generated once at
// Supervisor start and copied, never shared, into every Worker it launches.
package runsession

import (
	"github.com/google/uuid"
	"github.com/relaygrid/fleetsched/internal/domain"
)

// New mints a fresh RunSession with a random run_id.
func New() domain.RunSession {
	return domain.RunSession{RunID: uuid.NewString()}
}
