// Package domain defines core entities, ports, and domain-specific errors for
// the task scheduler and worker-supervision subsystem.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels).
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
	ErrNoProxyAvailable  = errors.New("no proxy available")
	ErrTaskNotClaimable  = errors.New("task not claimable")
	ErrProfileBlocked    = errors.New("profile blocked")
)

// Context is a type alias to stdlib context.Context, kept for parity with the
// rest of the codebase's layering convention: adapters pass context.Context
// through, the domain package never imports it under its own name.
type Context = context.Context

// TaskStatus captures the lifecycle state of a Task.
type TaskStatus string

// Task status values.
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

// Profile is the persistent identity used to act against the external
// service, including its pacing counters. Invariant: IsBlocked implies the
// profile is never offered for claim purposes, regardless of IsActive.
type Profile struct {
	ProfileID               string
	Name                     string
	IsActive                 bool
	IsBlocked                bool
	IsLoggedOut              bool
	MessagesSentCurrentHour  int
	HourWindowStart          time.Time
	LastMessageAt            *time.Time
}

// Eligible reports whether a profile may be bound to a new Worker: active,
// not blocked, not logged out. Per §4.6, the Supervisor only spawns workers
// for eligible profiles.
func (p Profile) Eligible() bool {
	return p.IsActive && !p.IsBlocked && !p.IsLoggedOut
}

// Group is a purely scoping key; groups are never mutated by the core.
type Group struct {
	GroupID string
}

// Task is one (group, chat) destination with a per-session send budget.
// Invariants: CompletedCycles <= TotalCycles; IsBlocked implies Status ==
// TaskBlocked; Status == TaskInProgress implies AssignedProfileID != "".
type Task struct {
	ID                string
	GroupID           string
	ChatRef           string
	Status            TaskStatus
	AssignedProfileID string
	TotalCycles       int
	CompletedCycles   int
	SuccessCount      int
	FailedCount       int
	IsBlocked         bool
	BlockReason       string
	LastAttemptAt     *time.Time
	NextAvailableAt   *time.Time
}

// Claimable reports whether the task's static (non-time, non-session) fields
// allow it to be offered by TaskQueue.ClaimNext. The time-window and
// session-budget checks happen in the Store's SQL predicate (§4.2); this is
// the in-process mirror used by pure unit tests.
func (t Task) Claimable() bool {
	return !t.IsBlocked && t.CompletedCycles < t.TotalCycles
}

// AttemptStatus is the terminal outcome of one claim, persisted in TaskAttempt.
type AttemptStatus string

// Attempt status values.
const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

// TaskAttempt is an append-only audit row: one per terminal outcome of a claim.
type TaskAttempt struct {
	ID          string
	TaskID      string
	ProfileID   string
	RunID       string
	CycleNumber int
	Status      AttemptStatus
	ErrorKind   string
	MessageText string
	At          time.Time
}

// Message is a templated send body belonging to a Group.
type Message struct {
	ID         string
	GroupID    string
	Text       string
	IsActive   bool
	UsageCount int64
}

// ProxyAssignment is the sticky proxy<->profile binding. Invariant: a given
// proxy is assigned to at most one profile at a time.
type ProxyAssignment struct {
	ProxyURL       string
	ProfileID      string
	IsHealthy      bool
	AssignedAt     *time.Time
	LastRotationAt *time.Time
}

// ProxyStats is one row per (proxy, profile) pair, used by ProxyRegistry to
// decide rotation.
type ProxyStats struct {
	ProxyURL          string
	ProfileID         string
	TotalAttempts     int64
	SuccessfulSends   int64
	ChatNotFoundCount int64
	OtherErrors       int64
	PeriodStart       time.Time
	LastAttemptAt     time.Time
}

// ProfileDailyStats is unique per (profile, date).
type ProfileDailyStats struct {
	ProfileID      string
	Date           time.Time
	MessagesSent   int64
	SuccessfulSends int64
	FailedSends    int64
}

// RunSession is the lifetime of one Supervisor invocation; its RunID scopes
// the per-invocation cycle budget (§4.7).
type RunSession struct {
	RunID string
}
