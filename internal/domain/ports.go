package domain

import "time"

// TxMode selects the isolation/locking intent of a Store transaction.
type TxMode int

// Transaction modes.
const (
	TxReadOnly TxMode = iota
	TxReadWrite
)

// Store provides typed, transactional access to the relational backend
// (§4.1). WithTx executes fn inside a single transaction: commit on nil
// error, rollback otherwise. A WithTx call made inside fn's context joins
// the outer transaction instead of opening a nested one.
type Store interface {
	WithTx(ctx Context, mode TxMode, fn func(ctx Context) error) error
}

// TaskQueue hands each Worker the next task it may process, exactly once,
// while enforcing atomic claim, pacing, and the per-profile hourly cap
// (§4.2).
type TaskQueue interface {
	// ClaimNext returns the next eligible task for profileID under runID, or
	// ok=false if none is currently available (rate-limited or exhausted).
	ClaimNext(ctx Context, groupID, profileID, runID string) (task Task, ok bool, err error)

	// RecordSuccess appends a successful TaskAttempt and advances the task's
	// cycle/pacing state (§4.2).
	RecordSuccess(ctx Context, task Task, profileID, runID string, cycleNumber int, messageText string) error

	// RecordFailure appends a failed TaskAttempt and applies decision's
	// task-level action; the profile/proxy side effects are applied by the
	// caller via ProxyRegistry/ProfileRepository in the same transaction.
	// waitSeconds carries Outcome.WaitSeconds, meaningful only when kind is
	// OutcomeSlowMode.
	RecordFailure(ctx Context, task Task, profileID, runID string, cycleNumber int, kind OutcomeKind, waitSeconds int, decision Decision) error

	// ResetStale returns any in_progress task whose last_attempt_at is older
	// than maxAge, or is unset, back to pending, without touching its
	// statistics (§4.2).
	ResetStale(ctx Context, maxAge time.Duration) (reclaimed int, err error)

	// HasPendingWork reports whether groupID still has any task that could
	// ever be claimed again (not blocked, cycle budget not exhausted),
	// independent of the current pacing window or hourly cap. A Worker uses
	// this to distinguish "rate-limited, try again later" from "this group
	// is fully drained" when ClaimNext returns ok=false (§4.5's CLAIMING
	// state).
	HasPendingWork(ctx Context, groupID string) (bool, error)
}

// ProxyRegistry supplies a healthy proxy URL for each Profile, sticky across
// restarts, rotating on elevated chat_not_found rate (§4.3).
type ProxyRegistry interface {
	Resolve(ctx Context, profileID string) (proxyURL string, ok bool, err error)
	Assign(ctx Context, profileID string) (proxyURL string, ok bool, err error)
	Rotate(ctx Context, profileID string) (proxyURL string, ok bool, err error)
	MarkUnhealthy(ctx Context, proxyURL, reason string) error
	ObserveOutcome(ctx Context, profileID string, kind OutcomeKind) error
}

// ProfileRepository manages Profile rows: pacing counters and the
// blocked/logged-out flags the classifier sets (§3).
type ProfileRepository interface {
	Get(ctx Context, profileID string) (Profile, error)
	Block(ctx Context, profileID string) error
	RefreshHourWindow(ctx Context, profileID string, now time.Time, windowLen time.Duration) (Profile, error)
}

// MessageRepository supplies active Message bodies for the SENDING state.
type MessageRepository interface {
	RandomActive(ctx Context, groupID string) (Message, bool, error)
}

// Driver (consumed, §6): opaque browser/session handle over the external
// application. The core never inspects the protocol used to implement it.
type Driver interface {
	Open(ctx Context, profile Profile, proxyURL string) (Session, error)
	SendAction(ctx Context, session Session, chatRef, text string) (Outcome, error)
	Close(ctx Context, session Session) error
}

// Session is an opaque handle returned by Driver.Open.
type Session interface{}

// ProfileSource (consumed, §6): already-validated profile records for a group.
type ProfileSource interface {
	ListProfiles(ctx Context, groupID string) ([]Profile, error)
}

// ProxySource (consumed, §6): a flat list of opaque proxy credential strings.
type ProxySource interface {
	ListProxies(ctx Context) ([]string, error)
}

// Clock is an injectable source of now, enabling deterministic tests (§4.7).
type Clock interface {
	Now() time.Time
}

// StatusSnapshot is the control surface's `status(group)` response (§6):
// task counts grouped by status, and by the profile currently assigned.
type StatusSnapshot struct {
	ByStatus  map[TaskStatus]int
	ByProfile map[string]int
}

// StatsReader supplies the read-only aggregate queries behind the control
// surface's status command.
type StatsReader interface {
	Snapshot(ctx Context, groupID string) (StatusSnapshot, error)
}
