package domain

// OutcomeKind is a tagged sum over every terminal result a Driver's
// SendAction can produce (§4.4). The classifier is a total function from
// OutcomeKind to an action triple; an unrecognised kind must map to
// OutcomeUnexpectedError rather than panic or silently drop (§8 property 8).
type OutcomeKind string

// Outcome kinds, exactly as enumerated in §4.4.
const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeChatNotFound     OutcomeKind = "chat_not_found"
	OutcomeAccountFrozen    OutcomeKind = "account_frozen"
	OutcomeNeedToJoin       OutcomeKind = "need_to_join"
	OutcomePremiumRequired  OutcomeKind = "premium_required"
	OutcomeStarsRequired    OutcomeKind = "stars_required"
	OutcomeUserBlocked      OutcomeKind = "user_blocked"
	OutcomeInputUnavailable OutcomeKind = "input_unavailable"
	OutcomeSlowMode         OutcomeKind = "slow_mode"
	OutcomeNetworkError     OutcomeKind = "network_error"
	OutcomeSelectorMissing  OutcomeKind = "selector_missing"
	OutcomeTimeout          OutcomeKind = "timeout"
	OutcomeUnexpectedError  OutcomeKind = "unexpected_error"
)

// restrictionKinds are the per-destination restrictions that are recorded as
// a failed attempt without advancing the task's cycle count (§4.4). A
// restriction never triggers the too-many-failures block by itself (§9 Open
// Question), but as a failed attempt it is still counted in the failure
// streak that a later transport fault is checked against
// max_attempts_before_block.
var restrictionKinds = map[OutcomeKind]bool{
	OutcomeNeedToJoin:       true,
	OutcomePremiumRequired:  true,
	OutcomeStarsRequired:    true,
	OutcomeUserBlocked:      true,
	OutcomeInputUnavailable: true,
}

// transportFaultKinds count toward max_attempts_before_block (§4.4's last row).
var transportFaultKinds = map[OutcomeKind]bool{
	OutcomeNetworkError:    true,
	OutcomeSelectorMissing: true,
	OutcomeTimeout:         true,
	OutcomeUnexpectedError: true,
}

// IsRestriction reports whether kind is a per-destination restriction.
func IsRestriction(kind OutcomeKind) bool { return restrictionKinds[kind] }

// IsTransportFault reports whether kind is a transport/driver fault that
// counts toward the too-many-failures block threshold.
func IsTransportFault(kind OutcomeKind) bool { return transportFaultKinds[kind] }

// Normalize maps any kind this process does not recognise to
// OutcomeUnexpectedError, so the classifier always has a defined case.
func (k OutcomeKind) Normalize() OutcomeKind {
	switch k {
	case OutcomeSuccess, OutcomeChatNotFound, OutcomeAccountFrozen,
		OutcomeNeedToJoin, OutcomePremiumRequired, OutcomeStarsRequired,
		OutcomeUserBlocked, OutcomeInputUnavailable, OutcomeSlowMode,
		OutcomeNetworkError, OutcomeSelectorMissing, OutcomeTimeout,
		OutcomeUnexpectedError:
		return k
	default:
		return OutcomeUnexpectedError
	}
}

// Outcome is the tagged result of one SendAction invocation (§6, "Driver
// (consumed)"). WaitSeconds is only meaningful when Kind ==
// OutcomeSlowMode.
type Outcome struct {
	Kind        OutcomeKind
	WaitSeconds int
	Detail      string
}

// TaskAction is what the classifier decided a Task should do.
type TaskAction string

// Task actions.
const (
	TaskActionAdvanceCycle   TaskAction = "advance_cycle"   // completed_cycles++, reschedule by cycle_delay
	TaskActionBlockChatGone  TaskAction = "block_chat_not_found"
	TaskActionReleaseNoBlock TaskAction = "release_no_block" // account_frozen: release claim, no task-level block
	TaskActionRescheduleOnly TaskAction = "reschedule_only"  // record failed attempt, do not advance cycle
	TaskActionSlowModeDelay  TaskAction = "slow_mode_delay"  // release claim, next_available_at = now+wait+jitter
	TaskActionBlockTooManyFailures TaskAction = "block_too_many_failures"
)

// ProfileAction is what the classifier decided a Profile should do.
type ProfileAction string

// Profile actions.
const (
	ProfileActionNone         ProfileAction = "none"
	ProfileActionIncrementCtr ProfileAction = "increment_counters"
	ProfileActionBlock        ProfileAction = "block" // is_blocked=true, is_active=false
)

// ProxyAction is what the classifier decided ProxyStats/ProxyRegistry should do.
type ProxyAction string

// Proxy actions.
const (
	ProxyActionNone            ProxyAction = "none"
	ProxyActionRecordSuccess   ProxyAction = "record_success"
	ProxyActionRecordChatNF    ProxyAction = "record_chat_not_found"
	ProxyActionRecordOtherErr  ProxyAction = "record_other_error"
)

// WorkerDirective tells the Worker state machine what to do after recording.
type WorkerDirective string

// Worker directives.
const (
	WorkerContinue       WorkerDirective = "continue"
	WorkerExitDoNotRestart WorkerDirective = "exit_do_not_restart"
)

// Decision is the classifier's output: a {task-action, profile-action,
// proxy-action, worker-directive} quadruple for one Outcome (§4.4).
type Decision struct {
	Task    TaskAction
	Profile ProfileAction
	Proxy   ProxyAction
	Worker  WorkerDirective
}

// ErrorClassifier maps an Outcome to a Decision. Implementations must be pure
// with respect to their inputs and perform no I/O (§4.4's totality property).
type ErrorClassifier interface {
	Classify(outcome Outcome) Decision
}
