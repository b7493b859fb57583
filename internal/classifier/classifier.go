// Package classifier implements the pure ErrorClassifier described in §4.4:
// a total function from an external Outcome to a {task, profile, proxy,
// worker} Decision quadruple. It performs no I/O and holds no state — the
// threshold check for "too many failures" (which needs the task's current
// failure streak) is applied by the TaskQueue implementation after
// classification, not here (see internal/adapter/repo/postgres/tasks_repo.go).
package classifier

import "github.com/relaygrid/fleetsched/internal/domain"

// Default is the table-driven ErrorClassifier of §4.4.
type Default struct{}

// New constructs the default classifier.
func New() Default { return Default{} }

// Classify maps outcome to a Decision. Unknown kinds are normalized to
// OutcomeUnexpectedError before dispatch, so the switch below is total.
func (Default) Classify(outcome domain.Outcome) domain.Decision {
	kind := outcome.Kind.Normalize()

	switch kind {
	case domain.OutcomeSuccess:
		return domain.Decision{
			Task:    domain.TaskActionAdvanceCycle,
			Profile: domain.ProfileActionIncrementCtr,
			Proxy:   domain.ProxyActionRecordSuccess,
			Worker:  domain.WorkerContinue,
		}

	case domain.OutcomeChatNotFound:
		return domain.Decision{
			Task:    domain.TaskActionBlockChatGone,
			Profile: domain.ProfileActionNone,
			Proxy:   domain.ProxyActionRecordChatNF,
			Worker:  domain.WorkerContinue,
		}

	case domain.OutcomeAccountFrozen:
		return domain.Decision{
			Task:    domain.TaskActionReleaseNoBlock,
			Profile: domain.ProfileActionBlock,
			Proxy:   domain.ProxyActionNone,
			Worker:  domain.WorkerExitDoNotRestart,
		}

	case domain.OutcomeSlowMode:
		return domain.Decision{
			Task:    domain.TaskActionSlowModeDelay,
			Profile: domain.ProfileActionNone,
			Proxy:   domain.ProxyActionNone,
			Worker:  domain.WorkerContinue,
		}

	default:
		if domain.IsRestriction(kind) {
			return domain.Decision{
				Task:    domain.TaskActionRescheduleOnly,
				Profile: domain.ProfileActionNone,
				Proxy:   domain.ProxyActionNone,
				Worker:  domain.WorkerContinue,
			}
		}
		// Transport faults and unexpected_error: reschedule here; the
		// TaskQueue escalates to TaskActionBlockTooManyFailures once the
		// task's failure streak crosses max_attempts_before_block.
		return domain.Decision{
			Task:    domain.TaskActionRescheduleOnly,
			Profile: domain.ProfileActionNone,
			Proxy:   domain.ProxyActionRecordOtherErr,
			Worker:  domain.WorkerContinue,
		}
	}
}

var _ domain.ErrorClassifier = Default{}
