package classifier_test

import (
	"testing"

	"github.com/relaygrid/fleetsched/internal/classifier"
	"github.com/relaygrid/fleetsched/internal/domain"
)

func TestClassifyTable(t *testing.T) {
	c := classifier.New()

	cases := []struct {
		kind   domain.OutcomeKind
		task   domain.TaskAction
		worker domain.WorkerDirective
	}{
		{domain.OutcomeSuccess, domain.TaskActionAdvanceCycle, domain.WorkerContinue},
		{domain.OutcomeChatNotFound, domain.TaskActionBlockChatGone, domain.WorkerContinue},
		{domain.OutcomeAccountFrozen, domain.TaskActionReleaseNoBlock, domain.WorkerExitDoNotRestart},
		{domain.OutcomeNeedToJoin, domain.TaskActionRescheduleOnly, domain.WorkerContinue},
		{domain.OutcomePremiumRequired, domain.TaskActionRescheduleOnly, domain.WorkerContinue},
		{domain.OutcomeStarsRequired, domain.TaskActionRescheduleOnly, domain.WorkerContinue},
		{domain.OutcomeUserBlocked, domain.TaskActionRescheduleOnly, domain.WorkerContinue},
		{domain.OutcomeInputUnavailable, domain.TaskActionRescheduleOnly, domain.WorkerContinue},
		{domain.OutcomeSlowMode, domain.TaskActionSlowModeDelay, domain.WorkerContinue},
		{domain.OutcomeNetworkError, domain.TaskActionRescheduleOnly, domain.WorkerContinue},
		{domain.OutcomeSelectorMissing, domain.TaskActionRescheduleOnly, domain.WorkerContinue},
		{domain.OutcomeTimeout, domain.TaskActionRescheduleOnly, domain.WorkerContinue},
		{domain.OutcomeUnexpectedError, domain.TaskActionRescheduleOnly, domain.WorkerContinue},
		{domain.OutcomeKind("totally_unknown"), domain.TaskActionRescheduleOnly, domain.WorkerContinue},
	}

	for _, tc := range cases {
		got := c.Classify(domain.Outcome{Kind: tc.kind})
		if got.Task != tc.task {
			t.Errorf("kind=%s: Task = %s, want %s", tc.kind, got.Task, tc.task)
		}
		if got.Worker != tc.worker {
			t.Errorf("kind=%s: Worker = %s, want %s", tc.kind, got.Worker, tc.worker)
		}
	}
}

func TestClassifyRestrictionsDoNotTouchProfileOrProxy(t *testing.T) {
	c := classifier.New()
	for _, kind := range []domain.OutcomeKind{
		domain.OutcomeNeedToJoin, domain.OutcomePremiumRequired,
		domain.OutcomeStarsRequired, domain.OutcomeUserBlocked, domain.OutcomeInputUnavailable,
	} {
		d := c.Classify(domain.Outcome{Kind: kind})
		if d.Profile != domain.ProfileActionNone {
			t.Errorf("kind=%s: Profile = %s, want none", kind, d.Profile)
		}
		if d.Proxy != domain.ProxyActionNone {
			t.Errorf("kind=%s: Proxy = %s, want none", kind, d.Proxy)
		}
	}
}

func TestClassifyTransportFaultsRecordOtherError(t *testing.T) {
	c := classifier.New()
	for _, kind := range []domain.OutcomeKind{
		domain.OutcomeNetworkError, domain.OutcomeSelectorMissing,
		domain.OutcomeTimeout, domain.OutcomeUnexpectedError,
	} {
		d := c.Classify(domain.Outcome{Kind: kind})
		if d.Proxy != domain.ProxyActionRecordOtherErr {
			t.Errorf("kind=%s: Proxy = %s, want record_other_error", kind, d.Proxy)
		}
	}
}
