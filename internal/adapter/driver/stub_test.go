package driver_test

import (
	"context"
	"testing"

	"github.com/relaygrid/fleetsched/internal/adapter/driver"
	"github.com/relaygrid/fleetsched/internal/domain"
)

func TestStubOpenSendClose(t *testing.T) {
	ctx := context.Background()
	d := driver.NewStub()

	sess, err := d.Open(ctx, domain.Profile{ProfileID: "p1"}, "proxy://1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.OpenCount() != 1 {
		t.Errorf("OpenCount() = %d, want 1", d.OpenCount())
	}

	outcome, err := d.SendAction(ctx, sess, "chat-1", "hello")
	if err != nil {
		t.Fatalf("SendAction: %v", err)
	}
	if outcome.Kind != domain.OutcomeSuccess {
		t.Errorf("SendAction unmapped chat = %q, want success", outcome.Kind)
	}

	if err := d.Close(ctx, sess); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if d.CloseCount() != 1 {
		t.Errorf("CloseCount() = %d, want 1", d.CloseCount())
	}
}

func TestStubOutcomeTableMatchesPrefix(t *testing.T) {
	ctx := context.Background()
	d := driver.NewStub()
	d.Outcomes["gone-"] = domain.Outcome{Kind: domain.OutcomeChatNotFound}
	d.Outcomes["slow-"] = domain.Outcome{Kind: domain.OutcomeSlowMode, WaitSeconds: 30}

	sess, err := d.Open(ctx, domain.Profile{ProfileID: "p1"}, "proxy://1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	outcome, err := d.SendAction(ctx, sess, "gone-chat", "hello")
	if err != nil {
		t.Fatalf("SendAction: %v", err)
	}
	if outcome.Kind != domain.OutcomeChatNotFound {
		t.Errorf("SendAction gone- chat = %q, want chat_not_found", outcome.Kind)
	}

	outcome, err = d.SendAction(ctx, sess, "slow-chat", "hello")
	if err != nil {
		t.Fatalf("SendAction: %v", err)
	}
	if outcome.Kind != domain.OutcomeSlowMode || outcome.WaitSeconds != 30 {
		t.Errorf("SendAction slow- chat = %+v, want slow_mode/30", outcome)
	}
}

func TestStubSendActionRejectsForeignSession(t *testing.T) {
	ctx := context.Background()
	d := driver.NewStub()
	if _, err := d.SendAction(ctx, "not-a-session", "chat-1", "hello"); err == nil {
		t.Fatal("SendAction with a foreign session type should fail")
	}
}

var _ domain.Driver = (*driver.Stub)(nil)
