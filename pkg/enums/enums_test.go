package enums

import "testing"

func TestParseEventType(t *testing.T) {
	got, err := ParseEventType(" application.accepted ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != EventApplicationAccepted {
		t.Fatalf("expected application.accepted, got %q", got)
	}
	if _, err := ParseEventType("student.*"); err == nil {
		t.Fatalf("wildcards are not event types")
	}
}

func TestEventTypeSegments(t *testing.T) {
	if EventAffectationCreated.Entity() != "affectation" {
		t.Fatalf("unexpected entity %q", EventAffectationCreated.Entity())
	}
	if EventAffectationCreated.Action() != "created" {
		t.Fatalf("unexpected action %q", EventAffectationCreated.Action())
	}
}

func TestEventTypesAreWellFormed(t *testing.T) {
	seen := map[EventType]bool{}
	for _, et := range EventTypes() {
		if seen[et] {
			t.Fatalf("duplicate event type %q", et)
		}
		seen[et] = true
		if et.Entity() == "" || et.Action() == "" {
			t.Fatalf("event type %q must have entity and action", et)
		}
	}
}

func TestUserRoleDecisionRights(t *testing.T) {
	if UserRoleStudent.CanDecideApplications() {
		t.Fatalf("students cannot decide applications")
	}
	if !UserRoleEncadrant.CanDecideApplications() || !UserRoleAdmin.CanDecideApplications() {
		t.Fatalf("encadrants and admins decide applications")
	}
	if _, err := ParseUserRole("owner"); err == nil {
		t.Fatalf("expected invalid role error")
	}
}

func TestApplicationStatusDecision(t *testing.T) {
	if ApplicationStatusPending.IsDecision() || !ApplicationStatusRejected.IsDecision() {
		t.Fatalf("unexpected decision classification")
	}
	if _, err := ParseApplicationStatus("archived"); err == nil {
		t.Fatalf("expected invalid status error")
	}
}

func TestNotificationChannel(t *testing.T) {
	if _, err := ParseNotificationChannel("sms"); err == nil {
		t.Fatalf("sms is not a supported channel")
	}
	if !NotificationChannelPush.IsValid() {
		t.Fatalf("push is valid")
	}
	if !DeadLetterReasonPoison.IsValid() {
		t.Fatalf("poison is a valid reason")
	}
}
