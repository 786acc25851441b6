package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestTargetTransitions(t *testing.T) {
	target := NewTarget(uuid.New(), 4242, "")
	if target.Status != TargetPending {
		t.Fatalf("new target status = %s, want pending", target.Status)
	}
	if target.Open() {
		t.Fatal("pending target must not report open")
	}

	target.MarkContacted()
	if target.Status != TargetContacted || target.Attempts != 1 {
		t.Fatalf("after contact: status=%s attempts=%d", target.Status, target.Attempts)
	}
	if !target.Open() {
		t.Fatal("contacted target must report open")
	}

	target.MarkFailed("  peer rejected  ")
	if target.FailReason != "peer rejected" {
		t.Fatalf("fail reason = %q, want trimmed", target.FailReason)
	}
	if target.Open() {
		t.Fatal("failed target must not report open")
	}
}

func TestTargetRelease(t *testing.T) {
	accountID := uuid.New()
	target := NewTarget(uuid.New(), 4242, "")
	target.Status = TargetAssigned
	target.AssignedAccountID = &accountID

	target.Release()
	if target.Status != TargetPending {
		t.Fatalf("released status = %s, want pending", target.Status)
	}
	if target.AssignedAccountID != nil {
		t.Fatal("released target must have no assignee")
	}
}

func TestNewTargetTrimsUsername(t *testing.T) {
	target := NewTarget(uuid.New(), 0, "  maria_v  ")
	if target.Username != "maria_v" {
		t.Fatalf("username = %q, want maria_v", target.Username)
	}
}
