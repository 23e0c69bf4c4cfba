package matching

import (
	"testing"

	"bookmatch/internal/domain"
)

func TestUnlockRequiresApprovedSubmission(t *testing.T) {
	assignment := domain.CanonicalAssignment{ViewerID: "v", AssignedIDs: []string{"t"}}
	for _, status := range []string{domain.SubmissionDraft, domain.SubmissionRejected, "", "pending"} {
		if got := Unlock("v", "t", status, assignment); got != domain.Locked {
			t.Fatalf("status %q: got %s, want LOCKED even for assigned target", status, got)
		}
	}
}

func TestUnlockAssignedTarget(t *testing.T) {
	assignment := domain.CanonicalAssignment{ViewerID: "v", AssignedIDs: []string{"a", "t", "b"}}
	if got := Unlock("v", "t", domain.SubmissionApproved, assignment); got != domain.Unlocked {
		t.Fatalf("got %s, want UNLOCKED", got)
	}
	if got := Unlock("v", "x", domain.SubmissionApproved, assignment); got != domain.Locked {
		t.Fatalf("unassigned target: got %s, want LOCKED", got)
	}
}

func TestUnlockEmptyAssignment(t *testing.T) {
	if got := Unlock("v", "t", domain.SubmissionApproved, domain.CanonicalAssignment{ViewerID: "v"}); got != domain.Locked {
		t.Fatalf("empty assignment: got %s", got)
	}
}

func TestUnlockDeterministic(t *testing.T) {
	assignment := domain.CanonicalAssignment{ViewerID: "v", AssignedIDs: []string{"t"}}
	first := Unlock("v", "t", domain.SubmissionApproved, assignment)
	second := Unlock("v", "t", domain.SubmissionApproved, assignment)
	if first != second {
		t.Fatalf("same inputs, different outputs: %s vs %s", first, second)
	}
}

func TestComputeAllowance(t *testing.T) {
	a := ComputeAllowance(3, true)
	if a.TotalBooks != 10 {
		t.Fatalf("total = %d, want 10", a.TotalBooks)
	}
	if a.UnlockedBooks != 10 {
		t.Fatalf("verified viewer should see everything, got %d", a.UnlockedBooks)
	}

	b := ComputeAllowance(3, false)
	if b.UnlockedBooks != 2 {
		t.Fatalf("unverified viewer gets 2, got %d", b.UnlockedBooks)
	}
	if BookLocked(1, b) {
		t.Fatalf("book 1 should be open")
	}
	if !BookLocked(2, b) {
		t.Fatalf("book 2 should be locked")
	}
}
