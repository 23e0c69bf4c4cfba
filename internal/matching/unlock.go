package matching

import "bookmatch/internal/domain"

// Unlock decides whether a target profile renders fully or obscured for a
// viewer. A viewer without an approved submission for the governing day is
// locked out of everything; otherwise visibility is exactly membership in
// the viewer's assigned set. Pure predicate, no other states.
func Unlock(viewerID, targetID, submissionStatus string, assignment domain.CanonicalAssignment) domain.UnlockState {
	if submissionStatus != domain.SubmissionApproved {
		return domain.Locked
	}
	if viewerID == "" || targetID == "" {
		return domain.Locked
	}
	for _, id := range assignment.AssignedIDs {
		if id == targetID {
			return domain.Unlocked
		}
	}
	return domain.Locked
}

// Allowance is the viewer's profile-book budget derived from their
// cumulative approved program days.
type Allowance struct {
	ApprovedDays  int  `json:"approved_days"`
	TotalBooks    int  `json:"total_books"`
	UnlockedBooks int  `json:"unlocked_books"`
	VerifiedToday bool `json:"verified_today"`
}

// booksWithoutProof is how many books stay open for a viewer who has not
// verified for the governing day.
const booksWithoutProof = 2

// ComputeAllowance derives the book budget: two books per approved day
// plus a starting credit of two days, all of it open once today's proof is
// approved and only the first two otherwise.
func ComputeAllowance(approvedDays int, verifiedToday bool) Allowance {
	total := 2 * (approvedDays + 2)
	unlocked := booksWithoutProof
	if verifiedToday {
		unlocked = total
	}
	return Allowance{
		ApprovedDays:  approvedDays,
		TotalBooks:    total,
		UnlockedBooks: unlocked,
		VerifiedToday: verifiedToday,
	}
}

// BookLocked reports whether the book at the given position renders
// obscured under the allowance.
func BookLocked(index int, a Allowance) bool {
	return index >= a.UnlockedBooks
}
