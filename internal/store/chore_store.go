package store

import (
	"context"
	"errors"

	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/domain"
)

var (
	ErrChoreNotFound = errors.New("chore not found")
	ErrUserNotFound  = errors.New("user not found")

	// ErrStaleProof means the job's proof photo was superseded by a newer
	// submission; the verdict must be discarded without touching the chore.
	ErrStaleProof = errors.New("proof photo superseded by newer submission")

	// ErrAlreadyJudged means a verdict was already applied for the current
	// proof photo. Duplicate queue deliveries land here and are no-ops, which
	// is what keeps point awards exactly-once.
	ErrAlreadyJudged = errors.New("verdict already applied for current proof")
)

// ChoreStore is the authoritative home of chore verification state and the
// point ledger. SubmitProof, ApplyVerdict and RevertCompletion are the three
// state-machine transitions; each applies its guard and its effect atomically
// so concurrent workers cannot produce lost updates.
type ChoreStore interface {
	CreateChore(ctx context.Context, chore domain.Chore) (domain.Chore, error)
	GetChore(ctx context.Context, id int64) (domain.Chore, bool, error)
	AssignChore(ctx context.Context, choreID, userID int64) (domain.Chore, error)

	// SubmitProof records a new proof photo and resets the verification flags.
	// Fails with domain.ErrNotAssigned or domain.ErrAlreadyCompleted when the
	// submitProof preconditions do not hold.
	SubmitProof(ctx context.Context, choreID int64, proofURL string) (domain.Chore, error)

	// ApplyVerdict folds a verdict into the chore iff proofURL still matches
	// the chore's current photo and no verdict has been applied to it yet.
	// A positive verdict credits the assigned user's ledger in the same
	// transaction. Returns ErrStaleProof or ErrAlreadyJudged when the guard
	// rejects the transition.
	ApplyVerdict(ctx context.Context, choreID int64, proofURL string, verdict domain.Verdict) (domain.VerdictApplication, error)

	// RevertCompletion is the manual edit path: it clears the completion
	// state and debits the points previously credited by ApplyVerdict.
	RevertCompletion(ctx context.Context, choreID int64) (domain.Chore, error)

	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	GetUser(ctx context.Context, id int64) (domain.User, bool, error)
}
