package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State-machine precondition violations, surfaced synchronously at the
// submission boundary.
var (
	ErrNotAssigned      = errors.New("chore is not assigned to anyone")
	ErrAlreadyCompleted = errors.New("chore is already completed")
	ErrNotCompleted     = errors.New("chore is not completed")
)

// Chore is a household task worth a point value. The verification core only
// mutates photoUrl, isCompleted, verified, attempted and explanation; the rest
// belongs to the CRUD surface.
//
// The three booleans encode the verification lifecycle: attempted == false
// means no verdict exists for the current PhotoURL, and verified == true is
// only ever set together with isCompleted == true.
type Chore struct {
	ID                int64
	HouseID           int64
	AssignedToID      *int64
	Title             string
	Description       string
	Points            int
	ReferencePhotoURL string
	PhotoURL          string
	IsCompleted       bool
	Verified          bool
	Attempted         bool
	Explanation       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// User is the owner of a point ledger. Only the aggregate total lives here;
// auth, email and membership are external concerns.
type User struct {
	ID        int64
	Name      string
	Points    int
	CreatedAt time.Time
}

// Verdict is the comparison provider's judgment, folded into Chore fields by
// ApplyVerdict. It is never persisted on its own.
type Verdict struct {
	IsCompleted bool   `json:"is_completed"`
	Explanation string `json:"explanation"`
}

// VerdictApplication reports the outcome of a successful verdict transition.
// AwardedPoints is non-zero only when the transition itself flipped the chore
// to verified, so duplicate deliveries can never double-award.
type VerdictApplication struct {
	Chore         Chore
	AwardedPoints int
}

type CreateChoreRequest struct {
	HouseID           int64  `json:"house_id"`
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	Points            int    `json:"points"`
	ReferencePhotoURL string `json:"reference_photo_url"`
}

func (r CreateChoreRequest) Validate() error {
	if r.HouseID <= 0 {
		return errors.New("house_id is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	if r.Points < 0 {
		return fmt.Errorf("points must not be negative: %d", r.Points)
	}
	if strings.TrimSpace(r.ReferencePhotoURL) == "" {
		return errors.New("reference_photo_url is required")
	}
	return nil
}

// CanSubmitProof checks the submitProof preconditions without mutating
// anything. Stores apply the same guards atomically; this exists so callers
// can fail fast with the precise precondition error.
func (c Chore) CanSubmitProof() error {
	if c.AssignedToID == nil {
		return ErrNotAssigned
	}
	if c.IsCompleted {
		return ErrAlreadyCompleted
	}
	return nil
}
