package store

import (
	"context"
	"errors"
	"testing"

	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/domain"
)

func seedAssignedChore(t *testing.T, s *MemoryChoreStore) (domain.Chore, domain.User) {
	t.Helper()
	ctx := context.Background()

	user, err := s.CreateUser(ctx, domain.User{ID: 3, Name: "sam"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	chore, err := s.CreateChore(ctx, domain.Chore{
		ID:                7,
		HouseID:           1,
		Title:             "Clean the kitchen",
		Points:            20,
		ReferencePhotoURL: "https://photos.example.com/ref.jpg",
	})
	if err != nil {
		t.Fatalf("seed chore: %v", err)
	}

	chore, err = s.AssignChore(ctx, chore.ID, user.ID)
	if err != nil {
		t.Fatalf("assign chore: %v", err)
	}
	return chore, user
}

func TestSubmitProofResetsVerificationState(t *testing.T) {
	s := NewMemoryChoreStore()
	chore, _ := seedAssignedChore(t, s)
	ctx := context.Background()

	updated, err := s.SubmitProof(ctx, chore.ID, "p1")
	if err != nil {
		t.Fatalf("SubmitProof returned error: %v", err)
	}
	if updated.PhotoURL != "p1" {
		t.Fatalf("expected photo_url p1, got %q", updated.PhotoURL)
	}
	if updated.Attempted || updated.Verified {
		t.Fatalf("expected attempted=false verified=false, got attempted=%v verified=%v", updated.Attempted, updated.Verified)
	}
}

func TestSubmitProofRequiresAssignment(t *testing.T) {
	s := NewMemoryChoreStore()
	ctx := context.Background()

	chore, err := s.CreateChore(ctx, domain.Chore{HouseID: 1, Title: "Mop floor", Points: 5})
	if err != nil {
		t.Fatalf("seed chore: %v", err)
	}

	if _, err := s.SubmitProof(ctx, chore.ID, "p1"); !errors.Is(err, domain.ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}

func TestSubmitProofRejectsCompletedChore(t *testing.T) {
	s := NewMemoryChoreStore()
	chore, _ := seedAssignedChore(t, s)
	ctx := context.Background()

	if _, err := s.SubmitProof(ctx, chore.ID, "p1"); err != nil {
		t.Fatalf("SubmitProof returned error: %v", err)
	}
	if _, err := s.ApplyVerdict(ctx, chore.ID, "p1", domain.Verdict{IsCompleted: true, Explanation: "clean"}); err != nil {
		t.Fatalf("ApplyVerdict returned error: %v", err)
	}

	if _, err := s.SubmitProof(ctx, chore.ID, "p2"); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestApplyVerdictAwardsPointsOnce(t *testing.T) {
	s := NewMemoryChoreStore()
	chore, user := seedAssignedChore(t, s)
	ctx := context.Background()

	if _, err := s.SubmitProof(ctx, chore.ID, "p1"); err != nil {
		t.Fatalf("SubmitProof returned error: %v", err)
	}

	app, err := s.ApplyVerdict(ctx, chore.ID, "p1", domain.Verdict{IsCompleted: true, Explanation: "clean"})
	if err != nil {
		t.Fatalf("ApplyVerdict returned error: %v", err)
	}
	if !app.Chore.Attempted || !app.Chore.Verified || !app.Chore.IsCompleted {
		t.Fatalf("expected attempted/verified/completed all true, got %+v", app.Chore)
	}
	if app.Chore.Explanation != "clean" {
		t.Fatalf("expected explanation clean, got %q", app.Chore.Explanation)
	}
	if app.AwardedPoints != 20 {
		t.Fatalf("expected 20 awarded points, got %d", app.AwardedPoints)
	}

	got, _, err := s.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if got.Points != 20 {
		t.Fatalf("expected user points 20, got %d", got.Points)
	}

	// Duplicate delivery of the same job must be a no-op.
	if _, err := s.ApplyVerdict(ctx, chore.ID, "p1", domain.Verdict{IsCompleted: true, Explanation: "clean"}); !errors.Is(err, ErrAlreadyJudged) {
		t.Fatalf("expected ErrAlreadyJudged on duplicate, got %v", err)
	}
	got, _, _ = s.GetUser(ctx, user.ID)
	if got.Points != 20 {
		t.Fatalf("expected points to stay 20 after duplicate, got %d", got.Points)
	}
}

func TestApplyVerdictNegativeDoesNotAward(t *testing.T) {
	s := NewMemoryChoreStore()
	chore, user := seedAssignedChore(t, s)
	ctx := context.Background()

	if _, err := s.SubmitProof(ctx, chore.ID, "p1"); err != nil {
		t.Fatalf("SubmitProof returned error: %v", err)
	}

	app, err := s.ApplyVerdict(ctx, chore.ID, "p1", domain.Verdict{IsCompleted: false, Explanation: "counters still dirty"})
	if err != nil {
		t.Fatalf("ApplyVerdict returned error: %v", err)
	}
	if app.Chore.Verified || app.Chore.IsCompleted {
		t.Fatalf("expected rejected chore to stay incomplete, got %+v", app.Chore)
	}
	if !app.Chore.Attempted {
		t.Fatal("expected attempted=true after rejection")
	}
	if app.AwardedPoints != 0 {
		t.Fatalf("expected no points awarded, got %d", app.AwardedPoints)
	}

	got, _, _ := s.GetUser(ctx, user.ID)
	if got.Points != 0 {
		t.Fatalf("expected user points 0, got %d", got.Points)
	}
}

func TestApplyVerdictStaleProofIsNoOp(t *testing.T) {
	s := NewMemoryChoreStore()
	chore, user := seedAssignedChore(t, s)
	ctx := context.Background()

	// Proof A submitted, then superseded by proof B before A's verdict lands.
	if _, err := s.SubmitProof(ctx, chore.ID, "pA"); err != nil {
		t.Fatalf("SubmitProof pA returned error: %v", err)
	}
	if _, err := s.SubmitProof(ctx, chore.ID, "pB"); err != nil {
		t.Fatalf("SubmitProof pB returned error: %v", err)
	}

	if _, err := s.ApplyVerdict(ctx, chore.ID, "pA", domain.Verdict{IsCompleted: true, Explanation: "stale"}); !errors.Is(err, ErrStaleProof) {
		t.Fatalf("expected ErrStaleProof, got %v", err)
	}

	current, _, _ := s.GetChore(ctx, chore.ID)
	if current.Attempted || current.Verified || current.IsCompleted {
		t.Fatalf("expected chore untouched by stale verdict, got %+v", current)
	}
	if current.PhotoURL != "pB" {
		t.Fatalf("expected photo_url pB, got %q", current.PhotoURL)
	}
	got, _, _ := s.GetUser(ctx, user.ID)
	if got.Points != 0 {
		t.Fatalf("expected no points from stale verdict, got %d", got.Points)
	}

	// The fresh submission still verifies normally afterwards.
	app, err := s.ApplyVerdict(ctx, chore.ID, "pB", domain.Verdict{IsCompleted: true, Explanation: "clean"})
	if err != nil {
		t.Fatalf("ApplyVerdict pB returned error: %v", err)
	}
	if app.AwardedPoints != 20 {
		t.Fatalf("expected 20 points for fresh verdict, got %d", app.AwardedPoints)
	}
}

func TestApplyVerdictUnknownChore(t *testing.T) {
	s := NewMemoryChoreStore()
	if _, err := s.ApplyVerdict(context.Background(), 99, "p1", domain.Verdict{}); !errors.Is(err, ErrChoreNotFound) {
		t.Fatalf("expected ErrChoreNotFound, got %v", err)
	}
}

func TestRevertCompletionRevokesPoints(t *testing.T) {
	s := NewMemoryChoreStore()
	chore, user := seedAssignedChore(t, s)
	ctx := context.Background()

	if _, err := s.SubmitProof(ctx, chore.ID, "p1"); err != nil {
		t.Fatalf("SubmitProof returned error: %v", err)
	}
	if _, err := s.ApplyVerdict(ctx, chore.ID, "p1", domain.Verdict{IsCompleted: true, Explanation: "clean"}); err != nil {
		t.Fatalf("ApplyVerdict returned error: %v", err)
	}

	reverted, err := s.RevertCompletion(ctx, chore.ID)
	if err != nil {
		t.Fatalf("RevertCompletion returned error: %v", err)
	}
	if reverted.IsCompleted || reverted.Verified || reverted.Attempted {
		t.Fatalf("expected cleared completion state, got %+v", reverted)
	}

	got, _, _ := s.GetUser(ctx, user.ID)
	if got.Points != 0 {
		t.Fatalf("expected points revoked back to 0, got %d", got.Points)
	}

	if _, err := s.RevertCompletion(ctx, chore.ID); !errors.Is(err, domain.ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted on second revert, got %v", err)
	}
}
