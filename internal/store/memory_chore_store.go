package store

import (
	"context"
	"sync"
	"time"

	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/domain"
)

// MemoryChoreStore mirrors the Postgres transition semantics for tests and
// single-process development runs.
type MemoryChoreStore struct {
	mu        sync.RWMutex
	chores    map[int64]domain.Chore
	users     map[int64]domain.User
	nextChore int64
	nextUser  int64
}

func NewMemoryChoreStore() *MemoryChoreStore {
	return &MemoryChoreStore{
		chores:    make(map[int64]domain.Chore),
		users:     make(map[int64]domain.User),
		nextChore: 1,
		nextUser:  1,
	}
}

func (s *MemoryChoreStore) CreateChore(_ context.Context, chore domain.Chore) (domain.Chore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chore.ID == 0 {
		chore.ID = s.nextChore
	}
	if chore.ID >= s.nextChore {
		s.nextChore = chore.ID + 1
	}
	now := time.Now().UTC()
	if chore.CreatedAt.IsZero() {
		chore.CreatedAt = now
	}
	chore.UpdatedAt = now
	s.chores[chore.ID] = chore
	return chore, nil
}

func (s *MemoryChoreStore) GetChore(_ context.Context, id int64) (domain.Chore, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chore, ok := s.chores[id]
	return chore, ok, nil
}

func (s *MemoryChoreStore) AssignChore(_ context.Context, choreID, userID int64) (domain.Chore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chore, ok := s.chores[choreID]
	if !ok {
		return domain.Chore{}, ErrChoreNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return domain.Chore{}, ErrUserNotFound
	}

	chore.AssignedToID = &userID
	chore.UpdatedAt = time.Now().UTC()
	s.chores[choreID] = chore
	return chore, nil
}

func (s *MemoryChoreStore) SubmitProof(_ context.Context, choreID int64, proofURL string) (domain.Chore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chore, ok := s.chores[choreID]
	if !ok {
		return domain.Chore{}, ErrChoreNotFound
	}
	if err := chore.CanSubmitProof(); err != nil {
		return domain.Chore{}, err
	}

	chore.PhotoURL = proofURL
	chore.Attempted = false
	chore.Verified = false
	chore.Explanation = ""
	chore.UpdatedAt = time.Now().UTC()
	s.chores[choreID] = chore
	return chore, nil
}

func (s *MemoryChoreStore) ApplyVerdict(_ context.Context, choreID int64, proofURL string, verdict domain.Verdict) (domain.VerdictApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chore, ok := s.chores[choreID]
	if !ok {
		return domain.VerdictApplication{}, ErrChoreNotFound
	}
	if chore.PhotoURL != proofURL {
		return domain.VerdictApplication{}, ErrStaleProof
	}
	if chore.Attempted {
		return domain.VerdictApplication{}, ErrAlreadyJudged
	}

	chore.Attempted = true
	chore.Verified = verdict.IsCompleted
	chore.IsCompleted = verdict.IsCompleted
	chore.Explanation = verdict.Explanation
	chore.UpdatedAt = time.Now().UTC()
	s.chores[choreID] = chore

	awarded := 0
	if verdict.IsCompleted && chore.AssignedToID != nil {
		if user, ok := s.users[*chore.AssignedToID]; ok {
			user.Points += chore.Points
			s.users[user.ID] = user
			awarded = chore.Points
		}
	}

	return domain.VerdictApplication{Chore: chore, AwardedPoints: awarded}, nil
}

func (s *MemoryChoreStore) RevertCompletion(_ context.Context, choreID int64) (domain.Chore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chore, ok := s.chores[choreID]
	if !ok {
		return domain.Chore{}, ErrChoreNotFound
	}
	if !chore.IsCompleted {
		return domain.Chore{}, domain.ErrNotCompleted
	}

	wasVerified := chore.Verified
	chore.IsCompleted = false
	chore.Verified = false
	chore.Attempted = false
	chore.Explanation = ""
	chore.UpdatedAt = time.Now().UTC()
	s.chores[choreID] = chore

	if wasVerified && chore.AssignedToID != nil {
		if user, ok := s.users[*chore.AssignedToID]; ok {
			user.Points -= chore.Points
			s.users[user.ID] = user
		}
	}

	return chore, nil
}

func (s *MemoryChoreStore) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == 0 {
		user.ID = s.nextUser
	}
	if user.ID >= s.nextUser {
		s.nextUser = user.ID + 1
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *MemoryChoreStore) GetUser(_ context.Context, id int64) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	return user, ok, nil
}
