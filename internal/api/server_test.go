package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/config"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/domain"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/queue"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/store"
)

type fakeEnqueuer struct {
	err      error
	payloads []queue.VerifyChorePayload
}

func (f *fakeEnqueuer) EnqueueVerifyChore(_ context.Context, payload queue.VerifyChorePayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{
		ID:    "task-1",
		Queue: "chore-verification",
		State: asynq.TaskStatePending,
	}, nil
}

func newTestServer(enqueuer queueEnqueuer, choreStore store.ChoreStore) *Server {
	return NewServer(
		log.New(io.Discard, "", 0),
		config.APIConfig{RateLimitUserHeader: "X-User-ID"},
		enqueuer,
		choreStore,
		nil,
		nil,
		nil,
		"",
	)
}

func seedAssignedChore(t *testing.T, s *store.MemoryChoreStore) domain.Chore {
	t.Helper()
	ctx := context.Background()

	user, err := s.CreateUser(ctx, domain.User{Name: "sam"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	chore, err := s.CreateChore(ctx, domain.Chore{
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
	return chore
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestExtractChoreAction(t *testing.T) {
	cases := []struct {
		path    string
		id      int64
		action  string
		wantErr bool
	}{
		{path: "/v1/chores/7/proof", id: 7, action: "proof"},
		{path: "/v1/chores/12/proof-uploads", id: 12, action: "proof-uploads"},
		{path: "/v1/chores/3/revert/", id: 3, action: "revert"},
		{path: "/v1/chores/7", wantErr: true},
		{path: "/v1/chores/abc/proof", wantErr: true},
		{path: "/v1/chores/-1/proof", wantErr: true},
		{path: "/v1/chores//proof", wantErr: true},
	}
	for _, tc := range cases {
		id, action, err := extractChoreAction(tc.path)
		if tc.wantErr {
			if err == nil {
				t.Errorf("extractChoreAction(%q): expected error, got id=%d action=%q", tc.path, id, action)
			}
			continue
		}
		if err != nil {
			t.Errorf("extractChoreAction(%q): unexpected error %v", tc.path, err)
			continue
		}
		if id != tc.id || action != tc.action {
			t.Errorf("extractChoreAction(%q) = (%d, %q), want (%d, %q)", tc.path, id, action, tc.id, tc.action)
		}
	}
}

func TestCreateChoreValidation(t *testing.T) {
	s := newTestServer(&fakeEnqueuer{}, store.NewMemoryChoreStore())

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/chores", map[string]any{
		"house_id": 1,
		"points":   10,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing title, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetChoreNotFound(t *testing.T) {
	s := newTestServer(&fakeEnqueuer{}, store.NewMemoryChoreStore())

	rec := doJSON(t, s.Handler(), http.MethodGet, "/v1/chores/42", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitProofEnqueuesVerification(t *testing.T) {
	choreStore := store.NewMemoryChoreStore()
	chore := seedAssignedChore(t, choreStore)
	enqueuer := &fakeEnqueuer{}
	s := newTestServer(enqueuer, choreStore)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/chores/1/proof", map[string]string{
		"proof_url": "https://photos.example.com/proof.jpg",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	if len(enqueuer.payloads) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(enqueuer.payloads))
	}
	payload := enqueuer.payloads[0]
	if payload.ChoreID != chore.ID {
		t.Fatalf("expected chore id %d in payload, got %d", chore.ID, payload.ChoreID)
	}
	if payload.ProofURL != "https://photos.example.com/proof.jpg" {
		t.Fatalf("unexpected proof URL %q", payload.ProofURL)
	}
	if payload.ReferenceURL != chore.ReferencePhotoURL {
		t.Fatalf("unexpected reference URL %q", payload.ReferenceURL)
	}

	var resp struct {
		TaskID string `json:"task_id"`
		Queue  string `json:"queue"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID != "task-1" || resp.Queue != "chore-verification" || resp.State != "pending" {
		t.Fatalf("unexpected task info in response: %+v", resp)
	}

	updated, _, _ := choreStore.GetChore(context.Background(), chore.ID)
	if updated.Attempted || updated.Verified || updated.IsCompleted {
		t.Fatalf("expected verification flags reset on submission, got %+v", updated)
	}
	if updated.PhotoURL != "https://photos.example.com/proof.jpg" {
		t.Fatalf("expected proof recorded, got %q", updated.PhotoURL)
	}
}

func TestSubmitProofUnassignedChoreConflicts(t *testing.T) {
	choreStore := store.NewMemoryChoreStore()
	if _, err := choreStore.CreateChore(context.Background(), domain.Chore{
		HouseID: 1,
		Title:   "Mow the lawn",
		Points:  10,
	}); err != nil {
		t.Fatalf("seed chore: %v", err)
	}
	enqueuer := &fakeEnqueuer{}
	s := newTestServer(enqueuer, choreStore)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/chores/1/proof", map[string]string{
		"proof_url": "https://photos.example.com/proof.jpg",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unassigned chore, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(enqueuer.payloads) != 0 {
		t.Fatalf("expected no enqueued jobs, got %d", len(enqueuer.payloads))
	}
}

func TestSubmitProofQueueUnavailable(t *testing.T) {
	choreStore := store.NewMemoryChoreStore()
	seedAssignedChore(t, choreStore)
	s := newTestServer(&fakeEnqueuer{err: errors.New("redis is down")}, choreStore)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/chores/1/proof", map[string]string{
		"proof_url": "https://photos.example.com/proof.jpg",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when queue is down, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitProofRequiresProofSource(t *testing.T) {
	choreStore := store.NewMemoryChoreStore()
	seedAssignedChore(t, choreStore)
	enqueuer := &fakeEnqueuer{}
	s := newTestServer(enqueuer, choreStore)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/chores/1/proof", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without proof source, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s.Handler(), http.MethodPost, "/v1/chores/1/proof", map[string]string{
		"proof_url":  "https://photos.example.com/proof.jpg",
		"object_key": "proofs/1/abc",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for ambiguous proof source, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(enqueuer.payloads) != 0 {
		t.Fatalf("expected no enqueued jobs, got %d", len(enqueuer.payloads))
	}
}

func TestRevertCompletion(t *testing.T) {
	choreStore := store.NewMemoryChoreStore()
	chore := seedAssignedChore(t, choreStore)
	ctx := context.Background()

	if _, err := choreStore.SubmitProof(ctx, chore.ID, "p1"); err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if _, err := choreStore.ApplyVerdict(ctx, chore.ID, "p1", domain.Verdict{IsCompleted: true, Explanation: "clean"}); err != nil {
		t.Fatalf("apply verdict: %v", err)
	}

	s := newTestServer(&fakeEnqueuer{}, choreStore)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/chores/1/revert", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	updated, _, _ := choreStore.GetChore(ctx, chore.ID)
	if updated.IsCompleted || updated.Verified {
		t.Fatalf("expected completion reverted, got %+v", updated)
	}

	rec = doJSON(t, s.Handler(), http.MethodPost, "/v1/chores/1/revert", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second revert, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUserLifecycle(t *testing.T) {
	s := newTestServer(&fakeEnqueuer{}, store.NewMemoryChoreStore())

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/users", map[string]string{"name": "alex"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/v1/users/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s.Handler(), http.MethodPost, "/v1/users", map[string]string{"name": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d: %s", rec.Code, rec.Body.String())
	}
}
