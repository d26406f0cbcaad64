package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/config"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/domain"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/id"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/notify"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/queue"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/storage"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/store"
)

// Server is the HTTP-facing half of the system. The only verification-path
// responsibility it has is the submission endpoint: persist the proof, reset
// the chore's verification flags and enqueue the job. Everything after that
// happens in the worker process.
type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	choreStore            store.ChoreStore
	storage               photoStorage
	hub                   *notify.Hub
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	presignTTL            time.Duration
	webhookURL            string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueVerifyChore(ctx context.Context, payload queue.VerifyChorePayload) (*asynq.TaskInfo, error)
}

type photoStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	ObjectURL(objectKey string) string
	ValidateImage(ctx context.Context, objectKey string) error
}

func NewServer(
	logger *log.Logger,
	cfg config.APIConfig,
	queueClient queueEnqueuer,
	choreStore store.ChoreStore,
	photoStore photoStorage,
	hub *notify.Hub,
	rateLimiter RateLimiter,
	webhookURL string,
) *Server {
	if photoStore == nil {
		photoStore = unavailablePhotoStorage{}
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		choreStore:            choreStore,
		storage:               photoStore,
		hub:                   hub,
		rateLimiter:           rateLimiter,
		rateLimitUserIDHeader: cfg.RateLimitUserHeader,
		presignTTL:            15 * time.Minute,
		webhookURL:            webhookURL,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("choresprint/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailablePhotoStorage struct{}

func (unavailablePhotoStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("photo storage is unavailable")
}

func (unavailablePhotoStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("photo storage is unavailable")
}

func (unavailablePhotoStorage) ObjectURL(objectKey string) string {
	return objectKey
}

func (unavailablePhotoStorage) ValidateImage(_ context.Context, _ string) error {
	return errors.New("photo storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.withRateLimit(s.metrics.withHTTPMetrics(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/users", s.handleCreateUser)
	s.mux.HandleFunc("GET /v1/users/", s.handleGetUser)
	s.mux.HandleFunc("POST /v1/chores", s.handleCreateChore)
	s.mux.HandleFunc("GET /v1/chores/", s.handleGetChore)
	s.mux.HandleFunc("POST /v1/chores/", s.handleChoreAction)
	if s.hub != nil {
		s.mux.HandleFunc("GET /ws", notify.Handler(s.hub, s.logger))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	user, err := s.choreStore.CreateUser(r.Context(), domain.User{Name: strings.TrimSpace(req.Name)})
	if err != nil {
		s.logger.Printf("create user failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create user"})
		return
	}
	writeJSON(w, http.StatusCreated, userJSON(user))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := extractID(r.URL.Path, "/v1/users/")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	user, ok, err := s.choreStore.GetUser(r.Context(), userID)
	if err != nil {
		s.logger.Printf("fetch user failed user_id=%d err=%v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load user"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, userJSON(user))
}

func (s *Server) handleCreateChore(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateChoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	chore, err := s.choreStore.CreateChore(r.Context(), domain.Chore{
		HouseID:           req.HouseID,
		Title:             strings.TrimSpace(req.Title),
		Description:       req.Description,
		Points:            req.Points,
		ReferencePhotoURL: req.ReferencePhotoURL,
	})
	if err != nil {
		s.logger.Printf("create chore failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create chore"})
		return
	}
	writeJSON(w, http.StatusCreated, choreJSON(chore))
}

func (s *Server) handleGetChore(w http.ResponseWriter, r *http.Request) {
	choreID, err := extractID(r.URL.Path, "/v1/chores/")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	chore, ok, err := s.choreStore.GetChore(r.Context(), choreID)
	if err != nil {
		s.logger.Printf("fetch chore failed chore_id=%d err=%v", choreID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load chore"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chore not found"})
		return
	}
	writeJSON(w, http.StatusOK, choreJSON(chore))
}

func (s *Server) handleChoreAction(w http.ResponseWriter, r *http.Request) {
	choreID, action, err := extractChoreAction(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	switch action {
	case "assign":
		s.handleAssignChore(w, r, choreID)
	case "proof-uploads":
		s.handleProofUpload(w, r, choreID)
	case "proof":
		s.handleSubmitProof(w, r, choreID)
	case "revert":
		s.handleRevertCompletion(w, r, choreID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown action: %s", action)})
	}
}

func (s *Server) handleAssignChore(w http.ResponseWriter, r *http.Request, choreID int64) {
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	chore, err := s.choreStore.AssignChore(r.Context(), choreID, req.UserID)
	switch {
	case errors.Is(err, store.ErrChoreNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chore not found"})
		return
	case errors.Is(err, store.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	case err != nil:
		s.logger.Printf("assign chore failed chore_id=%d err=%v", choreID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to assign chore"})
		return
	}
	writeJSON(w, http.StatusOK, choreJSON(chore))
}

// handleProofUpload hands the client a presigned PUT URL so the proof photo
// goes straight to object storage without transiting this process.
func (s *Server) handleProofUpload(w http.ResponseWriter, r *http.Request, choreID int64) {
	_, ok, err := s.choreStore.GetChore(r.Context(), choreID)
	if err != nil {
		s.logger.Printf("fetch chore failed chore_id=%d err=%v", choreID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load chore"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chore not found"})
		return
	}

	objectKey := fmt.Sprintf("proofs/%d/%s", choreID, id.New())
	uploadURL, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
	if err != nil {
		s.logger.Printf("presign proof upload failed chore_id=%d err=%v", choreID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"object_key":        objectKey,
		"presigned_put_url": uploadURL,
		"expires_in":        int(s.presignTTL.Seconds()),
	})
}

// handleSubmitProof is the submission endpoint: it records the new proof
// photo, resets the verification flags and enqueues the comparison job. The
// HTTP response never waits on the provider.
func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request, choreID int64) {
	var req struct {
		ProofURL  string `json:"proof_url,omitempty"`
		ObjectKey string `json:"object_key,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	proofURL, status, err := s.resolveProofURL(r.Context(), req.ProofURL, req.ObjectKey)
	if err != nil {
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	chore, err := s.choreStore.SubmitProof(r.Context(), choreID, proofURL)
	switch {
	case errors.Is(err, store.ErrChoreNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chore not found"})
		return
	case errors.Is(err, domain.ErrNotAssigned):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "chore is not assigned to anyone"})
		return
	case errors.Is(err, domain.ErrAlreadyCompleted):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "chore is already completed"})
		return
	case err != nil:
		s.logger.Printf("submit proof failed chore_id=%d err=%v", choreID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record proof"})
		return
	}

	payload := queue.VerifyChorePayload{
		ChoreID:      chore.ID,
		ReferenceURL: chore.ReferencePhotoURL,
		ProofURL:     chore.PhotoURL,
		Title:        chore.Title,
		Description:  chore.Description,
		WebhookURL:   s.webhookURL,
		RequestedAt:  time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueVerifyChore(r.Context(), payload)
	if err != nil {
		// The proof is recorded but no job exists; the user must see the
		// submission as failed so they can retry it.
		s.logger.Printf("enqueue verification failed chore_id=%d err=%v", chore.ID, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "verification queue unavailable"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"chore":       choreJSON(chore),
		"task_id":     taskInfo.ID,
		"queue":       taskInfo.Queue,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) resolveProofURL(ctx context.Context, proofURL, objectKey string) (string, int, error) {
	proofURL = strings.TrimSpace(proofURL)
	objectKey = strings.TrimSpace(objectKey)

	switch {
	case proofURL != "" && objectKey != "":
		return "", http.StatusBadRequest, errors.New("provide either proof_url or object_key, not both")
	case proofURL != "":
		return proofURL, 0, nil
	case objectKey == "":
		return "", http.StatusBadRequest, errors.New("proof_url or object_key is required")
	}

	exists, err := s.storage.ObjectExists(ctx, objectKey)
	if err != nil {
		s.logger.Printf("proof object check failed key=%s err=%v", objectKey, err)
		return "", http.StatusInternalServerError, errors.New("failed to check proof object")
	}
	if !exists {
		return "", http.StatusConflict, fmt.Errorf("proof object is missing: %s", objectKey)
	}

	if err := s.storage.ValidateImage(ctx, objectKey); err != nil {
		if errors.Is(err, storage.ErrNotAnImage) {
			return "", http.StatusBadRequest, errors.New("proof object is not a supported image")
		}
		s.logger.Printf("proof image validation failed key=%s err=%v", objectKey, err)
		return "", http.StatusInternalServerError, errors.New("failed to validate proof object")
	}

	return s.storage.ObjectURL(objectKey), 0, nil
}

func (s *Server) handleRevertCompletion(w http.ResponseWriter, r *http.Request, choreID int64) {
	chore, err := s.choreStore.RevertCompletion(r.Context(), choreID)
	switch {
	case errors.Is(err, store.ErrChoreNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chore not found"})
		return
	case errors.Is(err, domain.ErrNotCompleted):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "chore is not completed"})
		return
	case err != nil:
		s.logger.Printf("revert completion failed chore_id=%d err=%v", choreID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to revert completion"})
		return
	}
	writeJSON(w, http.StatusOK, choreJSON(chore))
}

func extractID(path, prefix string) (int64, error) {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return 0, fmt.Errorf("expected path format %s{id}", prefix)
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %s", trimmed)
	}
	return id, nil
}

func extractChoreAction(path string) (int64, string, error) {
	trimmed := strings.TrimPrefix(path, "/v1/chores/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, "", errors.New("expected path format /v1/chores/{id}/{action}")
	}
	choreID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || choreID <= 0 {
		return 0, "", fmt.Errorf("invalid chore id: %s", parts[0])
	}
	return choreID, parts[1], nil
}

func choreJSON(chore domain.Chore) map[string]any {
	return map[string]any{
		"id":                  chore.ID,
		"house_id":            chore.HouseID,
		"assigned_to_id":      chore.AssignedToID,
		"title":               chore.Title,
		"description":         chore.Description,
		"points":              chore.Points,
		"reference_photo_url": chore.ReferencePhotoURL,
		"photo_url":           chore.PhotoURL,
		"is_completed":        chore.IsCompleted,
		"verified":            chore.Verified,
		"attempted":           chore.Attempted,
		"explanation":         chore.Explanation,
		"created_at":          chore.CreatedAt,
		"updated_at":          chore.UpdatedAt,
	}
}

func userJSON(user domain.User) map[string]any {
	return map[string]any{
		"id":         user.ID,
		"name":       user.Name,
		"points":     user.Points,
		"created_at": user.CreatedAt,
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
