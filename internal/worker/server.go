package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/config"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/domain"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/notify"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/queue"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/store"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/vision"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/webhook"
)

// Verification outcomes used as metric labels.
const (
	outcomeVerified = "verified"
	outcomeRejected = "rejected"
	outcomeStale    = "stale"
	outcomeDropped  = "dropped"
	outcomeFailed   = "failed"
)

// A malformed provider response is retried once before the job is archived;
// a systematically broken response does not get the full provider-error
// retry budget.
const malformedRetryBudget = 1

type comparisonProvider interface {
	Compare(ctx context.Context, req vision.Request) (domain.Verdict, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Server is the long-running verification consumer. It pulls jobs from the
// asynq queue, asks the comparison provider for a verdict, applies the chore
// transition and pushes the outcome to connected clients. All failure
// handling stays inside this loop; nothing propagates back to the HTTP path.
type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	provider      comparisonProvider
	choreStore    store.ChoreStore
	publisher     notify.Publisher
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	provider comparisonProvider,
	choreStore store.ChoreStore,
	publisher notify.Publisher,
	webhookClient *webhook.Client,
) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("comparison provider is required")
	}
	if choreStore == nil {
		return nil, fmt.Errorf("chore store is required")
	}

	s := &Server{
		logger:     logger,
		sem:        make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		provider:   provider,
		choreStore: choreStore,
		publisher:  publisher,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("choresprint/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel:     asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(s.handleTaskError),
		},
	)
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeVerifyChore, s.handleVerifyChore)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleVerifyChore(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := outcomeFailed

	payload, err := queue.ParseVerifyChorePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.verify_chore", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.Int64("chore.id", payload.ChoreID),
		attribute.String("chore.title", payload.Title),
	)
	defer span.End()
	defer func() {
		s.metrics.verificationDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.verificationsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	retried, _ := asynq.GetRetryCount(ctx)
	s.logger.Printf(
		"verifying chore_id=%d retry=%d proof=%s",
		payload.ChoreID,
		retried,
		payload.ProofURL,
	)

	outcome, err = s.processVerification(ctx, payload, retried)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		return err
	}

	span.SetStatus(codes.Ok, outcome)
	return nil
}

// processVerification runs one job to completion. A nil error acks the job;
// staleness, duplicate delivery and deleted chores are deliberate acks since
// retrying them can never change the answer.
func (s *Server) processVerification(ctx context.Context, payload queue.VerifyChorePayload, retried int) (string, error) {
	verdict, err := s.provider.Compare(ctx, vision.Request{
		ReferenceURL: payload.ReferenceURL,
		ProofURL:     payload.ProofURL,
		Title:        payload.Title,
		Description:  payload.Description,
	})
	if err != nil {
		if errors.Is(err, vision.ErrMalformedResponse) && retried >= malformedRetryBudget {
			return outcomeFailed, fmt.Errorf("compare photos: %w: %w", err, asynq.SkipRetry)
		}
		return outcomeFailed, fmt.Errorf("compare photos: %w", err)
	}

	app, err := s.choreStore.ApplyVerdict(ctx, payload.ChoreID, payload.ProofURL, verdict)
	switch {
	case errors.Is(err, store.ErrStaleProof):
		s.metrics.staleVerdictsTotal.Inc()
		s.logger.Printf("discard stale verdict chore_id=%d proof=%s", payload.ChoreID, payload.ProofURL)
		return outcomeStale, nil
	case errors.Is(err, store.ErrAlreadyJudged):
		s.logger.Printf("duplicate verdict delivery chore_id=%d", payload.ChoreID)
		return outcomeDropped, nil
	case errors.Is(err, store.ErrChoreNotFound):
		s.logger.Printf("chore deleted before verdict chore_id=%d", payload.ChoreID)
		return outcomeDropped, nil
	case err != nil:
		return outcomeFailed, fmt.Errorf("apply verdict: %w", err)
	}

	if app.AwardedPoints > 0 {
		s.metrics.pointsAwardedTotal.Add(float64(app.AwardedPoints))
	}

	s.logger.Printf(
		"verdict applied chore_id=%d verified=%t awarded=%d",
		payload.ChoreID,
		verdict.IsCompleted,
		app.AwardedPoints,
	)

	s.publishEvent(ctx, notify.NewVerificationEvent(payload.ChoreID, verdict.IsCompleted, verdict.Explanation))
	s.dispatchWebhook(ctx, payload, webhook.EventVerificationCompleted, map[string]any{
		"chore_id":     payload.ChoreID,
		"verified":     verdict.IsCompleted,
		"explanation":  verdict.Explanation,
		"points":       app.AwardedPoints,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
	})

	if verdict.IsCompleted {
		return outcomeVerified, nil
	}
	return outcomeRejected, nil
}

// handleTaskError runs on every failed attempt. When the attempt was the
// last one the job is archived by asynq; that archive is the dead-letter
// state, so this is where the operator alert goes out.
func (s *Server) handleTaskError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	s.logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)

	if retried < maxRetry && !errors.Is(err, asynq.SkipRetry) {
		return
	}

	s.metrics.deadLetteredTotal.Inc()

	payload, parseErr := queue.ParseVerifyChorePayload(task)
	if parseErr != nil {
		s.logger.Printf("dead-lettered undecodable task type=%s err=%v", task.Type(), parseErr)
		return
	}

	s.logger.Printf("job dead-lettered chore_id=%d proof=%s err=%v", payload.ChoreID, payload.ProofURL, err)

	// A malformed provider response never produced a verdict, so clients get
	// no signal; the chore stays attempted=false and re-submission remains
	// open. Provider exhaustion does tell clients to stop waiting.
	if !errors.Is(err, vision.ErrMalformedResponse) {
		s.publishEvent(ctx, notify.NewVerificationEvent(payload.ChoreID, false, "verification failed"))
	}

	s.dispatchWebhook(ctx, payload, webhook.EventVerificationDeadLettered, map[string]any{
		"chore_id":     payload.ChoreID,
		"proof_url":    payload.ProofURL,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        err.Error(),
	})
}

func (s *Server) publishEvent(ctx context.Context, event notify.VerificationEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Printf("notification publish failed chore_id=%d err=%v", event.ChoreID, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.VerifyChorePayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed chore_id=%d event=%s err=%v", payload.ChoreID, event, err)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
