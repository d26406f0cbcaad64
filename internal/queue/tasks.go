package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeVerifyChore = "chore:verify"

// VerifyChorePayload carries everything the worker needs to judge one proof
// submission. ProofURL doubles as the staleness token: the verdict is only
// applied while it still matches the chore's current photo.
type VerifyChorePayload struct {
	ChoreID      int64     `json:"chore_id"`
	ReferenceURL string    `json:"reference_url"`
	ProofURL     string    `json:"proof_url"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

func NewVerifyChoreTask(payload VerifyChorePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal verify payload: %w", err)
	}
	return asynq.NewTask(TypeVerifyChore, body), nil
}

func ParseVerifyChorePayload(task *asynq.Task) (VerifyChorePayload, error) {
	var payload VerifyChorePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return VerifyChorePayload{}, fmt.Errorf("unmarshal verify payload: %w", err)
	}
	if payload.ChoreID <= 0 {
		return VerifyChorePayload{}, fmt.Errorf("verify payload has no chore id")
	}
	return payload, nil
}
