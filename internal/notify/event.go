package notify

import "context"

const EventTypeChoreVerified = "chore.verified"

// VerificationEvent is the push payload fanned out to connected clients after
// a verdict lands. Delivery is best-effort: a client that misses it converges
// on the next chore fetch. Broadcast is global; clients filter by chore ID.
type VerificationEvent struct {
	Type        string `json:"type"`
	ChoreID     int64  `json:"chore_id"`
	Verified    bool   `json:"verified"`
	Explanation string `json:"explanation"`
}

func NewVerificationEvent(choreID int64, verified bool, explanation string) VerificationEvent {
	return VerificationEvent{
		Type:        EventTypeChoreVerified,
		ChoreID:     choreID,
		Verified:    verified,
		Explanation: explanation,
	}
}

// Publisher is the worker's view of the notification channel. The Hub
// satisfies it for in-process use; RedisPublisher satisfies it across
// processes.
type Publisher interface {
	Publish(ctx context.Context, event VerificationEvent) error
}
