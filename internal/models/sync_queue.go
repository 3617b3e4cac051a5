package models

import (
	"encoding/json"
	"time"
)

// QueuedAction is a catalog mutation recorded while offline, waiting for replay.
type QueuedAction struct {
	ID             string          `json:"id"`
	Type           ActionType      `json:"type"`
	Entity         Entity          `json:"entity"`
	Data           json.RawMessage `json:"data"`
	Timestamp      string          `json:"timestamp"` // RFC 3339, UTC
	RetryCount     int             `json:"retryCount"`
	LastError      string          `json:"lastError,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// CreatedAt parses Timestamp. A malformed timestamp yields the zero time.
func (a QueuedAction) CreatedAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, a.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DeletePayload is the payload shape of a delete action.
type DeletePayload struct {
	ID string `json:"id"`
}

// DeadLetter is an action abandoned after exhausting its retries.
type DeadLetter struct {
	Action   QueuedAction `json:"action"`
	FailedAt string       `json:"failedAt"`
}
