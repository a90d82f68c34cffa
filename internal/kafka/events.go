package kafka

import (
	"encoding/json"
	"time"
)

// NotificationEvent is the wire format on the notifications topic.
type NotificationEvent struct {
	Type       string          `json:"type"`
	UserIDs    []string        `json:"user_ids,omitempty"`
	Roles      []string        `json:"roles,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
