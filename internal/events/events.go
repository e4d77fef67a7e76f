package events

import "context"

// Channels
const (
	StreamSession = "events:session"
)

// Event types
const (
	EventSessionRotated = "session_rotated"
)

type Event struct {
	Type    string         `json:"type"`
	UserID  int64          `json:"user_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops every event. Used when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
