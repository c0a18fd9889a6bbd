package events

import "context"

// Event is a workflow notification published after a state change commits.
type Event struct {
	Kind       string         `json:"kind"` // step code
	RequestKey string         `json:"request_key"`
	Actor      string         `json:"actor"`
	At         int64          `json:"at"` // unix seconds
	Fields     map[string]any `json:"fields,omitempty"`
}

// Queue publishes workflow events to downstream consumers (notifier,
// reporting). Publishing is best effort; the state change is already
// committed when Publish runs.
type Queue interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
