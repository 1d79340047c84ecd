// Package events is the seam between the dispatcher and anything that wants
// to observe it live (the websocket stream, logs).
package events

import (
	"log/slog"
	"time"
)

// DispatchEvent describes one scheduler action on a work item.
type DispatchEvent struct {
	Kind      string    `json:"kind"` // scheduled | predefined
	ItemID    int64     `json:"itemId"`
	URL       string    `json:"url"`
	Outcome   string    `json:"outcome"` // completed | requeued | failed
	Retry     int       `json:"retry"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher receives dispatch events. Implementations must not block the
// dispatcher; drop before you stall.
type Publisher interface {
	Publish(ev DispatchEvent)
}

// LogPublisher writes every event to the structured log. The default sink
// when no stream hub is attached.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ev DispatchEvent) {
	p.Logger.Info("dispatch event",
		"kind", ev.Kind, "item_id", ev.ItemID, "url", ev.URL,
		"outcome", ev.Outcome, "retry", ev.Retry, "err", ev.Error)
}

// Fanout forwards events to several publishers.
type Fanout []Publisher

func (f Fanout) Publish(ev DispatchEvent) {
	for _, p := range f {
		p.Publish(ev)
	}
}
