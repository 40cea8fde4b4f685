// Package events fans domain events out to push channels (WebSocket, Kafka).
// Delivery is best-effort: clients still converge through polling.
package events

import (
	"context"
	"errors"
	"time"
)

type Type string

const (
	MessageCreated Type = "message.created"
	MessagesRead   Type = "messages.read"
)

// Event is published after a successful store write. A nil Recipients slice
// addresses every connected user.
type Event struct {
	Type       Type      `json:"type"`
	Recipients []string  `json:"recipients,omitempty"`
	Data       any       `json:"data"`
	At         time.Time `json:"at"`
}

// Publisher delivers events to one channel.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi publishes to every channel and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// ReadPayload is the Data of a MessagesRead event.
type ReadPayload struct {
	ReaderID      string `json:"readerId"`
	CounterpartID string `json:"counterpartId"`
	Count         int64  `json:"count"`
}
