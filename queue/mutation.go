package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in-flight"
	// StatusFailed entries hit the attempt ceiling; they wait for Retry or
	// Discard and are never sent automatically.
	StatusFailed Status = "failed"
)

// Mutation is one write created while the backend was unreachable. It lives in
// the queue until the server accepts it.
type Mutation struct {
	ID             string          `json:"id" cbor:"1,keyasint"`
	IdempotencyKey string          `json:"idempotency_key" cbor:"2,keyasint"`
	EntityType     string          `json:"entity_type" cbor:"3,keyasint"`
	Method         string          `json:"method" cbor:"4,keyasint"`
	Path           string          `json:"path" cbor:"5,keyasint"`
	Payload        json.RawMessage `json:"payload,omitempty" cbor:"6,keyasint,omitempty"`
	CreatedAt      time.Time       `json:"created_at" cbor:"7,keyasint"`
	Attempts       int             `json:"attempts" cbor:"8,keyasint"`
	Status         Status          `json:"status" cbor:"9,keyasint"`
	LastError      string          `json:"last_error,omitempty" cbor:"10,keyasint,omitempty"`
	Seq            uint64          `json:"seq" cbor:"11,keyasint"`
}

// Draft is what callers hand to Enqueue. Payload is JSON-encoded unless it
// already is a json.RawMessage. Method defaults to POST.
type Draft struct {
	EntityType     string
	Method         string
	Path           string
	Payload        any
	IdempotencyKey string // optional
}

var ErrNotFound = errors.New("queue: mutation not found")

// Store persists mutations. Implementations must be safe for concurrent use
// and must return List in Seq order.
type Store interface {
	// Append assigns the next Seq and stores m.
	Append(ctx context.Context, m Mutation) (Mutation, error)
	Get(ctx context.Context, id string) (Mutation, error)
	List(ctx context.Context) ([]Mutation, error)
	// Update replaces a stored mutation; ErrNotFound if it is gone.
	Update(ctx context.Context, m Mutation) error
	// Delete removes a mutation; deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}

// Sender applies one mutation against the backend. A nil error means the
// server accepted it.
type Sender interface {
	Send(ctx context.Context, m Mutation) error
}

type SenderFunc func(ctx context.Context, m Mutation) error

func (f SenderFunc) Send(ctx context.Context, m Mutation) error { return f(ctx, m) }
