// Package jobstore persists conversion job rows and exposes a change stream
// of row transitions. Every write is an atomic single-row operation; no
// backend needs multi-row transactions.
package jobstore

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Lllllllleong/conversionflow/internal/models"
)

// ErrJobNotFound is returned for lookups and updates against unknown ids.
var ErrJobNotFound = errors.New("job not found")

// EventKind classifies a change-stream entry.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
)

// Event is one entry of the repository change stream.
type Event struct {
	Kind EventKind
	Job  models.ConversionJob
}

// Repository is the durable store of conversion job rows.
//
// UpdateStatus to a terminal value is a no-op, not an error, when the row is
// already terminal: duplicate delivery of a terminal transition must leave
// the row untouched. CompletedAt is set by the repository, exactly once, at
// the terminal transition. OwnerID is fixed at Create time.
type Repository interface {
	Create(ctx context.Context, job *models.ConversionJob) error
	UpdateStatus(ctx context.Context, id string, status models.Status, outputPath, errorMessage string) error
	Get(ctx context.Context, id string) (models.ConversionJob, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.ConversionJob, error)
	ListStale(ctx context.Context, olderThan time.Time) ([]models.ConversionJob, error)
	Events() <-chan Event
	Close() error
}

const eventBuffer = 128

// broadcaster fans row transitions out to the change-stream channel shared
// by all repository backends. Delivery is best effort: a full buffer drops
// the event rather than blocking a write path.
type broadcaster struct {
	events chan Event
}

func newBroadcaster() *broadcaster {
	return &broadcaster{events: make(chan Event, eventBuffer)}
}

func (b *broadcaster) publish(kind EventKind, job models.ConversionJob) {
	select {
	case b.events <- Event{Kind: kind, Job: job.Clone()}:
	default:
		log.Printf("[Job: %s] WARNING: change stream buffer full, dropping %s event", job.ID, kind)
	}
}

func (b *broadcaster) Events() <-chan Event {
	return b.events
}

func (b *broadcaster) close() {
	close(b.events)
}
