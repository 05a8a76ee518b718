// Package notify turns repository change-stream events into user-facing
// notifications: one per job reaching a terminal status.
package notify

import (
	"context"
	"log"
	"sync"

	"github.com/Lllllllleong/conversionflow/internal/jobstore"
	"github.com/Lllllllleong/conversionflow/internal/models"
)

// Notifier delivers one terminal-transition notification to a user.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, n models.JobNotification) error
}

// Relay consumes a repository change stream and emits exactly one
// notification per job id that transitions into a terminal status. The
// dedup set is scoped to the relay instance: a restarted relay may re-emit
// transitions the stream re-delivers, which is the accepted at-least-once
// guarantee.
type Relay struct {
	notifier Notifier

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewRelay(notifier Notifier) *Relay {
	return &Relay{
		notifier: notifier,
		seen:     make(map[string]struct{}),
	}
}

// Run consumes events until the stream closes or ctx is cancelled.
func (r *Relay) Run(ctx context.Context, events <-chan jobstore.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, event)
		}
	}
}

func (r *Relay) handle(ctx context.Context, event jobstore.Event) {
	job := event.Job
	if !job.Status.Terminal() {
		return
	}
	if !r.markSeen(job.ID) {
		return
	}

	n := models.JobNotification{
		JobID:         job.ID,
		OperationKind: job.OperationKind,
		Status:        job.Status,
		OutputPath:    job.OutputPath,
		ErrorMessage:  job.ErrorMessage,
	}
	if err := r.notifier.Notify(ctx, job.OwnerID, n); err != nil {
		log.Printf("[Job: %s] WARNING: notification delivery failed: %v", job.ID, err)
	}
}

// markSeen records the job id and reports whether it was new.
func (r *Relay) markSeen(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[jobID]; dup {
		return false
	}
	r.seen[jobID] = struct{}{}
	return true
}

// LogNotifier writes notifications to the process log. The default sink
// when no push channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, ownerID string, n models.JobNotification) error {
	log.Printf("[Job: %s] Notifying owner %s: %s %s", n.JobID, ownerID, n.OperationKind, n.Status)
	return nil
}
