package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/conversionflow/internal/models"
	"github.com/google/uuid"
)

// MemRepository is an in-memory Repository used by tests and local
// development.
type MemRepository struct {
	mu   sync.RWMutex
	jobs map[string]*models.ConversionJob
	*broadcaster

	// FailUpdate, when set, makes UpdateStatus return the given error for
	// matching ids. Tests use it to simulate bookkeeping outages.
	FailUpdate func(id string) error
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		jobs:        make(map[string]*models.ConversionJob),
		broadcaster: newBroadcaster(),
	}
}

func (r *MemRepository) Create(ctx context.Context, job *models.ConversionJob) error {
	r.mu.Lock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	stored := job.Clone()
	r.jobs[job.ID] = &stored
	r.mu.Unlock()

	r.publish(EventCreated, stored)
	return nil
}

func (r *MemRepository) UpdateStatus(ctx context.Context, id string, status models.Status, outputPath, errorMessage string) error {
	if r.FailUpdate != nil {
		if err := r.FailUpdate(id); err != nil {
			return err
		}
	}

	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	job.Status = status
	if outputPath != "" {
		job.OutputPath = outputPath
	}
	if errorMessage != "" {
		job.ErrorMessage = errorMessage
	}
	if status.Terminal() && job.CompletedAt == nil {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	updated := job.Clone()
	r.mu.Unlock()

	r.publish(EventUpdated, updated)
	return nil
}

func (r *MemRepository) Get(ctx context.Context, id string) (models.ConversionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ConversionJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

func (r *MemRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.ConversionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var jobs []models.ConversionJob
	for _, job := range r.jobs {
		if job.OwnerID == ownerID {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func (r *MemRepository) ListStale(ctx context.Context, olderThan time.Time) ([]models.ConversionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var jobs []models.ConversionJob
	for _, job := range r.jobs {
		if job.Status == models.StatusProcessing && job.CreatedAt.Before(olderThan) {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (r *MemRepository) Close() error {
	r.broadcaster.close()
	return nil
}
