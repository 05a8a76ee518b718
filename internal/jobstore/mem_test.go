package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/Lllllllleong/conversionflow/internal/models"
)

func newJob(owner string) *models.ConversionJob {
	return &models.ConversionJob{
		OwnerID:       owner,
		OperationKind: models.OpPDFToWord,
		InputPaths:    []string{owner + "/pdf-to-word/a.pdf"},
		Status:        models.StatusProcessing,
		Cost:          2,
	}
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	repo := NewMemRepository()
	defer repo.Close()

	job := newJob("user-1")
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID == "" {
		t.Error("expected Create to assign an id")
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected Create to stamp createdAt")
	}

	got, err := repo.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OwnerID != "user-1" || got.Status != models.StatusProcessing {
		t.Errorf("stored job mismatch: %+v", got)
	}
}

func TestTerminalTransitionIsIdempotent(t *testing.T) {
	tests := []struct {
		name       string
		first      models.Status
		firstOut   string
		firstErr   string
		second     models.Status
		secondOut  string
		wantStatus models.Status
		wantOut    string
		wantErrMsg string
	}{
		{
			name:       "completed then failed keeps completed",
			first:      models.StatusCompleted,
			firstOut:   "user-1/converted/out.docx",
			second:     models.StatusFailed,
			wantStatus: models.StatusCompleted,
			wantOut:    "user-1/converted/out.docx",
		},
		{
			name:       "failed then completed keeps failed",
			first:      models.StatusFailed,
			firstErr:   "corrupt stream",
			second:     models.StatusCompleted,
			secondOut:  "user-1/converted/late.docx",
			wantStatus: models.StatusFailed,
			wantErrMsg: "corrupt stream",
		},
		{
			name:       "completed twice leaves row identical",
			first:      models.StatusCompleted,
			firstOut:   "user-1/converted/out.docx",
			second:     models.StatusCompleted,
			secondOut:  "user-1/converted/other.docx",
			wantStatus: models.StatusCompleted,
			wantOut:    "user-1/converted/out.docx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemRepository()
			defer repo.Close()
			ctx := context.Background()

			job := newJob("user-1")
			if err := repo.Create(ctx, job); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := repo.UpdateStatus(ctx, job.ID, tt.first, tt.firstOut, tt.firstErr); err != nil {
				t.Fatalf("first UpdateStatus: %v", err)
			}
			after, err := repo.Get(ctx, job.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			firstCompleted := after.CompletedAt

			if err := repo.UpdateStatus(ctx, job.ID, tt.second, tt.secondOut, ""); err != nil {
				t.Fatalf("second UpdateStatus: %v", err)
			}
			got, err := repo.Get(ctx, job.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.OutputPath != tt.wantOut {
				t.Errorf("outputPath = %q, want %q", got.OutputPath, tt.wantOut)
			}
			if got.ErrorMessage != tt.wantErrMsg {
				t.Errorf("errorMessage = %q, want %q", got.ErrorMessage, tt.wantErrMsg)
			}
			if firstCompleted == nil || got.CompletedAt == nil {
				t.Fatal("expected completedAt to be set at the terminal transition")
			}
			if !got.CompletedAt.Equal(*firstCompleted) {
				t.Error("completedAt changed on duplicate terminal write")
			}
		})
	}
}

func TestUpdateStatusUnknownJob(t *testing.T) {
	repo := NewMemRepository()
	defer repo.Close()
	err := repo.UpdateStatus(context.Background(), "nope", models.StatusFailed, "", "x")
	if err == nil {
		t.Fatal("expected error for unknown job id")
	}
}

func TestChangeStreamPublishesTransitions(t *testing.T) {
	repo := NewMemRepository()
	defer repo.Close()
	ctx := context.Background()

	job := newJob("user-1")
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.UpdateStatus(ctx, job.ID, models.StatusCompleted, "user-1/converted/out.docx", ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	created := <-repo.Events()
	if created.Kind != EventCreated || created.Job.ID != job.ID {
		t.Errorf("unexpected first event: %+v", created)
	}
	updated := <-repo.Events()
	if updated.Kind != EventUpdated || updated.Job.Status != models.StatusCompleted {
		t.Errorf("unexpected second event: %+v", updated)
	}

	// A duplicate terminal write is a no-op and must not emit.
	if err := repo.UpdateStatus(ctx, job.ID, models.StatusFailed, "", "late"); err != nil {
		t.Fatalf("duplicate UpdateStatus: %v", err)
	}
	select {
	case event := <-repo.Events():
		t.Errorf("unexpected event after no-op terminal write: %+v", event)
	default:
	}
}

func TestListByOwnerAndStale(t *testing.T) {
	repo := NewMemRepository()
	defer repo.Close()
	ctx := context.Background()

	old := newJob("user-1")
	old.CreatedAt = time.Now().Add(-10 * time.Minute)
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fresh := newJob("user-1")
	if err := repo.Create(ctx, fresh); err != nil {
		t.Fatalf("Create: %v", err)
	}
	other := newJob("user-2")
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	owned, err := repo.ListByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("ListByOwner returned %d jobs, want 2", len(owned))
	}
	if !owned[0].CreatedAt.After(owned[1].CreatedAt) {
		t.Error("expected newest-first ordering")
	}

	stale, err := repo.ListStale(ctx, time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Errorf("ListStale = %+v, want only the old processing job", stale)
	}
}
