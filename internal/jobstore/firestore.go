package jobstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/conversionflow/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// FirestoreRepository stores job rows as documents of a single collection.
// Used on GCP deployments where the server runs without a Postgres instance.
type FirestoreRepository struct {
	client     *firestore.Client
	collection string
	*broadcaster
}

func NewFirestoreRepository(client *firestore.Client, collection string) *FirestoreRepository {
	if collection == "" {
		collection = "conversions"
	}
	return &FirestoreRepository{
		client:      client,
		collection:  collection,
		broadcaster: newBroadcaster(),
	}
}

func (r *FirestoreRepository) docs() *firestore.CollectionRef {
	return r.client.Collection(r.collection)
}

func (r *FirestoreRepository) Create(ctx context.Context, job *models.ConversionJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	var doc *firestore.DocumentRef
	if job.ID == "" {
		doc = r.docs().NewDoc()
		job.ID = doc.ID
	} else {
		doc = r.docs().Doc(job.ID)
	}
	if _, err := doc.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create conversion document %s: %w", job.ID, err)
	}

	r.publish(EventCreated, *job)
	return nil
}

// UpdateStatus runs a read-check-write transaction on the single document so
// a terminal row is never overwritten, matching the Postgres backend's
// conditional update.
func (r *FirestoreRepository) UpdateStatus(ctx context.Context, id string, status models.Status, outputPath, errorMessage string) error {
	doc := r.docs().Doc(id)
	applied := false

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if grpcstatus.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", ErrJobNotFound, id)
			}
			return err
		}
		var current models.ConversionJob
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("failed to decode conversion document %s: %w", id, err)
		}
		if current.Status.Terminal() {
			return nil
		}

		updates := []firestore.Update{{Path: "status", Value: string(status)}}
		if outputPath != "" {
			updates = append(updates, firestore.Update{Path: "outputPath", Value: outputPath})
		}
		if errorMessage != "" {
			updates = append(updates, firestore.Update{Path: "errorMessage", Value: errorMessage})
		}
		if status.Terminal() {
			updates = append(updates, firestore.Update{Path: "completedAt", Value: time.Now().UTC()})
		}
		applied = true
		return tx.Update(doc, updates)
	})
	if err != nil {
		return fmt.Errorf("failed to update conversion document %s: %w", id, err)
	}
	if !applied {
		return nil
	}

	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	r.publish(EventUpdated, job)
	return nil
}

func (r *FirestoreRepository) Get(ctx context.Context, id string) (models.ConversionJob, error) {
	snap, err := r.docs().Doc(id).Get(ctx)
	if err != nil {
		if grpcstatus.Code(err) == codes.NotFound {
			return models.ConversionJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return models.ConversionJob{}, fmt.Errorf("failed to read conversion document %s: %w", id, err)
	}
	return decodeJob(snap)
}

func (r *FirestoreRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.ConversionJob, error) {
	iter := r.docs().Where("ownerId", "==", ownerID).OrderBy("createdAt", firestore.Desc).Documents(ctx)
	return collectDocs(iter)
}

func (r *FirestoreRepository) ListStale(ctx context.Context, olderThan time.Time) ([]models.ConversionJob, error) {
	iter := r.docs().
		Where("status", "==", string(models.StatusProcessing)).
		Where("createdAt", "<", olderThan).
		Documents(ctx)
	return collectDocs(iter)
}

func (r *FirestoreRepository) Close() error {
	err := r.client.Close()
	r.broadcaster.close()
	return err
}

func decodeJob(snap *firestore.DocumentSnapshot) (models.ConversionJob, error) {
	var job models.ConversionJob
	if err := snap.DataTo(&job); err != nil {
		return models.ConversionJob{}, fmt.Errorf("failed to decode conversion document %s: %w", snap.Ref.ID, err)
	}
	job.ID = snap.Ref.ID
	return job, nil
}

func collectDocs(iter *firestore.DocumentIterator) ([]models.ConversionJob, error) {
	defer iter.Stop()
	var jobs []models.ConversionJob
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return jobs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate conversion documents: %w", err)
		}
		job, err := decodeJob(snap)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
}
