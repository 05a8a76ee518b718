// Package orchestrator runs the conversion submission pipeline: validate the
// request, upload inputs, create durable job rows, drive the provider, store
// outputs, and reconcile each row to a terminal status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/Lllllllleong/conversionflow/internal/artifact"
	"github.com/Lllllllleong/conversionflow/internal/inspect"
	"github.com/Lllllllleong/conversionflow/internal/jobstore"
	"github.com/Lllllllleong/conversionflow/internal/models"
	"github.com/Lllllllleong/conversionflow/internal/provider"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// pageCount parses a PDF input's page count. Tests override it so fixture
// bytes need not be real PDFs.
var pageCount = inspect.PageCount

// Converter is the provider boundary the orchestrator drives.
type Converter interface {
	Convert(ctx context.Context, kind models.OperationKind, files []provider.File, params models.Parameters) (provider.Result, error)
}

// InputFile is one validated upload handed to Submit.
type InputFile struct {
	Name string
	Data []byte
}

// JobHandle reports the outcome of one job created by a submission.
type JobHandle struct {
	JobID      string
	Status     models.Status
	OutputPath string
	Err        error
}

// SubmitResult is the caller-facing outcome of a submission. For per-file
// operations Succeeded/Failed summarize the independent units and
// FirstFailure carries the first unit's diagnostic on partial failure.
type SubmitResult struct {
	Jobs         []JobHandle
	Succeeded    int
	Failed       int
	FirstFailure string
}

// Orchestrator owns all mutations of conversion job rows. No other
// component writes to the repository.
type Orchestrator struct {
	store     artifact.Store
	repo      jobstore.Repository
	converter Converter
	workers   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds the per-file fan-out; 1 means sequential processing.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func New(store artifact.Store, repo jobstore.Repository, converter Converter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		repo:      repo,
		converter: converter,
		workers:   defaultWorkers,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates and runs one conversion request for ownerID. Validation
// and upload failures surface before any job row exists. Once rows exist,
// every row is driven to a terminal status before Submit returns: per-file
// operations tolerate individual failures and only error out when all units
// fail, batch operations fail as one unit.
func (o *Orchestrator) Submit(ctx context.Context, ownerID string, kind models.OperationKind, files []InputFile, params models.Parameters) (*SubmitResult, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthenticated
	}
	desc, err := models.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := desc.ValidateParameters(params); err != nil {
		return nil, err
	}
	if len(files) < desc.MinInputs {
		return nil, &models.InvalidParametersError{
			Field:  "files",
			Reason: fmt.Sprintf("%s requires at least %d file(s), got %d", kind, desc.MinInputs, len(files)),
		}
	}
	if err := o.preflight(desc, files, params); err != nil {
		return nil, err
	}

	paths, err := o.uploadInputs(ctx, ownerID, desc, files)
	if err != nil {
		return nil, err
	}

	if desc.Batch {
		return o.runBatch(ctx, ownerID, desc, files, paths, params)
	}
	return o.runPerFile(ctx, ownerID, desc, files, paths, params)
}

// preflight rejects inputs locally before any storage or provider work.
func (o *Orchestrator) preflight(desc models.Descriptor, files []InputFile, params models.Parameters) error {
	if !desc.PDFInput {
		return nil
	}
	for _, file := range files {
		count, err := pageCount(file.Data)
		if err != nil {
			return &models.InvalidParametersError{Field: "files", Reason: fmt.Sprintf("%s: %v", file.Name, err)}
		}
		if desc.Kind == models.OpSplitPDF && params.SplitMode == models.SplitModeRange {
			if err := inspect.CheckRange(params.SplitValue, count); err != nil {
				return &models.InvalidParametersError{Field: "splitValue", Reason: err.Error()}
			}
		}
	}
	return nil
}

// uploadInputs persists every input under the owner's storage prefix. Any
// failure aborts the whole submission with no job rows created.
func (o *Orchestrator) uploadInputs(ctx context.Context, ownerID string, desc models.Descriptor, files []InputFile) ([]string, error) {
	paths := make([]string, len(files))
	for i, file := range files {
		name := fmt.Sprintf("%s%s", uuid.New().String(), filepath.Ext(file.Name))
		path := artifact.ObjectPath(ownerID, desc.Slug, name)
		if err := o.store.Put(ctx, path, file.Data, ""); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrUploadFailed, file.Name, err)
		}
		paths[i] = path
	}
	return paths, nil
}

// runBatch processes kinds whose inputs collapse into one output: a single
// job row covers the whole input set and any failure fails that one unit.
func (o *Orchestrator) runBatch(ctx context.Context, ownerID string, desc models.Descriptor, files []InputFile, paths []string, params models.Parameters) (*SubmitResult, error) {
	job := &models.ConversionJob{
		OwnerID:       ownerID,
		OperationKind: desc.Kind,
		InputPaths:    paths,
		Status:        models.StatusProcessing,
		Parameters:    params,
		Cost:          desc.Cost,
	}
	if err := o.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}

	handle := o.runConversion(ctx, job.ID, ownerID, desc, files, params)
	result := &SubmitResult{Jobs: []JobHandle{handle}}
	if handle.Err != nil {
		result.Failed = 1
		result.FirstFailure = handle.Err.Error()
		return result, handle.Err
	}
	result.Succeeded = 1
	return result, nil
}

// runPerFile processes each input as its own independent job. Units run
// under a bounded fan-out; a unit's failure never cancels its siblings, so
// workers record outcomes per index instead of returning errors into the
// group.
func (o *Orchestrator) runPerFile(ctx context.Context, ownerID string, desc models.Descriptor, files []InputFile, paths []string, params models.Parameters) (*SubmitResult, error) {
	handles := make([]JobHandle, len(files))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.workers)
	for i := range files {
		eg.Go(func() error {
			if gctx.Err() != nil {
				// Cancelled before this unit started: no row was created,
				// so there is nothing to mark failed.
				handles[i] = JobHandle{Status: models.StatusFailed, Err: fmt.Errorf("%w: %v", models.ErrCancelled, gctx.Err())}
				return nil
			}

			job := &models.ConversionJob{
				OwnerID:       ownerID,
				OperationKind: desc.Kind,
				InputPaths:    []string{paths[i]},
				Status:        models.StatusProcessing,
				Parameters:    params,
				Cost:          desc.Cost,
			}
			if err := o.repo.Create(gctx, job); err != nil {
				handles[i] = JobHandle{Status: models.StatusFailed, Err: fmt.Errorf("failed to create job record: %w", err)}
				return nil
			}
			handles[i] = o.runConversion(gctx, job.ID, ownerID, desc, files[i:i+1], params)
			return nil
		})
	}
	_ = eg.Wait()

	result := &SubmitResult{Jobs: handles}
	var messages []string
	for _, handle := range handles {
		if handle.Err != nil {
			result.Failed++
			messages = append(messages, handle.Err.Error())
		} else {
			result.Succeeded++
		}
	}
	if result.Failed == len(handles) {
		return result, &models.AllFailedError{Messages: messages}
	}
	if result.Failed > 0 {
		result.FirstFailure = messages[0]
		log.Printf("[Owner: %s] Partial failure for %s: %d succeeded, %d failed. First: %s",
			ownerID, desc.Kind, result.Succeeded, result.Failed, result.FirstFailure)
	}
	return result, nil
}

// runConversion drives one job row from processing to a terminal status. By
// the time it returns, the row is terminal (or a terminal write was
// attempted and logged).
func (o *Orchestrator) runConversion(ctx context.Context, jobID, ownerID string, desc models.Descriptor, files []InputFile, params models.Parameters) JobHandle {
	inputs := make([]provider.File, len(files))
	for i, file := range files {
		inputs[i] = provider.File{Name: file.Name, Data: file.Data}
	}

	result, err := o.converter.Convert(ctx, desc.Kind, inputs, params)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, models.ErrCancelled) {
			err = fmt.Errorf("%w: %v", models.ErrCancelled, err)
		}
		return o.failJob(ctx, jobID, err)
	}

	outputPath := artifact.ObjectPath(ownerID, "converted", fmt.Sprintf("%s-%s", uuid.New().String(), result.Name))
	if err := o.store.Put(ctx, outputPath, result.Data, result.MIMEType); err != nil {
		return o.failJob(ctx, jobID, fmt.Errorf("%w: %v", models.ErrStorageFailed, err))
	}

	// The output is durably stored; the terminal write is bookkeeping. If
	// it fails the conversion still succeeded, and the row stays visible to
	// an external reconciliation pass via ListStale.
	if err := o.repo.UpdateStatus(ctx, jobID, models.StatusCompleted, outputPath, ""); err != nil {
		log.Printf("[Job: %s] CRITICAL: output stored at %s but completed write failed: %v", jobID, outputPath, err)
	}
	return JobHandle{JobID: jobID, Status: models.StatusCompleted, OutputPath: outputPath}
}

// failJob records a unit's failure on its row before surfacing it. A job
// must never remain silently processing after its unit of work returned.
func (o *Orchestrator) failJob(ctx context.Context, jobID string, cause error) JobHandle {
	log.Printf("[Job: %s] Conversion failed: %v", jobID, cause)
	// The submission context may already be cancelled; the failed write
	// must still go through.
	if err := o.repo.UpdateStatus(context.WithoutCancel(ctx), jobID, models.StatusFailed, "", cause.Error()); err != nil {
		log.Printf("[Job: %s] CRITICAL: failed to record failed status: %v", jobID, err)
	}
	return JobHandle{JobID: jobID, Status: models.StatusFailed, Err: cause}
}
