package models

import "time"

// Status is the lifecycle state of a conversion job. Terminal statuses are
// final; no transition may leave them.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Parameters holds operation-specific options. Fields not relevant to the
// job's operation kind are left zero and rejected at validation time.
type Parameters struct {
	CompressionLevel int    `json:"compressionLevel,omitempty" firestore:"compressionLevel,omitempty"`
	SplitMode        string `json:"splitMode,omitempty" firestore:"splitMode,omitempty"`
	SplitValue       string `json:"splitValue,omitempty" firestore:"splitValue,omitempty"`
}

// ConversionJob is the durable record of a single conversion unit of work:
// one file for per-file operations, or the whole input set for batch
// operations such as merge.
type ConversionJob struct {
	ID            string        `json:"id" firestore:"-"`
	OwnerID       string        `json:"ownerId" firestore:"ownerId"`
	OperationKind OperationKind `json:"operationKind" firestore:"operationKind"`
	InputPaths    []string      `json:"inputPaths" firestore:"inputPaths"`
	OutputPath    string        `json:"outputPath,omitempty" firestore:"outputPath,omitempty"`
	Status        Status        `json:"status" firestore:"status"`
	ErrorMessage  string        `json:"errorMessage,omitempty" firestore:"errorMessage,omitempty"`
	Parameters    Parameters    `json:"parameters" firestore:"parameters"`
	Cost          int           `json:"cost" firestore:"cost"`
	CreatedAt     time.Time     `json:"createdAt" firestore:"createdAt"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty" firestore:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers can hand out job values without
// sharing the input path slice.
func (j ConversionJob) Clone() ConversionJob {
	c := j
	c.InputPaths = append([]string(nil), j.InputPaths...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
