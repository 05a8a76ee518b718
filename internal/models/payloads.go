package models

// These structs define the JSON payloads exchanged between the HTTP surface
// and its clients. The orchestration core itself never marshals them.

// SubmitResponse is returned for a conversion submission. For per-file
// batches Succeeded/Failed summarize the independent units; FirstFailure
// carries the first per-file diagnostic when the batch partially failed.
type SubmitResponse struct {
	Jobs         []JobView `json:"jobs"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	FirstFailure string    `json:"firstFailure,omitempty"`
}

// JobView is the externally visible shape of a job row, including the
// projected progress for rows still in flight.
type JobView struct {
	ID            string        `json:"id"`
	OperationKind OperationKind `json:"operationKind"`
	Status        Status        `json:"status"`
	OutputPath    string        `json:"outputPath,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	Cost          int           `json:"cost"`
	CreatedAt     string        `json:"createdAt"`
	CompletedAt   string        `json:"completedAt,omitempty"`
	Percent       int           `json:"percent"`
	ProgressLabel string        `json:"progressLabel,omitempty"`
}

// JobNotification is pushed over the notification socket when a job reaches
// a terminal status.
type JobNotification struct {
	JobID         string        `json:"jobId"`
	OperationKind OperationKind `json:"operationKind"`
	Status        Status        `json:"status"`
	OutputPath    string        `json:"outputPath,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
}

// ErrorResponse is the uniform error body for the HTTP surface.
type ErrorResponse struct {
	Error string `json:"error"`
}
