package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the submission pipeline. Callers classify
// failures with errors.Is; the richer shapes below add fields where the
// caller needs them.
var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrUploadFailed         = errors.New("input upload failed")
	ErrSubmissionFailed     = errors.New("provider submission failed")
	ErrProviderTimeout      = errors.New("provider polling timed out")
	ErrEmptyResult          = errors.New("provider returned an empty result")
	ErrStorageFailed        = errors.New("result storage failed")
	ErrCancelled            = errors.New("cancelled")
)

// InvalidParametersError rejects a submission whose options do not fit the
// requested operation.
type InvalidParametersError struct {
	Field  string
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid parameters: %s %s", e.Field, e.Reason)
}

// ProviderError carries the remote provider's own diagnostic for a
// conversion that reached a terminal error state.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return "provider conversion error: " + e.Message
}

// AllFailedError aggregates the per-file messages of a batch of independent
// conversions in which every unit failed.
type AllFailedError struct {
	Messages []string
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all %d conversions failed: %s", len(e.Messages), strings.Join(e.Messages, "; "))
}
