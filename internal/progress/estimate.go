// Package progress projects a human-facing completion estimate for jobs
// still in flight. The estimate is synthetic: the provider reports no real
// progress, so elapsed time against an assumed duration is all there is.
package progress

import (
	"fmt"
	"time"

	"github.com/Lllllllleong/conversionflow/internal/models"
)

// AssumedDuration is the presumed wall time of a typical conversion.
const AssumedDuration = 60 * time.Second

// processingCap reserves the last 5% as "finalizing" so a non-terminal job
// never shows as complete before its terminal transition lands.
const processingCap = 95

// Estimate returns a 0-100 percentage and a short label for the given
// status and creation time, evaluated at now. Pure; safe for concurrent use.
func Estimate(status models.Status, createdAt, now time.Time) (int, string) {
	if status.Terminal() {
		return 100, "Done"
	}
	if status != models.StatusProcessing {
		return 0, "Queued"
	}

	elapsed := now.Sub(createdAt)
	if elapsed < 0 {
		elapsed = 0
	}
	percent := int(elapsed * 100 / AssumedDuration)
	if percent > processingCap {
		percent = processingCap
	}

	remaining := AssumedDuration - elapsed
	if remaining <= 0 {
		return percent, "Finalizing..."
	}
	return percent, fmt.Sprintf("~%ds remaining", int(remaining.Round(time.Second).Seconds()))
}
