package attendance

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/extractor"
)

// Machine-readable reasons for failed attempts, alongside extractor.Reason
// values and facematch.Outcome values for rejections.
const (
	ReasonDimensionMismatch    = "dimension_mismatch"
	ReasonInvalidEmbedding     = "invalid_embedding"
	ReasonNotFound             = "not_found"
	ReasonConflict             = "conflict"
	ReasonInvalidStudent       = "invalid_student"
	ReasonStorageUnavailable   = "storage_unavailable"
	ReasonExtractorUnavailable = "extractor_unavailable"
	ReasonCanceled             = "canceled"
	ReasonInternal             = "internal_error"
)

// ReasonFor classifies err into a machine-readable reason.
func ReasonFor(err error) string {
	if e, ok := extractor.AsError(err); ok {
		return string(e.Reason)
	}
	switch {
	case errors.Is(err, database.ErrDimensionMismatch):
		return ReasonDimensionMismatch
	case errors.Is(err, database.ErrInvalidEmbedding):
		return ReasonInvalidEmbedding
	case errors.Is(err, database.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, database.ErrConflict):
		return ReasonConflict
	case errors.Is(err, ErrInvalidStudent):
		return ReasonInvalidStudent
	case errors.Is(err, database.ErrStorageUnavailable):
		return ReasonStorageUnavailable
	case errors.Is(err, extractor.ErrUnavailable):
		return ReasonExtractorUnavailable
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	}
	return ReasonInternal
}

// CalculateBackoff returns an exponential backoff duration with jitter.
// Formula: base * 2^attempt, capped at 5s, with -25%..+25% jitter.
func CalculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	// Cap attempt to avoid overflow in bit shift
	attempt = min(attempt, 16)
	backoff := min(baseDelay*time.Duration(1<<uint(attempt)), 5*time.Second)
	if backoff < 4 {
		return backoff
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}
