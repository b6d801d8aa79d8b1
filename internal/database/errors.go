package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotFound is returned for unknown or removed students.
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when an embedding's length differs from the store dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrConflict is returned when a roll number is already taken within a class.
	ErrConflict = errors.New("conflict")
	// ErrStorageUnavailable marks transient storage failures that are safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidEmbedding is returned for embeddings that are empty or carry non-finite values.
	ErrInvalidEmbedding = errors.New("invalid embedding")
	// ErrEmptyEmbedding is returned when an embedding has no components.
	ErrEmptyEmbedding = fmt.Errorf("%w: no components", ErrInvalidEmbedding)
)

// DimensionError wraps ErrDimensionMismatch with the offending sizes.
func DimensionError(want, got int) error {
	return fmt.Errorf("%w: store has %d, got %d", ErrDimensionMismatch, want, got)
}

// Unavailable wraps err so that errors.Is(err, ErrStorageUnavailable) holds.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsTransient reports generic transient conditions shared by all SQL drivers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
