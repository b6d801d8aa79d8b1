// Package extractor turns a captured image into a single face embedding.
//
// The embedding model runs out of process; Client talks to it over HTTP.
// Any other implementation of Extractor (an in-process model, a fake in
// tests) can be plugged into the attendance service instead.
package extractor

import (
	"context"
	"errors"
	"fmt"
)

// Reason is a machine-readable extraction failure.
type Reason string

const (
	ReasonNoFace        Reason = "no_face_detected"
	ReasonMultipleFaces Reason = "multiple_faces_detected"
	ReasonInvalidImage  Reason = "invalid_image"
)

// Error is a terminal extraction failure for one image. Callers should ask
// for a new capture rather than retry.
type Error struct {
	Reason Reason
	Faces  int
	Err    error
}

func (e *Error) Error() string {
	switch e.Reason {
	case ReasonNoFace:
		return "no face detected"
	case ReasonMultipleFaces:
		return fmt.Sprintf("multiple faces detected (%d)", e.Faces)
	}
	if e.Err != nil {
		return "invalid image: " + e.Err.Error()
	}
	return "invalid image"
}

func (e *Error) Unwrap() error { return e.Err }

// ErrUnavailable marks failures of the extraction service itself.
var ErrUnavailable = errors.New("extractor unavailable")

// AsError returns the extraction error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Extractor computes the embedding of the only face in image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, image []byte) ([]float32, error)

func (f Func) Extract(ctx context.Context, image []byte) ([]float32, error) {
	return f(ctx, image)
}
