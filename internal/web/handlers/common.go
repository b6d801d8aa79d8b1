package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/constants"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/extractor"
)

// imageField is the multipart form field carrying uploaded images.
const imageField = "image"

// reasonInvalidRequest marks malformed uploads and query parameters.
const reasonInvalidRequest = "invalid_request"

// errMissingImage is returned when a multipart request carries no image.
var errMissingImage = errors.New("missing image")

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// respondError sends an error response with a machine-readable reason.
func respondError(w http.ResponseWriter, status int, reason, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Reason: reason})
}

// statusForReason maps a failure reason to an HTTP status.
func statusForReason(reason string) int {
	switch reason {
	case string(extractor.ReasonNoFace), string(extractor.ReasonMultipleFaces),
		string(extractor.ReasonInvalidImage), attendance.ReasonDimensionMismatch,
		attendance.ReasonInvalidEmbedding:
		return http.StatusUnprocessableEntity
	case attendance.ReasonInvalidStudent:
		return http.StatusBadRequest
	case attendance.ReasonNotFound:
		return http.StatusNotFound
	case attendance.ReasonConflict:
		return http.StatusConflict
	case attendance.ReasonStorageUnavailable, attendance.ReasonExtractorUnavailable:
		return http.StatusServiceUnavailable
	case attendance.ReasonCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// respondServiceError classifies err and replies accordingly. Internal
// errors are logged and hidden from the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	reason := attendance.ReasonFor(err)
	status := statusForReason(reason)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, sanitizeForLog(r.URL.Path), err)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	respondError(w, status, reason, message)
}

// parseUpload parses a multipart request bounded by constants.MaxUploadSize.
func parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return fmt.Errorf("invalid multipart form: %w", err)
	}
	return nil
}

// readImages returns up to limit uploaded images from the image field.
func readImages(r *http.Request, limit int) ([][]byte, error) {
	if r.MultipartForm == nil {
		return nil, errMissingImage
	}
	files := r.MultipartForm.File[imageField]
	if len(files) == 0 {
		return nil, errMissingImage
	}
	if len(files) > limit {
		return nil, fmt.Errorf("too many images: %d (max %d)", len(files), limit)
	}

	images := make([][]byte, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		images = append(images, data)
	}
	return images, nil
}

// readImage reads exactly one uploaded image.
func readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if err := parseUpload(w, r); err != nil {
		return nil, err
	}
	images, err := readImages(r, 1)
	if err != nil {
		return nil, err
	}
	return images[0], nil
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
