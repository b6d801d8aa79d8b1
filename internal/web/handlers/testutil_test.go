package handlers

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database/mock"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/extractor"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/facematch"
)

var testNow = time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

// testFaces maps uploaded image content to the embedding the fake extractor returns.
var testFaces = map[string][]float32{
	"alice":   {1, 0, 0},
	"alice-2": {0.99, 0.01, 0},
	"bob":     {0, 1, 0},
	"nobody":  {0, 0, 1},
	"flat":    {1, 0},
}

func testExtractor() extractor.Extractor {
	return extractor.Func(func(ctx context.Context, image []byte) ([]float32, error) {
		switch string(image) {
		case "group":
			return nil, &extractor.Error{Reason: extractor.ReasonMultipleFaces, Faces: 3}
		case "down":
			return nil, fmt.Errorf("%w: connection refused", extractor.ErrUnavailable)
		}
		if emb, ok := testFaces[string(image)]; ok {
			return emb, nil
		}
		return nil, &extractor.Error{Reason: extractor.ReasonNoFace}
	})
}

// testService creates a service over fresh mocks with a Euclidean matcher
func testService(t *testing.T) (*attendance.Service, *mock.MockBackend) {
	t.Helper()
	m, err := facematch.NewMatcher(facematch.Config{Metric: facematch.MetricEuclidean, Threshold: 0.1, MaxDistance: 2, Epsilon: 1e-9})
	if err != nil {
		t.Fatal(err)
	}
	backend := mock.NewMockBackend()
	svc := attendance.NewService(backend, testExtractor(), m, attendance.Options{
		Location:   time.UTC,
		LateAfter:  8*time.Hour + 30*time.Minute,
		RetryDelay: time.Millisecond,
		Now:        func() time.Time { return testNow },
	})
	return svc, backend
}

// multipartRequest builds a request carrying form fields and image parts
func multipartRequest(t *testing.T, method, path string, fields map[string]string, images ...string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for i, img := range images {
		part, err := mw.CreateFormFile(imageField, fmt.Sprintf("img%d.jpg", i))
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte(img))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
