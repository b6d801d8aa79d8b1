package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/constants"
)

const defaultEmbeddingURL = "http://localhost:8000"

// ClientOptions configures an embedding server client.
type ClientOptions struct {
	URL         string
	Dim         int           // expected embedding length, 0 disables the check
	Timeout     time.Duration // per request
	MinDetScore float64       // detections below this score are ignored
	MaxImage    int           // longest side sent to the server; 0 uses constants.MaxImageSize
	HTTPClient  *http.Client
}

// Client computes face embeddings using the embedding server's /embed/face endpoint.
type Client struct {
	baseURL     string
	dim         int
	minDetScore float64
	maxImage    int
	client      *http.Client
}

// NewClient creates a new embedding server client.
func NewClient(opts ClientOptions) *Client {
	if opts.URL == "" {
		opts.URL = defaultEmbeddingURL
	}
	if opts.MaxImage <= 0 {
		opts.MaxImage = constants.MaxImageSize
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:     strings.TrimSuffix(opts.URL, "/"),
		dim:         opts.Dim,
		minDetScore: opts.MinDetScore,
		maxImage:    opts.MaxImage,
		client:      hc,
	}
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Extract implements Extractor. Exactly one face above the detection score
// threshold must be present.
func (c *Client) Extract(ctx context.Context, image []byte) ([]float32, error) {
	prepared, err := PrepareImage(image, c.maxImage)
	if err != nil {
		return nil, err
	}

	resp, err := c.Detect(ctx, prepared)
	if err != nil {
		return nil, err
	}

	var faces []FaceDetection
	for _, f := range resp.Faces {
		if f.DetScore >= c.minDetScore {
			faces = append(faces, f)
		}
	}
	switch len(faces) {
	case 0:
		return nil, &Error{Reason: ReasonNoFace}
	case 1:
	default:
		return nil, &Error{Reason: ReasonMultipleFaces, Faces: len(faces)}
	}

	emb := faces[0].Embedding
	if len(emb) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrUnavailable)
	}
	if c.dim > 0 && len(emb) != c.dim {
		return nil, fmt.Errorf("%w: expected %d-dimensional embedding, got %d", ErrUnavailable, c.dim, len(emb))
	}
	for _, v := range emb {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: non-finite embedding component", ErrUnavailable)
		}
	}
	return emb, nil
}

// Detect posts an already prepared image and returns every detected face.
func (c *Client) Detect(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrUnavailable, err)
	}
	return &faceResp, nil
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &Error{Reason: ReasonInvalidImage, Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	default:
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrUnavailable, resp.StatusCode, string(body))
	}
}
