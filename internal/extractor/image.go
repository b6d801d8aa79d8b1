package extractor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/constants"
)

// PrepareImage decodes data, scales it to fit within maxSize (width or height)
// while keeping aspect ratio, and re-encodes it as JPEG. Undecodable input is
// a ReasonInvalidImage error, as is a header declaring more than
// constants.MaxImagePixels pixels.
func PrepareImage(data []byte, maxSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, &Error{Reason: ReasonInvalidImage, Err: fmt.Errorf("empty image")}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Reason: ReasonInvalidImage, Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &Error{Reason: ReasonInvalidImage, Err: fmt.Errorf("image has no pixels")}
	}
	if int64(cfg.Width)*int64(cfg.Height) > constants.MaxImagePixels {
		return nil, &Error{Reason: ReasonInvalidImage, Err: fmt.Errorf("image is %dx%d, limit is %d pixels", cfg.Width, cfg.Height, constants.MaxImagePixels)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Reason: ReasonInvalidImage, Err: err}
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, &Error{Reason: ReasonInvalidImage, Err: fmt.Errorf("image has no pixels")}
	}

	if maxSize > 0 && (width > maxSize || height > maxSize) {
		var newWidth, newHeight int
		if width > height {
			newWidth = maxSize
			newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
		} else {
			newHeight = maxSize
			newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
		}
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
