// Package constants provides shared constants used across the codebase.
package constants

// Upload limits
const (
	// MaxUploadSize is the maximum accepted request body for image uploads (10 MB)
	MaxUploadSize = 10 << 20

	// MaxImageSize is the maximum dimension (width or height) sent to the extractor
	MaxImageSize = 1280

	// MaxReferenceImages is the maximum number of images accepted in one enrollment request
	MaxReferenceImages = 10

	// MaxImagePixels caps the declared width*height of an upload before it is decoded (40 MP)
	MaxImagePixels = 40_000_000
)

// Report constants
const (
	// DefaultSummaryDays is the number of days covered by the summary chart
	DefaultSummaryDays = 7

	// MaxSummaryDays caps the summary range
	MaxSummaryDays = 366
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for batch enrollment
	WorkerPoolSize = 4
)

// Token constants
const (
	// RoleAdmin may enroll, remove and report
	RoleAdmin = "admin"
	// RoleKiosk may only verify
	RoleKiosk = "kiosk"
)
