package types

import (
	"fmt"
	"strings"

	"github.com/galerly/transform/pkg/errors"
)

// DefaultQuality is applied to lossy encodes when the request omits quality.
const DefaultQuality = 85

// Format identifies an encodable rendition format.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// ParseFormat normalizes a user-supplied format name. "jpg" is accepted as
// an alias for "jpeg".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", errors.NewError(errors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("unsupported target format: %q", s))
	}
}

// ContentType returns the MIME type for the encoded format.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Extension returns the file extension used in rendition keys.
func (f Format) Extension() string {
	return string(f)
}

// Lossy reports whether quality settings apply to this format.
func (f Format) Lossy() bool {
	return f == FormatJPEG || f == FormatWebP
}

// SupportsAlpha reports whether the format can carry a transparency channel.
func (f Format) SupportsAlpha() bool {
	return f == FormatPNG || f == FormatWebP
}

// FitMode governs aspect-ratio handling when both target dimensions are set.
type FitMode string

const (
	// FitInside scales the image to fit entirely within the box, never
	// upscaling beyond it. At least one output dimension may come out
	// smaller than requested.
	FitInside FitMode = "inside"

	// FitCover scales the image to fully cover the box and crops the
	// overflow, centered.
	FitCover FitMode = "cover"

	// FitFill stretches to exactly the requested dimensions.
	FitFill FitMode = "fill"
)

// ParseFitMode normalizes a user-supplied fit mode.
func ParseFitMode(s string) (FitMode, error) {
	switch strings.ToLower(s) {
	case "inside":
		return FitInside, nil
	case "cover":
		return FitCover, nil
	case "fill":
		return FitFill, nil
	default:
		return "", errors.NewError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("unsupported fit mode: %q", s))
	}
}

// TransformRequest is the unit of work handed to the transform engine.
// Width and Height of zero mean "preserve that dimension".
type TransformRequest struct {
	SourceKey string  `json:"source_key"`
	Format    Format  `json:"format,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Fit       FitMode `json:"fit,omitempty"`
	Quality   int     `json:"quality,omitempty"`
}

// ApplyDefaults fills unset fields with their documented defaults:
// format jpeg, fit inside, quality 85.
func (r *TransformRequest) ApplyDefaults() {
	if r.Format == "" {
		r.Format = FormatJPEG
	}
	if r.Fit == "" {
		r.Fit = FitInside
	}
	if r.Quality == 0 {
		r.Quality = DefaultQuality
	}
}

// Validate checks field ranges. It does not verify that SourceKey exists;
// that is the engine's NotFound path.
func (r *TransformRequest) Validate() error {
	if r.SourceKey == "" {
		return errors.NewError(errors.ErrCodeValidationFailed, "source_key must not be empty")
	}
	if strings.HasPrefix(r.SourceKey, "/") || strings.Contains(r.SourceKey, "//") {
		return errors.NewError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("source_key is not a valid object key: %q", r.SourceKey))
	}
	if r.Width < 0 {
		return errors.NewError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("width must be positive, got %d", r.Width))
	}
	if r.Height < 0 {
		return errors.NewError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("height must be positive, got %d", r.Height))
	}
	if r.Quality < 1 || r.Quality > 100 {
		return errors.NewError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("quality must be between 1 and 100, got %d", r.Quality))
	}
	switch r.Format {
	case FormatJPEG, FormatPNG, FormatWebP:
	default:
		return errors.NewError(errors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("unsupported target format: %q", r.Format))
	}
	switch r.Fit {
	case FitInside, FitCover, FitFill:
	default:
		return errors.NewError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("unsupported fit mode: %q", r.Fit))
	}
	return nil
}

// HasResize reports whether any target dimension was requested.
func (r *TransformRequest) HasResize() bool {
	return r.Width > 0 || r.Height > 0
}

// CacheKey derives the rendition object key for this request. The key is a
// pure function of the parameter tuple: identical tuples always map to the
// same key, and because the parameter suffix never contains a slash, two
// tuples differing in any field map to different keys. Callers must apply
// defaults first so that explicit and implicit defaults share a rendition.
func (r *TransformRequest) CacheKey() string {
	return fmt.Sprintf("%s/%dx%d-%s-q%d.%s",
		r.SourceKey, r.Width, r.Height, r.Fit, r.Quality, r.Format.Extension())
}

// InvocationResponse is the wire shape returned by the transform function
// across the invocation boundary. Exactly one of Body or ErrorKind is set.
// Body travels base64-encoded via standard JSON []byte marshaling. Cached
// reports whether the rendition write succeeded, so callers know whether
// the bytes can also be served by key.
type InvocationResponse struct {
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Message     string `json:"message,omitempty"`
}
