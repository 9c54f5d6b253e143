package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

// ExtractionError reports input that could not be read. It is never retried.
type ExtractionError struct {
	Format string
	Cause  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Format, e.Cause)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// FormatExtractor turns one family of blobs into plain text.
type FormatExtractor interface {
	Extract(blob []byte) (string, error)
}

const (
	MimePDF   = "application/pdf"
	MimeHTML  = "text/html"
	MimeXHTML = "application/xhtml+xml"
	MimeXLSX  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Extractor struct {
	formats map[string]FormatExtractor
	text    FormatExtractor
}

// New returns an extractor for plain text, PDF, HTML and XLSX.
func New() *Extractor {
	h := htmlExtractor{}
	return &Extractor{
		formats: map[string]FormatExtractor{
			MimePDF:   pdfExtractor{},
			MimeHTML:  h,
			MimeXHTML: h,
			MimeXLSX:  spreadsheetExtractor{},
		},
		text: plainTextExtractor{},
	}
}

// Register adds or overrides the extractor for a media type.
func (e *Extractor) Register(mediaType string, fx FormatExtractor) {
	e.formats[mediaType] = fx
}

func (e *Extractor) lookup(mediaType string) (FormatExtractor, bool) {
	if fx, ok := e.formats[mediaType]; ok {
		return fx, true
	}
	if strings.HasPrefix(mediaType, "text/") {
		return e.text, true
	}
	return nil, false
}

// Supports reports whether mimeType has an extractor.
func (e *Extractor) Supports(mimeType string) bool {
	_, ok := e.lookup(MediaType(mimeType, nil))
	return ok
}

// Extract converts blob to UTF-8 text, keeping paragraph breaks as blank lines.
// It returns early with ctx.Err() when ctx ends first.
func (e *Extractor) Extract(ctx context.Context, blob []byte, mimeType string) (string, error) {
	mediaType := MediaType(mimeType, blob)
	fx, ok := e.lookup(mediaType)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, mediaType)
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := fx.Extract(blob)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			var ee *ExtractionError
			if !errors.As(r.err, &ee) {
				r.err = &ExtractionError{Format: mediaType, Cause: r.err}
			}
			return "", r.err
		}
		return r.text, nil
	}
}

// MediaType strips parameters from mimeType and lower-cases it. An empty
// type is sniffed from blob.
func MediaType(mimeType string, blob []byte) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		if len(blob) == 0 {
			return "application/octet-stream"
		}
		mimeType = http.DetectContentType(blob)
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(mimeType)
	}
	return mediaType
}
