package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Package extract turns raw uploaded document bytes into a single normalized
// text string. Formats are dispatched on the filename extension; each format
// implementation is pure Go and streaming-free (documents arrive as one byte
// slice from the upload handler).

// ErrUnsupportedFormat is returned when the filename extension is not one of
// the recognized document formats.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Extractor converts raw document bytes into normalized text.
// It is an interface so services can inject test doubles.
type Extractor interface {
	Extract(data []byte, filename string) (string, error)
}

// DocumentExtractor is the production Extractor covering PDF, EPUB and
// plain-text uploads.
type DocumentExtractor struct{}

// New returns the default document extractor.
func New() *DocumentExtractor {
	return &DocumentExtractor{}
}

var _ Extractor = (*DocumentExtractor)(nil)

// Supported reports whether the filename extension maps to a known format.
// Use it as a cheap pre-check before reading the upload body.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".epub", ".txt":
		return true
	}
	return false
}

// Extract dispatches on the filename extension and returns normalized text.
func (e *DocumentExtractor) Extract(data []byte, filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		text, err := extractPDF(data)
		if err != nil {
			return "", fmt.Errorf("extract pdf: %w", err)
		}
		return normalize(text), nil
	case ".epub":
		text, err := extractEPUB(data)
		if err != nil {
			return "", fmt.Errorf("extract epub: %w", err)
		}
		return normalize(text), nil
	case ".txt":
		return normalize(string(data)), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// ContentType returns the MIME type matching the filename extension, or
// application/octet-stream for anything unrecognized.
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".epub":
		return "application/epub+zip"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalize collapses whitespace runs to single spaces and trims the ends,
// so cursor offsets are stable regardless of the source layout.
func normalize(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
