// Package extract turns uploaded files into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFileType is returned for files whose extension has no extractor.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrInvalidDocument is returned when a file does not parse as its extension claims.
	ErrInvalidDocument = errors.New("invalid document")
)

// SupportedExtensions lists the extensions Text accepts.
var SupportedExtensions = []string{".txt", ".md", ".pdf", ".docx"}

// Extractor converts file content to text. PDF conversion shells out to
// pdftotext through a CommandRunner.
type Extractor struct {
	runner CommandRunner
}

// New creates an Extractor that runs pdftotext from PATH.
func New() *Extractor {
	return &Extractor{runner: execRunner{}}
}

// NewWithRunner creates an Extractor with a custom command runner.
func NewWithRunner(runner CommandRunner) *Extractor {
	return &Extractor{runner: runner}
}

var defaultExtractor = New()

// Text extracts a file with the default Extractor.
func Text(ctx context.Context, filename string, content []byte) (string, error) {
	return defaultExtractor.Text(ctx, filename, content)
}

// Text returns the plain text of a file, selected by its extension.
// Invalid UTF-8 sequences are dropped.
func (e *Extractor) Text(ctx context.Context, filename string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md":
		return decodeUTF8(content), nil
	case ".docx":
		text, err := docxText(content)
		if err != nil {
			return "", fmt.Errorf("%s: %w", filename, err)
		}
		return text, nil
	case ".pdf":
		text, err := e.pdfText(ctx, content)
		if err != nil {
			return "", fmt.Errorf("%s: %w", filename, err)
		}
		return decodeUTF8([]byte(text)), nil
	default:
		return "", fmt.Errorf("%w: %s (use %s)", ErrUnsupportedFileType, filename, strings.Join(SupportedExtensions, ", "))
	}
}

func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "")
}
