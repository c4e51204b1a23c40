// Package ingest gates uploaded reviewer files before their text reaches the
// question extractor.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
)

// MaxFileSize is the largest accepted upload, in bytes.
const MaxFileSize = 5 << 20


var (
	ErrExtension = errors.New("file type not allowed")
	ErrTooLarge  = errors.New("file too large")
	ErrBinary    = errors.New("binary content detected")
	ErrEmpty     = errors.New("no readable text")
)

// AllowedExtensions are the accepted file name suffixes, lowercase.
var AllowedExtensions = []string{".txt", ".md", ".markdown", ".csv"}

var signatures = []struct {
	name  string
	magic []byte
}{
	{"png", []byte("\x89PNG\r\n\x1a\n")},
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"gif", []byte("GIF87a")},
	{"gif", []byte("GIF89a")},
	{"pdf", []byte("%PDF")},
	{"zip", []byte("PK\x03\x04")},
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// ValidateFile checks an uploaded file and returns its cleaned text.
// Rejections wrap ErrExtension, ErrTooLarge, ErrBinary or ErrEmpty.
func ValidateFile(name string, size int64, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !allowed(ext) {
		if ext == "" {
			ext = "(none)"
		}
		return "", fmt.Errorf("%w: %s", ErrExtension, ext)
	}
	if size > MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, MaxFileSize)
	}
	if kind, ok := binaryKind(content); ok {
		return "", fmt.Errorf("%w: %s (%s)", ErrBinary, kind, mimetype.Detect(content).String())
	}
	return ValidateText(string(content))
}

// ValidateText sanitizes pasted or uploaded text and rejects it when
// nothing readable is left.
func ValidateText(text string) (string, error) {
	clean := Sanitize(text)
	if clean == "" {
		return "", ErrEmpty
	}
	return clean, nil
}

// Sanitize strips control characters other than tab and newline,
// normalizes line endings, and collapses long runs of blank lines.
func Sanitize(text string) string {
	text = strings.ToValidUTF8(text, "�")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func allowed(ext string) bool {
	for _, a := range AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// binaryKind reports whether content looks like a binary file.
func binaryKind(content []byte) (string, bool) {
	if bytes.IndexByte(content, 0) >= 0 {
		return "null bytes", true
	}
	for _, sig := range signatures {
		if bytes.Contains(content, sig.magic) {
			return sig.name, true
		}
	}
	return "", false
}
