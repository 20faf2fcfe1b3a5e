// Package attach stores uploaded files and validates what may be uploaded.
package attach

import (
	"context"
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxSize is the largest accepted upload.
const MaxSize = 10 * 1024 * 1024

var (
	ErrEmpty           = errors.New("file is empty")
	ErrTooLarge        = errors.New("file size must be less than 10MB")
	ErrUnsupportedType = errors.New("file type not supported")
	ErrBadRef          = errors.New("bad storage reference")
)

// Uploaded describes a stored blob.
type Uploaded struct {
	URL      string
	PublicID string // storage reference accepted by Delete
	Size     int64
	Name     string
}

type Store interface {
	Upload(ctx context.Context, data []byte, mimeType, name string) (*Uploaded, error)
	Delete(ctx context.Context, ref string) error
}

var allowed = map[string]bool{
	// images
	"image/jpeg":    true,
	"image/png":     true,
	"image/gif":     true,
	"image/webp":    true,
	"image/svg+xml": true,
	// documents
	"application/pdf": true,
	"text/plain":      true,
	"text/csv":        true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.ms-excel":                                                  true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	// archives
	"application/zip":              true,
	"application/x-rar-compressed": true,
	// code
	"text/javascript":  true,
	"text/css":         true,
	"text/html":        true,
	"application/json": true,
	"text/xml":         true,
	"application/xml":  true,
}

// Content sniffing cannot tell these families apart, so a declared type from
// the same family wins over the generic detection.
var families = map[string][]string{
	"text/plain": {"text/plain", "text/csv", "text/javascript", "text/css", "text/html",
		"application/json", "text/xml", "application/xml"},
	"application/zip": {"application/zip",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	"application/x-ole-storage": {"application/msword", "application/vnd.ms-excel", "application/vnd.ms-powerpoint"},
}

func baseType(m string) string {
	m, _, _ = strings.Cut(m, ";")
	return strings.ToLower(strings.TrimSpace(m))
}

// Validate checks size and content and returns the MIME type to record.
func Validate(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}
	declared = baseType(declared)
	detected := mimetype.Detect(data)

	for m := detected; m != nil; m = m.Parent() {
		base := baseType(m.String())
		for _, member := range families[base] {
			if member == declared {
				return declared, nil
			}
		}
		if allowed[base] {
			return base, nil
		}
	}
	return "", ErrUnsupportedType
}

// Kind maps a MIME type onto an attachment type.
func Kind(mimeType string) string {
	if strings.HasPrefix(mimeType, "image/") {
		return "image"
	}
	return "file"
}
