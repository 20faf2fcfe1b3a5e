package attach

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// LocalPrefix is the URL path under which Local files are served.
const LocalPrefix = "/uploads"

// Local keeps uploads on disk; the HTTP layer serves Dir under LocalPrefix.
type Local struct {
	Dir     string
	BaseURL string
}

func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) Upload(ctx context.Context, data []byte, mimeType, name string) (*Uploaded, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		if m := mimetype.Lookup(mimeType); m != nil {
			ext = m.Extension()
		}
	}
	file := uuid.NewString() + strings.ToLower(ext)
	if err := os.WriteFile(filepath.Join(l.Dir, file), data, 0o644); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	return &Uploaded{
		URL:      l.BaseURL + LocalPrefix + "/" + file,
		PublicID: "local:" + file,
		Size:     int64(len(data)),
		Name:     name,
	}, nil
}

func (l *Local) Delete(ctx context.Context, ref string) error {
	file, ok := strings.CutPrefix(ref, "local:")
	if !ok || file == "" || file != filepath.Base(file) {
		return fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	err := os.Remove(filepath.Join(l.Dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
