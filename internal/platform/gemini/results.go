package gemini

import (
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ResultWriter stores generated media under a directory and returns the
// public reference of each stored file.
type ResultWriter struct {
	dir     string
	urlPath string
}

// NewResultWriter creates a ResultWriter for dir, whose files are served
// under urlPath (for example "/api/results").
func NewResultWriter(dir, urlPath string) (*ResultWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &ResultWriter{dir: dir, urlPath: "/" + strings.Trim(urlPath, "/")}, nil
}

// Write stores data as a new file named after prefix and returns its reference.
func (w *ResultWriter) Write(prefix, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to store empty %s output", prefix)
	}
	name := fmt.Sprintf("%s_%s%s", prefix, uuid.NewString(), extensionFor(mimeType))

	tmp, err := os.CreateTemp(w.dir, ".tmp-"+name)
	if err != nil {
		return "", fmt.Errorf("failed to create result file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write result file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close result file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(w.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to publish result file: %w", err)
	}
	return path.Join(w.urlPath, name), nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "video/mp4", "":
		return ".mp4"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
