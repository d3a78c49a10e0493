package generation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxInputBytes caps the size of a staged image.
const MaxInputBytes = 10 << 20

// StagedInput is an image source prepared for a remote call.
type StagedInput struct {
	// URL is what URL-based APIs receive: an http(s) URL or a data URI.
	URL string
	// Path is a local file holding the image, when one exists.
	Path string
	// MIMEType is known for data URIs and local files.
	MIMEType string
}

// Bytes returns the image content from Path or an inline data URI.
// Remote http(s) sources have no local bytes and return an error.
func (in StagedInput) Bytes() ([]byte, error) {
	if in.Path != "" {
		return os.ReadFile(in.Path)
	}
	if strings.HasPrefix(in.URL, "data:") {
		_, data, err := parseDataURI(in.URL)
		return data, err
	}
	return nil, fmt.Errorf("%w: %s has no local content", ErrInvalidParams, in.URL)
}

// Stager turns the image references accepted by the API into inputs for the
// remote services. Inline data is written to a worker-owned temp file that
// the returned cleanup function removes.
type Stager struct {
	dir string
}

// NewStager creates a Stager writing temp files to dir (os.TempDir when empty).
func NewStager(dir string) *Stager {
	return &Stager{dir: dir}
}

// Stage prepares source for the job named by name. The cleanup function is
// never nil and is safe to call more than once.
//
// Accepted sources: data: URIs, http(s) URLs, file:// URLs and local paths.
// A local path that does not exist fails with ErrInputNotFound.
func (s *Stager) Stage(name, source string) (StagedInput, func(), error) {
	noop := func() {}
	source = strings.TrimSpace(source)

	switch {
	case source == "":
		return StagedInput{}, noop, nil

	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return StagedInput{URL: source}, noop, nil

	case strings.HasPrefix(source, "data:"):
		mimeType, data, err := parseDataURI(source)
		if err != nil {
			return StagedInput{}, noop, err
		}
		path, cleanup, err := s.writeTemp(name, mimeType, data)
		if err != nil {
			return StagedInput{}, noop, err
		}
		return StagedInput{URL: source, Path: path, MIMEType: mimeType}, cleanup, nil

	default:
		path := strings.TrimPrefix(source, "file://")
		return stageLocal(path)
	}
}

func stageLocal(path string) (StagedInput, func(), error) {
	noop := func() {}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return StagedInput{}, noop, fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	if err != nil {
		return StagedInput{}, noop, fmt.Errorf("failed to stat image %s: %w", path, err)
	}
	if info.IsDir() {
		return StagedInput{}, noop, fmt.Errorf("%w: %s is a directory", ErrInputNotFound, path)
	}
	if info.Size() > MaxInputBytes {
		return StagedInput{}, noop, fmt.Errorf("%w: image %s exceeds %d bytes", ErrInvalidParams, path, MaxInputBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return StagedInput{}, noop, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return StagedInput{}, noop, fmt.Errorf("%w: unsupported or unrecognized image format: %s", ErrInvalidParams, path)
	}

	uri := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	return StagedInput{URL: uri, Path: path, MIMEType: mimeType}, noop, nil
}

func (s *Stager) writeTemp(name, mimeType string, data []byte) (string, func(), error) {
	ext := ".bin"
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		ext = exts[0]
	}

	f, err := os.CreateTemp(s.dir, "genjob-"+name+"-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	path := f.Name()
	cleanup := func() {
		_ = os.Remove(path)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close staging file: %w", err)
	}
	return path, cleanup, nil
}

// parseDataURI decodes a base64 "data:<mime>;base64,<payload>" URI.
func parseDataURI(uri string) (string, []byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: malformed data URI", ErrInvalidParams)
	}
	mimeType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: data URI must be base64 encoded", ErrInvalidParams)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", nil, fmt.Errorf("%w: data URI is not an image (%q)", ErrInvalidParams, mimeType)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid base64 in data URI: %w", ErrInvalidParams, err)
	}
	if len(data) > MaxInputBytes {
		return "", nil, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidParams, MaxInputBytes)
	}
	return mimeType, data, nil
}
