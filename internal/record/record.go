// Package record writes captured frames to disk as still images.
package record

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/galaxycam/internal/capture"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Saver writes frames into one directory. Safe for concurrent use.
type Saver struct {
	dir         string
	ext         string
	jpegQuality int

	saved  atomic.Uint64
	failed atomic.Uint64
}

// NewSaver creates dir if needed. format is png, jpg/jpeg, bmp or tiff;
// jpegQuality applies to jpg only.
func NewSaver(dir, format string, jpegQuality int) (*Saver, error) {
	ext := strings.ToLower(strings.TrimPrefix(format, "."))
	switch ext {
	case "png", "jpg", "bmp", "tiff":
	case "jpeg":
		ext = "jpg"
	default:
		return nil, errors.Errorf("unsupported image format %q (use png, jpg, bmp or tiff)", format)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create output directory")
	}
	return &Saver{dir: dir, ext: ext, jpegQuality: jpegQuality}, nil
}

// Dir returns the output directory
func (s *Saver) Dir() string {
	return s.dir
}

// Filename builds frame_<serial>_<seq>_<timestamp>.<ext>
func (s *Saver) Filename(serial string, f *capture.Frame) string {
	serial = unsafeChars.ReplaceAllString(serial, "_")
	if serial == "" {
		serial = "camera"
	}
	return fmt.Sprintf("frame_%s_%06d_%s.%s",
		serial,
		f.Seq,
		f.Timestamp.Format("20060102_150405.000"),
		s.ext)
}

// Save writes the frame and returns the file path
func (s *Saver) Save(serial string, f *capture.Frame) (string, error) {
	if f == nil || f.Image.Empty() {
		s.failed.Add(1)
		return "", errors.New("empty frame")
	}
	path := filepath.Join(s.dir, s.Filename(serial, f))

	var ok bool
	if s.ext == "jpg" && s.jpegQuality > 0 {
		ok = gocv.IMWriteWithParams(path, f.Image, []int{gocv.IMWriteJpegQuality, s.jpegQuality})
	} else {
		ok = gocv.IMWrite(path, f.Image)
	}
	if !ok {
		s.failed.Add(1)
		return "", errors.Errorf("failed to write %s", path)
	}
	s.saved.Add(1)
	return path, nil
}

// Stats returns how many frames were written and how many failed
func (s *Saver) Stats() (saved, failed uint64) {
	return s.saved.Load(), s.failed.Load()
}
