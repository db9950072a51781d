// Package util - Frame sources feeding the pipeline from disk.
//
// Two inputs are supported: a directory of numbered still images, as
// produced by frame-extraction tooling, and a video file decoded through
// OpenCV. Both deliver frames in capture order with timestamps derived
// from the configured frame interval.
package util

import (
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"

	"github.com/YetAnotherUser24/awive/frame"
)

// DirectorySource reads frames from a directory of image files named
// frame-<number>.<ext>. Files are ordered by their frame number and decoded
// lazily, one per Next call.
type DirectorySource struct {
	paths    []string
	interval time.Duration
	next     int
}

// NewDirectorySource scans dir for image files and prepares them in frame
// order. Image files without a parseable frame number are skipped. interval
// is the capture spacing used to stamp each frame.
//
// Arguments:
// - dir: Directory containing frame-<number>.jpg/.png/.bmp files.
// - interval: Time between consecutive frames.
//
// Returns:
// - *DirectorySource: Source ready for the pipeline.
// - error: Error when the directory cannot be read or holds no usable
//   frames.
func NewDirectorySource(dir string, interval time.Duration) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "source: read directory %s", dir)
	}

	type numbered struct {
		path string
		n    int
	}
	var files []numbered
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp":
		default:
			continue
		}
		stem := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "frame-"), ext)
		n, convErr := strconv.Atoi(stem)
		if convErr != nil {
			// Thumbnails and other strays often sit next to frame dumps.
			continue
		}
		files = append(files, numbered{path: filepath.Join(dir, e.Name()), n: n})
	}
	if len(files) == 0 {
		return nil, errors.Errorf("source: no image files in %s", dir)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].n < files[j].n })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return &DirectorySource{paths: paths, interval: interval}, nil
}

// Len returns the number of frames the source will deliver.
func (s *DirectorySource) Len() int { return len(s.paths) }

// Next decodes and returns the next frame, or io.EOF when the directory is
// exhausted.
func (s *DirectorySource) Next() (*frame.Frame, error) {
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.next]

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "source: open %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "source: decode %s", path)
	}

	idx := s.next
	s.next++
	return frame.FromImage(img, idx, time.Duration(idx)*s.interval), nil
}

// VideoSource reads frames from a video file through OpenCV.
type VideoSource struct {
	capture  *gocv.VideoCapture
	buf      gocv.Mat
	gray     gocv.Mat
	interval time.Duration
	next     int
	closed   bool
}

// NewVideoSource opens a video file for frame-by-frame decoding. Close must
// be called when done.
func NewVideoSource(path string, interval time.Duration) (*VideoSource, error) {
	capture, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, errors.Wrapf(err, "source: open video %s", path)
	}
	return &VideoSource{
		capture:  capture,
		buf:      gocv.NewMat(),
		gray:     gocv.NewMat(),
		interval: interval,
	}, nil
}

// FPS reports the container frame rate, 0 when unknown.
func (s *VideoSource) FPS() float64 {
	return s.capture.Get(gocv.VideoCaptureFPS)
}

// Next decodes the next video frame as grayscale, or io.EOF at end of
// stream.
func (s *VideoSource) Next() (*frame.Frame, error) {
	if s.closed {
		return nil, io.EOF
	}
	if ok := s.capture.Read(&s.buf); !ok || s.buf.Empty() {
		return nil, io.EOF
	}

	if s.buf.Channels() > 1 {
		gocv.CvtColor(s.buf, &s.gray, gocv.ColorBGRToGray)
	} else {
		s.buf.CopyTo(&s.gray)
	}

	f, err := frame.FromMat(s.gray, s.next)
	if err != nil {
		return nil, err
	}
	f.Timestamp = time.Duration(s.next) * s.interval
	s.next++
	return f, nil
}

// Close releases the decoder and its buffers.
func (s *VideoSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.buf.Close()
	s.gray.Close()
	return s.capture.Close()
}
