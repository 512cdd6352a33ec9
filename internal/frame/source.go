package frame

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	// ErrAcquisition marks a source that cannot produce frames at all.
	ErrAcquisition = errors.New("frame acquisition failed")
	// ErrNoFrame is returned when a source is healthy but has nothing yet.
	ErrNoFrame = errors.New("no frame available")
	// ErrClosed is returned by sources after Close.
	ErrClosed = errors.New("source closed")
)

// AcquisitionError reports a source failure such as a denied or missing camera.
type AcquisitionError struct {
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire frame from %s: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrAcquisition.
func (e *AcquisitionError) Is(target error) bool { return target == ErrAcquisition }

// Source produces frames on demand.
type Source interface {
	Acquire(ctx context.Context) (Frame, error)
	Close() error
}

// Opener is implemented by sources that need a readiness check before the
// first Acquire.
type Opener interface {
	Open(ctx context.Context) error
}

// StaticSource returns the same frame on every call.
type StaticSource struct {
	Frame Frame
}

// NewStaticSource wraps an already-decoded frame.
func NewStaticSource(f Frame) *StaticSource { return &StaticSource{Frame: f} }

func (s *StaticSource) Acquire(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.Frame.Empty() {
		return Frame{}, &AcquisitionError{Source: "static", Err: errors.New("empty frame")}
	}
	return s.Frame, nil
}

func (s *StaticSource) Close() error { return nil }

// SequenceSource replays the images of a directory in name order, one per
// Acquire, and keeps returning the last one once exhausted. It stands in for
// a camera stream in the CLI and tests.
type SequenceSource struct {
	Dir string

	mu    sync.Mutex
	files []string
	next  int
	last  Frame
}

// NewSequenceSource creates a source over the supported images in dir.
func NewSequenceSource(dir string) *SequenceSource { return &SequenceSource{Dir: dir} }

// Open lists the directory. A missing directory or one without images is an
// acquisition failure.
func (s *SequenceSource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *SequenceSource) openLocked() error {
	if s.files != nil {
		return nil
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return &AcquisitionError{Source: s.Dir, Err: err}
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsSupportedImage(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(s.Dir, e.Name()))
	}
	if len(files) == 0 {
		return &AcquisitionError{Source: s.Dir, Err: errors.New("no images found")}
	}
	sort.Strings(files)
	s.files = files
	return nil
}

func (s *SequenceSource) Acquire(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.files) {
		return s.last, nil
	}
	path := s.files[s.next]
	s.next++
	img, _, err := LoadImage(path)
	if err != nil {
		return Frame{}, &AcquisitionError{Source: path, Err: err}
	}
	s.last = New(img)
	return s.last, nil
}

// Remaining reports how many unread images are left.
func (s *SequenceSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files) - s.next
}

func (s *SequenceSource) Close() error { return nil }

// LatestSource holds the most recent frame pushed by a remote client.
type LatestSource struct {
	mu     sync.Mutex
	frame  Frame
	failed error
	closed bool
}

// NewLatestSource creates an empty source.
func NewLatestSource() *LatestSource { return &LatestSource{} }

// Put replaces the held frame.
func (s *LatestSource) Put(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = f
}

// Fail marks the source as unable to deliver frames, for example when the
// remote client reports that camera access was denied.
func (s *LatestSource) Fail(err error) {
	if err == nil {
		err = errors.New("camera unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = err
}

// Recover clears a previous Fail.
func (s *LatestSource) Recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = nil
}

func (s *LatestSource) Acquire(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return Frame{}, ErrClosed
	case s.failed != nil:
		return Frame{}, &AcquisitionError{Source: "remote", Err: s.failed}
	case s.frame.Empty():
		return Frame{}, ErrNoFrame
	}
	return s.frame, nil
}

func (s *LatestSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.frame = Frame{}
	return nil
}
