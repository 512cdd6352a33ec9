// Package ocr wraps text recognition engines behind a small interface.
//
// The Tesseract backend needs cgo and the tesseract/leptonica libraries and is
// only linked with -tags=tesseract. Without the tag the "tesseract" backend
// reports ErrNoBackend and the "static" backend is available for dry runs.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"
)

// DefaultWhitelist restricts recognition to the characters that appear in
// card fields.
const DefaultWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-/: "

const (
	BackendTesseract = "tesseract"
	BackendStatic    = "static"
)

var (
	// ErrNoBackend is returned when the requested backend is not linked.
	ErrNoBackend = errors.New("ocr: tesseract backend not linked; build with -tags=tesseract")
	// ErrClosed is returned by engines used after Close.
	ErrClosed = errors.New("ocr: engine closed")
	// ErrBusy is returned while an abandoned call still occupies the engine.
	ErrBusy = errors.New("ocr: engine busy with an abandoned call")

	errNilImage = errors.New("nil image")
)

// RecognitionError wraps a failure inside a backend.
type RecognitionError struct {
	Backend string
	Err     error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("ocr %s: %v", e.Backend, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Word is one recognized word with its confidence in [0, 1].
type Word struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Result is the output of one recognition call.
type Result struct {
	Text string `json:"text"`
	// Confidence is the mean word confidence in [0, 1], 0 when unknown.
	Confidence float64       `json:"confidence"`
	Words      []Word        `json:"words,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Engine recognizes text in an image. Implementations may hold native
// resources; callers own the engine and must Close it.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, whitelist string) (Result, error)
	Close() error
}

// Factory creates a fresh Engine.
type Factory func() (Engine, error)

// Config selects and tunes a backend.
type Config struct {
	Backend     string        `mapstructure:"backend" yaml:"backend" json:"backend"`
	Language    string        `mapstructure:"language" yaml:"language" json:"language"`
	Whitelist   string        `mapstructure:"whitelist" yaml:"whitelist" json:"whitelist"`
	PageSegMode int           `mapstructure:"page_seg_mode" yaml:"page_seg_mode" json:"page_seg_mode"`
	Timeout     time.Duration `mapstructure:"-" yaml:"-" json:"-"`
	// StaticText is what the static backend returns.
	StaticText string `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultConfig returns Tesseract with English and the card whitelist.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendTesseract,
		Language:  "eng",
		Whitelist: DefaultWhitelist,
		Timeout:   10 * time.Second,
	}
}

// NewFactory returns a Factory for the configured backend. It fails early
// when the backend is unknown or not linked into this binary.
func NewFactory(cfg Config) (Factory, error) {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	switch cfg.Backend {
	case BackendTesseract, "":
		if !tesseractAvailable {
			return nil, ErrNoBackend
		}
		return func() (Engine, error) { return newTesseractEngine(cfg) }, nil
	case BackendStatic:
		text := cfg.StaticText
		return func() (Engine, error) { return NewStaticEngine(text), nil }, nil
	}
	return nil, fmt.Errorf("ocr: unknown backend %q", cfg.Backend)
}

// Available reports whether the named backend can be constructed.
func Available(backend string) bool {
	switch backend {
	case BackendTesseract:
		return tesseractAvailable
	case BackendStatic:
		return true
	}
	return false
}

type callResult struct {
	res Result
	err error
}

// detachedCall runs blocking native calls on their own goroutine so the
// caller can give up on ctx. Only one call runs at a time: while an
// abandoned call is still running, new calls fail with ErrBusy instead of
// queueing behind it.
type detachedCall struct {
	busy atomic.Bool
}

func (d *detachedCall) run(ctx context.Context, backend string, fn func() (Result, error)) (Result, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return Result{}, &RecognitionError{Backend: backend, Err: ErrBusy}
	}
	done := make(chan callResult, 1)
	go func() {
		res, err := fn()
		d.busy.Store(false)
		done <- callResult{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return Result{}, &RecognitionError{Backend: backend, Err: ctx.Err()}
	case r := <-done:
		return r.res, r.err
	}
}
