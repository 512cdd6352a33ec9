package ocr

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// StaticEngine returns fixed text. It backs --text dry runs and tests.
type StaticEngine struct {
	// Delay simulates recognition latency and honors context cancellation.
	Delay time.Duration

	mu     sync.Mutex
	text   string
	closed bool
	calls  atomic.Int64
}

// NewStaticEngine creates an engine that always reads text.
func NewStaticEngine(text string) *StaticEngine {
	return &StaticEngine{text: text}
}

// SetText changes the text returned by later calls.
func (e *StaticEngine) SetText(text string) {
	e.mu.Lock()
	e.text = text
	e.mu.Unlock()
}

// Calls returns how many times Recognize ran.
func (e *StaticEngine) Calls() int64 { return e.calls.Load() }

// Closed reports whether Close was called.
func (e *StaticEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *StaticEngine) Recognize(ctx context.Context, img image.Image, _ string) (Result, error) {
	start := time.Now()
	e.calls.Add(1)

	e.mu.Lock()
	closed, text := e.closed, e.text
	e.mu.Unlock()
	if closed {
		return Result{}, &RecognitionError{Backend: BackendStatic, Err: ErrClosed}
	}
	if img == nil {
		return Result{}, &RecognitionError{Backend: BackendStatic, Err: errNilImage}
	}
	if e.Delay > 0 {
		t := time.NewTimer(e.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{}, &RecognitionError{Backend: BackendStatic, Err: ctx.Err()}
		case <-t.C:
		}
	}
	res := Result{Text: text, Duration: time.Since(start)}
	if text != "" {
		res.Confidence = 1
	}
	return res, nil
}

func (e *StaticEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}
