//go:build tesseract

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"
)

const tesseractAvailable = true

// tesseractEngine owns one gosseract client. Calls are serialized because a
// client holds a single image at a time.
type tesseractEngine struct {
	mu     sync.Mutex
	client *gosseract.Client
	closed bool
	call   detachedCall
}

func newTesseractEngine(cfg Config) (Engine, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(cfg.Language); err != nil {
		_ = client.Close()
		return nil, &RecognitionError{Backend: BackendTesseract, Err: fmt.Errorf("set language: %w", err)}
	}
	if cfg.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
			_ = client.Close()
			return nil, &RecognitionError{Backend: BackendTesseract, Err: fmt.Errorf("set page segmentation mode: %w", err)}
		}
	}
	return &tesseractEngine{client: client}, nil
}

// Recognize gives up on ctx without waiting for the native call. The
// abandoned call keeps the engine busy until it returns, and Recognize
// reports ErrBusy meanwhile.
func (e *tesseractEngine) Recognize(ctx context.Context, img image.Image, whitelist string) (Result, error) {
	if img == nil {
		return Result{}, &RecognitionError{Backend: BackendTesseract, Err: errNilImage}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{}, &RecognitionError{Backend: BackendTesseract, Err: fmt.Errorf("encode image: %w", err)}
	}
	return e.call.run(ctx, BackendTesseract, func() (Result, error) {
		return e.recognize(buf.Bytes(), whitelist)
	})
}

func (e *tesseractEngine) recognize(data []byte, whitelist string) (Result, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Result{}, &RecognitionError{Backend: BackendTesseract, Err: ErrClosed}
	}
	if err := e.client.SetWhitelist(whitelist); err != nil {
		return Result{}, &RecognitionError{Backend: BackendTesseract, Err: fmt.Errorf("set whitelist: %w", err)}
	}
	if err := e.client.SetImageFromBytes(data); err != nil {
		return Result{}, &RecognitionError{Backend: BackendTesseract, Err: fmt.Errorf("set image: %w", err)}
	}
	text, err := e.client.Text()
	if err != nil {
		return Result{}, &RecognitionError{Backend: BackendTesseract, Err: fmt.Errorf("recognize text: %w", err)}
	}

	res := Result{Text: strings.TrimSpace(text)}
	if boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD); err == nil && len(boxes) > 0 {
		var sum float64
		res.Words = make([]Word, 0, len(boxes))
		for _, b := range boxes {
			conf := b.Confidence / 100
			sum += conf
			res.Words = append(res.Words, Word{Text: b.Word, Confidence: conf, Box: b.Box})
		}
		res.Confidence = sum / float64(len(boxes))
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (e *tesseractEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.client.Close()
}
