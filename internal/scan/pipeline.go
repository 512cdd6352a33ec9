package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/idscan/internal/extract"
	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/ocr"
	"github.com/MeKo-Tech/idscan/internal/presence"
	"github.com/MeKo-Tech/idscan/internal/preprocess"
)

// ErrNoEngine is returned when no OCR engine factory was configured.
var ErrNoEngine = errors.New("scan: no OCR engine configured")

// Components are the stages shared by live sessions and one-shot scans.
// Nil stages get their package defaults; Engines is required.
type Components struct {
	Detector     *presence.Detector
	Preprocessor *preprocess.Preprocessor
	Extractor    *extract.Extractor
	Engines      ocr.Factory
	Logger       *slog.Logger
}

func (c Components) withDefaults() (Components, error) {
	if c.Engines == nil {
		return c, ErrNoEngine
	}
	if c.Detector == nil {
		c.Detector = presence.New(presence.DefaultConfig())
	}
	if c.Preprocessor == nil {
		c.Preprocessor = preprocess.New(preprocess.DefaultConfig())
	}
	if c.Extractor == nil {
		c.Extractor = extract.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}

// Outcome is the result of running the stages on one frame.
type Outcome struct {
	Rect        frame.Rect        `json:"rect"`
	Presence    presence.Stats    `json:"presence"`
	Present     bool              `json:"present"`
	Recognition ocr.Result        `json:"recognition"`
	Record      extract.Record    `json:"record"`
	Image       *preprocess.Image `json:"-"`
}

// Terminal reports whether the outcome carries a complete record.
func (o *Outcome) Terminal() bool { return o != nil && o.Record.Terminal() }

// recognize runs OCR with an optional timeout and records its duration.
func recognize(ctx context.Context, eng ocr.Engine, img *preprocess.Image, whitelist string, timeout time.Duration) (ocr.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := eng.Recognize(ctx, img.NRGBA, whitelist)
	ocrDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var recErr *ocr.RecognitionError
		if !errors.As(err, &recErr) {
			err = &ocr.RecognitionError{Backend: "engine", Err: err}
		}
		return ocr.Result{}, err
	}
	return res, nil
}

// PipelineConfig tunes one-shot scans.
type PipelineConfig struct {
	Whitelist        string
	RecognizeTimeout time.Duration
	// RequirePresence stops before OCR when the presence check fails.
	RequirePresence bool
}

// Pipeline runs a single frame through crop, binarization, OCR and field
// extraction. Each Scan acquires its own engine and releases it afterwards.
type Pipeline struct {
	comp Components
	cfg  PipelineConfig
}

// NewPipeline creates a one-shot pipeline.
func NewPipeline(cfg PipelineConfig, comp Components) (*Pipeline, error) {
	comp, err := comp.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.Whitelist == "" {
		cfg.Whitelist = ocr.DefaultWhitelist
	}
	return &Pipeline{comp: comp, cfg: cfg}, nil
}

// Scan processes f with the given crop strategy.
func (p *Pipeline) Scan(ctx context.Context, f frame.Frame, strategy preprocess.Strategy) (*Outcome, error) {
	rect, err := p.comp.Preprocessor.SelectRectWith(f, strategy)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Rect: rect}
	out.Presence = p.comp.Detector.Analyze(f.Image, rect)
	out.Present = p.comp.Detector.Present(out.Presence)
	if p.cfg.RequirePresence && !out.Present {
		return out, nil
	}

	img, err := p.comp.Preprocessor.Process(f, rect)
	if err != nil {
		return nil, err
	}
	out.Image = &img
	out.Rect = img.Rect

	eng, err := p.comp.Engines()
	if err != nil {
		return nil, fmt.Errorf("create OCR engine: %w", err)
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			p.comp.Logger.Warn("Failed to release OCR engine", "error", cerr)
		}
	}()

	out.Recognition, err = recognize(ctx, eng, &img, p.cfg.Whitelist, p.cfg.RecognizeTimeout)
	if err != nil {
		return nil, err
	}
	out.Record = p.comp.Extractor.Extract(out.Recognition.Text)

	p.comp.Logger.Debug("One-shot scan finished",
		"rect", out.Rect.String(),
		"present", out.Present,
		"terminal", out.Record.Terminal(),
		"duration", out.Recognition.Duration)
	if out.Record.Terminal() {
		recordsExtracted.WithLabelValues(string(out.Record.IDFormat)).Inc()
	}
	return out, nil
}
