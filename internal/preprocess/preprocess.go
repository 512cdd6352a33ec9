// Package preprocess crops a frame to the card region and binarizes it for OCR.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/idscan/internal/frame"
)

// ErrInvalidGeometry is matched by every GeometryError.
var ErrInvalidGeometry = errors.New("invalid crop geometry")

// GeometryError reports a crop rectangle or display geometry that cannot be
// used on a frame.
type GeometryError struct {
	Op     string
	Width  int
	Height int
	Rect   frame.Rect
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s: %s (frame %dx%d, rect %s)", e.Op, e.Reason, e.Width, e.Height, e.Rect)
}

// Is lets errors.Is match ErrInvalidGeometry.
func (e *GeometryError) Is(target error) bool { return target == ErrInvalidGeometry }

// Strategy selects how the crop rectangle is derived.
type Strategy string

const (
	// StrategyAuto uses the guide geometry when the frame carries it and the
	// fixed ratio otherwise.
	StrategyAuto Strategy = "auto"
	// StrategyGuide requires guide geometry.
	StrategyGuide Strategy = "guide"
	// StrategyFixed centers an ID-1 shaped rectangle.
	StrategyFixed Strategy = "fixed"
	// StrategyFull uses the whole frame.
	StrategyFull Strategy = "full"
)

// ParseStrategy validates a strategy name. The empty string means auto.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyAuto, nil
	case StrategyAuto, StrategyGuide, StrategyFixed, StrategyFull:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown crop strategy %q", s)
}

// Config holds the preprocessing parameters.
type Config struct {
	Threshold     float64  `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	WidthFraction float64  `mapstructure:"width_fraction" yaml:"width_fraction" json:"width_fraction"`
	AspectRatio   float64  `mapstructure:"aspect_ratio" yaml:"aspect_ratio" json:"aspect_ratio"`
	Contrast      float64  `mapstructure:"contrast" yaml:"contrast" json:"contrast"`
	Strategy      Strategy `mapstructure:"strategy" yaml:"strategy" json:"strategy"`
}

// DefaultConfig returns the standard settings: 85% width, ID-1 aspect ratio
// 1.585, luminance threshold 140 and no contrast adjustment.
func DefaultConfig() Config {
	return Config{
		Threshold:     140,
		WidthFraction: 0.85,
		AspectRatio:   1.585,
		Strategy:      StrategyAuto,
	}
}

// Image is a preprocessed crop ready for OCR.
type Image struct {
	*image.NRGBA
	// Rect is the requested region in frame coordinates. Parts of it outside
	// the frame are transparent black in the image.
	Rect frame.Rect
}

// Preprocessor crops and binarizes frames. It is safe for concurrent use.
type Preprocessor struct {
	cfg Config
}

// New creates a Preprocessor, filling unset fields from DefaultConfig.
func New(cfg Config) *Preprocessor {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.WidthFraction <= 0 || cfg.WidthFraction > 1 {
		cfg.WidthFraction = def.WidthFraction
	}
	if cfg.AspectRatio <= 0 {
		cfg.AspectRatio = def.AspectRatio
	}
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	return &Preprocessor{cfg: cfg}
}

// Config returns the effective configuration.
func (p *Preprocessor) Config() Config { return p.cfg }

// SelectRect derives the crop rectangle with the configured strategy.
func (p *Preprocessor) SelectRect(f frame.Frame) (frame.Rect, error) {
	return p.SelectRectWith(f, p.cfg.Strategy)
}

// SelectRectWith derives the crop rectangle with an explicit strategy.
func (p *Preprocessor) SelectRectWith(f frame.Frame, s Strategy) (frame.Rect, error) {
	if f.Empty() {
		return frame.Rect{}, &GeometryError{Op: "select", Reason: "empty frame"}
	}
	switch s {
	case StrategyFull:
		return f.Bounds(), nil
	case StrategyFixed:
		return FixedRatioRect(f.Width(), f.Height(), p.cfg.WidthFraction, p.cfg.AspectRatio)
	case StrategyGuide:
		if f.Display == nil {
			return frame.Rect{}, &GeometryError{Op: "select", Width: f.Width(), Height: f.Height(), Reason: "frame has no guide geometry"}
		}
		return ScannerRect(f.Width(), f.Height(), *f.Display)
	default:
		if f.Display != nil {
			return ScannerRect(f.Width(), f.Height(), *f.Display)
		}
		return FixedRatioRect(f.Width(), f.Height(), p.cfg.WidthFraction, p.cfg.AspectRatio)
	}
}

// ScannerRect maps the on-screen guide rectangle into native frame pixels:
// the guide is shifted to the video element origin and scaled by the ratio
// of native to displayed size on each axis.
func ScannerRect(nativeW, nativeH int, d frame.Display) (frame.Rect, error) {
	if nativeW <= 0 || nativeH <= 0 {
		return frame.Rect{}, &GeometryError{Op: "scanner_rect", Width: nativeW, Height: nativeH, Reason: "empty frame"}
	}
	if d.Video.Width <= 0 || d.Video.Height <= 0 {
		return frame.Rect{}, &GeometryError{Op: "scanner_rect", Width: nativeW, Height: nativeH, Reason: "video element has no displayed size"}
	}
	scaleX := float64(nativeW) / d.Video.Width
	scaleY := float64(nativeH) / d.Video.Height
	r := frame.Rect{
		X:      int(math.Round((d.Guide.Left - d.Video.Left) * scaleX)),
		Y:      int(math.Round((d.Guide.Top - d.Video.Top) * scaleY)),
		Width:  int(math.Round(d.Guide.Width * scaleX)),
		Height: int(math.Round(d.Guide.Height * scaleY)),
	}
	if r.Empty() {
		return frame.Rect{}, &GeometryError{Op: "scanner_rect", Width: nativeW, Height: nativeH, Rect: r, Reason: "guide has no area"}
	}
	return r, nil
}

// FixedRatioRect centers a rectangle whose width is widthFraction of the
// frame width and whose height follows from aspect (width / height). When
// that height does not fit, the height is clamped to the frame and the width
// recomputed from the ratio.
func FixedRatioRect(w, h int, widthFraction, aspect float64) (frame.Rect, error) {
	if w <= 0 || h <= 0 {
		return frame.Rect{}, &GeometryError{Op: "fixed_rect", Width: w, Height: h, Reason: "empty frame"}
	}
	if widthFraction <= 0 || widthFraction > 1 || aspect <= 0 {
		return frame.Rect{}, &GeometryError{Op: "fixed_rect", Width: w, Height: h, Reason: "invalid ratio parameters"}
	}
	cw := int(float64(w) * widthFraction)
	ch := int(float64(cw) / aspect)
	if ch > h {
		ch = h
		cw = int(float64(ch) * aspect)
	}
	r := frame.Rect{X: (w - cw) / 2, Y: (h - ch) / 2, Width: cw, Height: ch}
	if r.Empty() {
		return frame.Rect{}, &GeometryError{Op: "fixed_rect", Width: w, Height: h, Rect: r, Reason: "frame too small"}
	}
	return r, nil
}

// Process crops f to rect and binarizes the result. A rectangle that only
// partly overlaps the frame is padded with transparent black to its full
// size; one with no overlap is an error.
func (p *Preprocessor) Process(f frame.Frame, rect frame.Rect) (Image, error) {
	if f.Empty() {
		return Image{}, &GeometryError{Op: "process", Rect: rect, Reason: "empty frame"}
	}
	if rect.Empty() {
		return Image{}, &GeometryError{Op: "process", Width: f.Width(), Height: f.Height(), Rect: rect, Reason: "empty rectangle"}
	}
	clipped := rect.Image().Intersect(f.Image.Rect)
	if clipped.Empty() {
		return Image{}, &GeometryError{Op: "process", Width: f.Width(), Height: f.Height(), Rect: rect, Reason: "rectangle outside frame"}
	}

	want := rect.Image()
	crop := imaging.Crop(f.Image, clipped)
	if clipped != want {
		padded := imaging.New(want.Dx(), want.Dy(), color.NRGBA{})
		crop = imaging.Paste(padded, crop, clipped.Min.Sub(want.Min))
	}
	if p.cfg.Contrast != 0 {
		crop = imaging.AdjustContrast(crop, p.cfg.Contrast)
	}
	Binarize(crop, p.cfg.Threshold)
	return Image{NRGBA: crop, Rect: rect}, nil
}

// Binarize thresholds img in place on luminance 0.299R + 0.587G + 0.114B.
// Pixels above threshold become white, the rest black. Alpha is untouched.
func Binarize(img *image.NRGBA, threshold float64) {
	if img == nil {
		return
	}
	b := img.Rect
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := img.PixOffset(b.Min.X, y)
		end := i + b.Dx()*4
		for ; i < end; i += 4 {
			lum := 0.299*float64(img.Pix[i]) + 0.587*float64(img.Pix[i+1]) + 0.114*float64(img.Pix[i+2])
			var v uint8
			if lum > threshold {
				v = 255
			}
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = v, v, v
		}
	}
}
