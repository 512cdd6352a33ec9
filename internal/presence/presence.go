// Package presence decides whether a card is likely inside a region of a
// frame by counting high-contrast pixels.
package presence

import (
	"image"

	"github.com/MeKo-Tech/idscan/internal/frame"
)

// Mode selects how the outlier count is compared against the threshold.
type Mode string

const (
	// ModeProportional requires a fraction of the sampled pixels to be outliers.
	ModeProportional Mode = "proportional"
	// ModeAbsolute requires a fixed number of outlier pixels.
	ModeAbsolute Mode = "absolute"
)

// Config holds the presence heuristic parameters.
type Config struct {
	Stride          int     `mapstructure:"stride" yaml:"stride" json:"stride"`
	LowThreshold    float64 `mapstructure:"low_threshold" yaml:"low_threshold" json:"low_threshold"`
	HighThreshold   float64 `mapstructure:"high_threshold" yaml:"high_threshold" json:"high_threshold"`
	Mode            Mode    `mapstructure:"mode" yaml:"mode" json:"mode"`
	MinOutlierRatio float64 `mapstructure:"min_outlier_ratio" yaml:"min_outlier_ratio" json:"min_outlier_ratio"`
	MinOutliers     int     `mapstructure:"min_outliers" yaml:"min_outliers" json:"min_outliers"`
}

// DefaultConfig returns the standard heuristic settings.
func DefaultConfig() Config {
	return Config{
		Stride:          10,
		LowThreshold:    70,
		HighThreshold:   200,
		Mode:            ModeProportional,
		MinOutlierRatio: 0.02,
		MinOutliers:     250,
	}
}

// Stats summarizes one analysis.
type Stats struct {
	Sampled  int `json:"sampled"`
	Outliers int `json:"outliers"`
}

// Ratio returns outliers per sampled pixel, 0 when nothing was sampled.
func (s Stats) Ratio() float64 {
	if s.Sampled == 0 {
		return 0
	}
	return float64(s.Outliers) / float64(s.Sampled)
}

// Detector applies the heuristic. It is stateless and safe for concurrent use.
type Detector struct {
	cfg Config
}

// New creates a Detector, filling unset fields from DefaultConfig.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Stride <= 0 {
		cfg.Stride = def.Stride
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.LowThreshold == 0 && cfg.HighThreshold == 0 {
		cfg.LowThreshold, cfg.HighThreshold = def.LowThreshold, def.HighThreshold
	}
	return &Detector{cfg: cfg}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// Detect reports whether img restricted to roi likely contains a card.
// A zero roi means the whole image.
func (d *Detector) Detect(img image.Image, roi frame.Rect) bool {
	return d.Present(d.Analyze(img, roi))
}

// Present applies the configured threshold to precomputed stats.
func (d *Detector) Present(s Stats) bool {
	if s.Sampled == 0 {
		return false
	}
	if d.cfg.Mode == ModeAbsolute {
		return s.Outliers > d.cfg.MinOutliers
	}
	return float64(s.Outliers) > d.cfg.MinOutlierRatio*float64(s.Sampled)
}

// Analyze samples every Stride-th pixel of the region in row-major order
// and counts pixels whose mean channel brightness falls outside
// [LowThreshold, HighThreshold].
func (d *Detector) Analyze(img image.Image, roi frame.Rect) Stats {
	if img == nil {
		return Stats{}
	}
	bounds := img.Bounds()
	r := bounds
	if roi != (frame.Rect{}) {
		r = roi.Image().Add(bounds.Min).Intersect(bounds)
	}
	if r.Empty() {
		return Stats{}
	}

	w, h := r.Dx(), r.Dy()
	total := w * h
	var s Stats
	nrgba, _ := img.(*image.NRGBA)
	for p := 0; p < total; p += d.cfg.Stride {
		x, y := r.Min.X+p%w, r.Min.Y+p/w
		var sum int
		if nrgba != nil {
			i := nrgba.PixOffset(x, y)
			sum = int(nrgba.Pix[i]) + int(nrgba.Pix[i+1]) + int(nrgba.Pix[i+2])
		} else {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			sum = int(cr>>8) + int(cg>>8) + int(cb>>8)
		}
		brightness := float64(sum) / 3
		s.Sampled++
		if brightness < d.cfg.LowThreshold || brightness > d.cfg.HighThreshold {
			s.Outliers++
		}
	}
	return s
}

// Detect runs the heuristic with DefaultConfig.
func Detect(img image.Image, roi frame.Rect) bool {
	return New(DefaultConfig()).Detect(img, roi)
}
