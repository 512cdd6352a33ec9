package frame

import (
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// Rect is an axis-aligned rectangle in native frame pixel coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RectFrom converts an image.Rectangle.
func RectFrom(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Image returns the rectangle as an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// Box is a rectangle in display coordinates (CSS pixels or similar).
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Display describes how a frame is shown to the user: where the video
// element sits on screen and where the alignment guide is drawn over it.
type Display struct {
	Video Box `json:"video"`
	Guide Box `json:"guide"`
}

// Frame is a single still image taken from a source.
type Frame struct {
	Image      *image.NRGBA
	CapturedAt time.Time
	// Display is nil when the frame has no on-screen guide geometry.
	Display *Display
}

// New wraps img as a Frame captured now. The pixels are copied into an
// NRGBA buffer whose bounds start at the origin.
func New(img image.Image) Frame {
	if img == nil {
		return Frame{CapturedAt: time.Now()}
	}
	var nrgba *image.NRGBA
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		nrgba = n
	} else {
		nrgba = imaging.Clone(img)
	}
	return Frame{Image: nrgba, CapturedAt: time.Now()}
}

// WithDisplay returns a copy of f carrying display geometry.
func (f Frame) WithDisplay(d Display) Frame {
	f.Display = &d
	return f
}

// Width returns the native frame width.
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dx()
}

// Height returns the native frame height.
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dy()
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool { return f.Width() == 0 || f.Height() == 0 }

// Bounds returns the whole frame as a Rect.
func (f Frame) Bounds() Rect {
	return Rect{Width: f.Width(), Height: f.Height()}
}
