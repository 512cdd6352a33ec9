package preprocess

import (
	"image"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/MeKo-Tech/idscan/internal/frame"
)

func randomImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // test data
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	return img
}

func TestPreprocessProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("binarized pixels are black or white with alpha preserved", prop.ForAll(
		func(w, h int, seed int64, threshold float64) bool {
			img := randomImage(w, h, seed)
			alpha := make([]uint8, 0, w*h)
			for i := 3; i < len(img.Pix); i += 4 {
				alpha = append(alpha, img.Pix[i])
			}
			Binarize(img, threshold)
			for i, k := 0, 0; i < len(img.Pix); i, k = i+4, k+1 {
				v := img.Pix[i]
				if v != 0 && v != 255 {
					return false
				}
				if img.Pix[i+1] != v || img.Pix[i+2] != v || img.Pix[i+3] != alpha[k] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 40),
		gen.IntRange(1, 40),
		gen.Int64(),
		gen.Float64Range(0, 255),
	))

	properties.Property("fixed ratio rect stays inside the frame", prop.ForAll(
		func(w, h int) bool {
			r, err := FixedRatioRect(w, h, 0.85, 1.585)
			if err != nil {
				return true
			}
			return r.X >= 0 && r.Y >= 0 && r.X+r.Width <= w && r.Y+r.Height <= h
		},
		gen.IntRange(1, 4000),
		gen.IntRange(1, 4000),
	))

	properties.Property("processed output has the requested size", prop.ForAll(
		func(x, y, rw, rh int) bool {
			p := New(DefaultConfig())
			f := frame.New(randomImage(60, 40, 1))
			req := frame.Rect{X: x, Y: y, Width: rw, Height: rh}
			out, err := p.Process(f, req)
			if err != nil {
				return !req.Image().Overlaps(f.Image.Rect)
			}
			b := out.Bounds()
			return out.Rect == req && b.Dx() == rw && b.Dy() == rh
		},
		gen.IntRange(-50, 80),
		gen.IntRange(-50, 80),
		gen.IntRange(1, 100),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}
