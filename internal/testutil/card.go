package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Sample OCR outputs used across packages.
const (
	EmiratesCardText = `UNITED ARAB EMIRATES
ID Number: 784-1990-1234567-1
Name: Mohammed Al Rashid
Date of Birth: 15/06/1990
Nationality: United Arab Emirates
Sex: M`

	GroupedCardText = `GOVERNMENT ID
1234 5678 9012
Name: Priya Sharma
DOB: 21/11/1988
Gender: Female`

	PartialCardText = `ID Number: 784-1990-1234567-1
Name: Mohammed Al Rashid`
)

// CardConfig describes a synthetic camera frame holding a card.
type CardConfig struct {
	Width      int
	Height     int
	Background color.Gray
	CardColor  color.Gray
	// CardFraction is the card width relative to the frame width.
	CardFraction float64
	Lines        []string
}

// DefaultCardConfig returns a 640x480 mid-gray frame with a light card
// filling the default fixed-ratio crop.
func DefaultCardConfig() CardConfig {
	return CardConfig{
		Width:        640,
		Height:       480,
		Background:   color.Gray{Y: 128},
		CardColor:    color.Gray{Y: 235},
		CardFraction: 0.85,
		Lines:        strings.Split(EmiratesCardText, "\n"),
	}
}

// CardRect returns where GenerateCardFrame draws the card.
func (c CardConfig) CardRect() image.Rectangle {
	cw := int(float64(c.Width) * c.CardFraction)
	ch := int(float64(cw) / 1.585)
	x := (c.Width - cw) / 2
	y := (c.Height - ch) / 2
	return image.Rect(x, y, x+cw, y+ch)
}

// GenerateCardFrame draws a card with text lines on a flat background.
func GenerateCardFrame(cfg CardConfig) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	card := cfg.CardRect()
	draw.Draw(img, card, &image.Uniform{cfg.CardColor}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Src: image.Black, Face: face}
	lineHeight := face.Metrics().Height.Ceil() + 4
	for i, line := range cfg.Lines {
		y := card.Min.Y + 20 + (i+1)*lineHeight
		if y > card.Max.Y-4 {
			break
		}
		drawer.Dot = fixed.P(card.Min.X+16, y)
		drawer.DrawString(line)
	}
	return img
}

// PlainFrame returns a frame of a single gray level.
func PlainFrame(w, h int, level uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.Gray{Y: level}}, image.Point{}, draw.Src)
	return img
}

// EncodePNG encodes img for upload tests.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "Failed to encode PNG image")
	return buf.Bytes()
}

// SaveImage saves an image as PNG, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600), "Failed to write %s", path)
}

// WriteFrameSequence writes frames as 000.png, 001.png, ... into dir so a
// directory source replays them in order.
func WriteFrameSequence(t *testing.T, dir string, frames ...image.Image) []string {
	t.Helper()
	paths := make([]string, 0, len(frames))
	for i, f := range frames {
		p := filepath.Join(dir, fmt.Sprintf("%03d.png", i))
		SaveImage(t, f, p)
		paths = append(paths, p)
	}
	return paths
}
