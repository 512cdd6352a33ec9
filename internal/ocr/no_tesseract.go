//go:build !tesseract

package ocr

const tesseractAvailable = false

func newTesseractEngine(_ Config) (Engine, error) { return nil, ErrNoBackend }
