package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/idscan/internal/config"
	"github.com/MeKo-Tech/idscan/internal/extract"
	"github.com/MeKo-Tech/idscan/internal/ocr"
	"github.com/MeKo-Tech/idscan/internal/preprocess"
	"github.com/MeKo-Tech/idscan/internal/presence"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

// buildComponents wires the scan stages from configuration. A non-empty
// staticText replaces the configured OCR backend with the static engine.
func buildComponents(cfg *config.Config, staticText string, keepRaw bool) (scan.Components, error) {
	ocrCfg := cfg.ToOCRConfig()
	if staticText != "" {
		ocrCfg.Backend = ocr.BackendStatic
		ocrCfg.StaticText = staticText
	}

	comp := scan.Components{
		Detector:     presence.New(cfg.Presence),
		Preprocessor: preprocess.New(cfg.Preprocess),
		Extractor:    extract.New(extract.WithRawText(keepRaw)),
		Logger:       slog.Default(),
	}

	engines, err := ocr.NewFactory(ocrCfg)
	if err != nil {
		if errors.Is(err, ocr.ErrNoBackend) {
			return comp, fmt.Errorf("%w: rebuild with -tags tesseract or pass --text", err)
		}
		return comp, err
	}
	comp.Engines = engines
	return comp, nil
}
