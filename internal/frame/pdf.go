package frame

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrNoPDFImage is returned when a PDF contains no decodable embedded image.
var ErrNoPDFImage = errors.New("pdf contains no images")

// FirstPDFImage extracts the embedded images of a PDF and returns the first
// one by page order. Scanned ID documents usually carry the card photo as a
// single full-page image.
func FirstPDFImage(path string) (image.Image, error) {
	tempDir, err := os.MkdirTemp("", "idscan-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	if err := api.ExtractImagesFile(path, tempDir, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	files, err := extractedImages(tempDir)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		img, _, err := LoadImage(f.path)
		if err != nil {
			continue
		}
		return img, nil
	}
	return nil, ErrNoPDFImage
}

type extractedFile struct {
	path string
	page int
}

// extractedImages lists the files pdfcpu wrote, ordered by page then name.
func extractedImages(dir string) ([]extractedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted images: %w", err)
	}
	var files []extractedFile
	for _, e := range entries {
		if e.IsDir() || !IsSupportedImage(e.Name()) {
			continue
		}
		files = append(files, extractedFile{
			path: filepath.Join(dir, e.Name()),
			page: pageFromFilename(e.Name()),
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].page != files[j].page {
			return files[i].page < files[j].page
		}
		return files[i].path < files[j].path
	})
	return files, nil
}

// pageFromFilename returns the first numeric "_"-separated token after the
// leading one, e.g. page_3_image_1.png or scan_3_12.jpg yield 3. Unparseable
// names sort last.
func pageFromFilename(name string) int {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(stem, "_")
	for _, p := range parts[1:] {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return int(^uint(0) >> 1)
}
