package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/ocr"
	"github.com/MeKo-Tech/idscan/internal/preprocess"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

const (
	formatJSON = "json"
	formatText = "text"
)

// uploadError carries the HTTP status for a rejected upload.
type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

// scanRequest is a parsed upload.
type scanRequest struct {
	kind     string
	frame    frame.Frame
	strategy preprocess.Strategy
	format   string
}

// scanImageHandler runs the one-shot pipeline on an uploaded photo or PDF.
func (s *Server) scanImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.scanner == nil {
		s.writeErrorResponse(w, "OCR engine not available", http.StatusServiceUnavailable)
		return
	}

	req, err := s.parseScanRequest(w, r)
	if err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			s.writeErrorResponse(w, ue.message, ue.status)
			return
		}
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	start := time.Now()
	out, err := s.scanner.Scan(ctx, req.frame, req.strategy)
	if err != nil {
		uploadScansTotal.WithLabelValues(req.kind, "error").Inc()
		status := scanErrorStatus(err)
		s.logger.Warn("Upload scan failed", "kind", req.kind, "status", status, "error", err)
		s.writeErrorResponse(w, fmt.Sprintf("Scan failed: %v", err), status)
		return
	}
	result := "partial"
	if out.Terminal() {
		result = "matched"
	}
	uploadScansTotal.WithLabelValues(req.kind, result).Inc()

	if req.format == formatText {
		s.writeTextResponse(w, out)
		return
	}
	rect := out.Rect
	rec := out.Record
	s.writeJSON(w, http.StatusOK, ScanResponse{
		Success:    true,
		Record:     &rec,
		Terminal:   out.Terminal(),
		Missing:    rec.Missing(),
		Present:    out.Present,
		Rect:       &rect,
		Confidence: out.Recognition.Confidence,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// scanErrorStatus maps pipeline errors to HTTP status codes.
func scanErrorStatus(err error) int {
	var recErr *ocr.RecognitionError
	switch {
	case errors.Is(err, preprocess.ErrInvalidGeometry):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ocr.ErrNoBackend), errors.Is(err, scan.ErrNoEngine):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &recErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// parseScanRequest reads the multipart upload. The file comes from the
// "image" field or, failing that, the "pdf" field.
func (s *Server) parseScanRequest(w http.ResponseWriter, r *http.Request) (*scanRequest, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, &uploadError{http.StatusRequestEntityTooLarge, "File too large"}
		}
		return nil, &uploadError{http.StatusBadRequest, "Failed to parse form data"}
	}

	strategy, err := preprocess.ParseStrategy(r.FormValue("strategy"))
	if err != nil {
		return nil, &uploadError{http.StatusBadRequest, err.Error()}
	}
	// Uploads carry no guide geometry.
	if strategy == preprocess.StrategyAuto {
		strategy = preprocess.StrategyFull
	}
	if strategy == preprocess.StrategyGuide {
		return nil, &uploadError{http.StatusBadRequest, "guide strategy needs live display geometry"}
	}

	format := strings.ToLower(r.FormValue("format"))
	if format == "" {
		format = r.URL.Query().Get("format")
	}
	if format == "" {
		format = formatJSON
	}
	if format != formatJSON && format != formatText {
		return nil, &uploadError{http.StatusBadRequest, "Unsupported format: " + format}
	}

	req := &scanRequest{strategy: strategy, format: format}
	if file, header, err := r.FormFile("image"); err == nil {
		defer func() { _ = file.Close() }()
		req.kind = "image"
		req.frame, err = readImageUpload(file, header, limit)
		if err != nil {
			return nil, err
		}
		return req, nil
	}
	if file, header, err := r.FormFile("pdf"); err == nil {
		defer func() { _ = file.Close() }()
		req.kind = "pdf"
		req.frame, err = readPDFUpload(file, header, limit)
		if err != nil {
			return nil, err
		}
		return req, nil
	}
	return nil, &uploadError{http.StatusBadRequest, "No image or pdf file provided"}
}

func readImageUpload(file multipart.File, header *multipart.FileHeader, limit int64) (frame.Frame, error) {
	if header.Size > limit {
		return frame.Frame{}, &uploadError{http.StatusRequestEntityTooLarge, "File too large"}
	}
	uploadSizeBytes.Observe(float64(header.Size))
	data, err := io.ReadAll(file)
	if err != nil {
		return frame.Frame{}, &uploadError{http.StatusBadRequest, "Failed to read image data"}
	}
	f, err := frame.DecodeFrame(data)
	if err != nil {
		return frame.Frame{}, &uploadError{http.StatusBadRequest, "Invalid image format"}
	}
	return f, nil
}

// readPDFUpload spools the PDF to disk, since extraction works on files.
func readPDFUpload(file multipart.File, header *multipart.FileHeader, limit int64) (frame.Frame, error) {
	if header.Size > limit {
		return frame.Frame{}, &uploadError{http.StatusRequestEntityTooLarge, "File too large"}
	}
	uploadSizeBytes.Observe(float64(header.Size))

	tmp, err := os.CreateTemp("", "idscan-upload-*.pdf")
	if err != nil {
		return frame.Frame{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	_, copyErr := io.Copy(tmp, file)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		return frame.Frame{}, &uploadError{http.StatusBadRequest, "Failed to read PDF data"}
	}

	img, err := frame.FirstPDFImage(tmp.Name())
	if err != nil {
		if errors.Is(err, frame.ErrNoPDFImage) {
			return frame.Frame{}, &uploadError{http.StatusUnprocessableEntity, "PDF contains no card image"}
		}
		return frame.Frame{}, &uploadError{http.StatusBadRequest, "Invalid PDF"}
	}
	return frame.New(img), nil
}

// writeTextResponse writes one "field: value" line per record field.
func (s *Server) writeTextResponse(w http.ResponseWriter, out *scan.Outcome) {
	var b strings.Builder
	for _, f := range out.Record.Fields() {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}
	fmt.Fprintf(&b, "terminal: %t\n", out.Terminal())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(b.String())); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}
