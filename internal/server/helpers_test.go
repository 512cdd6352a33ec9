package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/extract"
	"github.com/MeKo-Tech/idscan/internal/ocr"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/testutil"
)

func staticComponents(t *testing.T, text string) scan.Components {
	t.Helper()
	engines, err := ocr.NewFactory(ocr.Config{Backend: ocr.BackendStatic, StaticText: text})
	require.NoError(t, err)
	return scan.Components{Engines: engines}
}

func testConfig() Config {
	cfg := Config{MaxUploadMB: 2, TimeoutSec: 5, CORSOrigin: "*", Scan: scan.DefaultConfig()}
	cfg.Scan.Cadence = 20 * time.Millisecond
	return cfg
}

func newTestServer(t *testing.T, text string) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), staticComponents(t, text), nil)
	require.NoError(t, err)
	return s
}

// recordingSink captures published records.
type recordingSink struct {
	mu       sync.Mutex
	sessions []string
	records  []extract.Record
	err      error
}

func (r *recordingSink) Publish(_ context.Context, sessionID string, rec extract.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sessionID)
	r.records = append(r.records, rec)
	return r.err
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) published() []extract.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]extract.Record(nil), r.records...)
}

func cardPNG(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.GenerateCardFrame(testutil.DefaultCardConfig()))
}

// multipartRequest builds a POST with one file part plus form fields.
func multipartRequest(t *testing.T, url, field, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
