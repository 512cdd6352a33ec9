package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/ocr"
	"github.com/MeKo-Tech/idscan/internal/preprocess"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/testutil"
)

func TestServer_ScanImageHandler_Success(t *testing.T) {
	s := newTestServer(t, testutil.GroupedCardText)
	req := multipartRequest(t, "/scan/image", "image", "card.png", cardPNG(t), map[string]string{"strategy": "fixed"})
	w := httptest.NewRecorder()
	s.scanImageHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp ScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Terminal)
	require.NotNil(t, resp.Record)
	assert.Equal(t, "1234 5678 9012", resp.Record.IDNumber)
	assert.Equal(t, "21/11/1988", resp.Record.DateOfBirth)
	assert.NotContains(t, resp.Missing, "id_number")
	require.NotNil(t, resp.Rect)
	assert.Equal(t, 544, resp.Rect.Width)
}

func TestServer_ScanImageHandler_Partial(t *testing.T) {
	s := newTestServer(t, testutil.PartialCardText)
	req := multipartRequest(t, "/scan/image", "image", "card.png", cardPNG(t), nil)
	w := httptest.NewRecorder()
	s.scanImageHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.False(t, resp.Terminal)
	assert.Contains(t, resp.Missing, "date_of_birth")
	assert.Equal(t, 640, resp.Rect.Width, "uploads default to the full frame")
}

func TestServer_ScanImageHandler_TextFormat(t *testing.T) {
	s := newTestServer(t, testutil.EmiratesCardText)
	req := multipartRequest(t, "/scan/image", "image", "card.png", cardPNG(t), map[string]string{"format": "text"})
	w := httptest.NewRecorder()
	s.scanImageHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "id_number: 784-")
	assert.Contains(t, w.Body.String(), "terminal: true")
}

func TestServer_ScanImageHandler_Errors(t *testing.T) {
	tiny := testutil.EncodePNG(t, testutil.PlainFrame(1, 1, 200))
	big := bytes.Repeat([]byte{0xff}, 3*1024*1024)

	tests := []struct {
		name   string
		field  string
		data   []byte
		fields map[string]string
		status int
	}{
		{"no file", "", nil, nil, http.StatusBadRequest},
		{"wrong field", "photo", cardPNG(t), nil, http.StatusBadRequest},
		{"not an image", "image", []byte("hello"), nil, http.StatusBadRequest},
		{"bad strategy", "image", cardPNG(t), map[string]string{"strategy": "diagonal"}, http.StatusBadRequest},
		{"guide strategy", "image", cardPNG(t), map[string]string{"strategy": "guide"}, http.StatusBadRequest},
		{"bad format", "image", cardPNG(t), map[string]string{"format": "csv"}, http.StatusBadRequest},
		{"degenerate crop", "image", tiny, map[string]string{"strategy": "fixed"}, http.StatusUnprocessableEntity},
		{"too large", "image", big, nil, http.StatusRequestEntityTooLarge},
		{"invalid pdf", "pdf", []byte("%PDF-broken"), nil, http.StatusBadRequest},
	}
	s := newTestServer(t, testutil.GroupedCardText)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartRequest(t, "/scan/image", tt.field, "upload.bin", tt.data, tt.fields)
			w := httptest.NewRecorder()
			s.scanImageHandler(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var resp ScanResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestServer_ScanImageHandler_MethodAndEngine(t *testing.T) {
	s := newTestServer(t, "")
	w := httptest.NewRecorder()
	s.scanImageHandler(w, httptest.NewRequest(http.MethodGet, "/scan/image", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	noEngine, err := NewServer(testConfig(), scan.Components{}, nil)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	noEngine.scanImageHandler(w, multipartRequest(t, "/scan/image", "image", "card.png", cardPNG(t), nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestScanErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&preprocess.GeometryError{Op: "crop", Reason: "empty"}, http.StatusUnprocessableEntity},
		{ocr.ErrNoBackend, http.StatusServiceUnavailable},
		{&ocr.RecognitionError{Backend: "static", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&ocr.RecognitionError{Backend: "static", Err: errors.New("bad page")}, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, scanErrorStatus(tt.err), tt.err.Error())
	}
}
