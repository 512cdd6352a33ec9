package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/extract"
	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/testutil"
)

// wireEvent mirrors LiveEvent with the state as plain text.
type wireEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Guidance  string          `json:"guidance"`
	Ready     *bool           `json:"ready"`
	State     string          `json:"state"`
	Record    *extract.Record `json:"record"`
	Error     string          `json:"error"`
}

func startLiveServer(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/scan/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads events until match returns true and returns everything read.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wireEvent) bool) []wireEvent {
	t.Helper()
	var seen []wireEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "events so far: %+v", seen)
		var ev wireEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		seen = append(seen, ev)
		if match(ev) {
			return seen
		}
	}
}

func isType(typ string) func(wireEvent) bool {
	return func(ev wireEvent) bool { return ev.Type == typ }
}

func isState(st scan.State) func(wireEvent) bool {
	return func(ev wireEvent) bool { return ev.Type == "state" && ev.State == st.String() }
}

func TestLive_BinaryFrameMatches(t *testing.T) {
	snk := &recordingSink{}
	s, err := NewServer(testConfig(), staticComponents(t, testutil.GroupedCardText), snk)
	require.NoError(t, err)
	conn := startLiveServer(t, s)

	first := readUntil(t, conn, isType("session"))
	sessionID := first[len(first)-1].SessionID
	require.NotEmpty(t, sessionID)
	readUntil(t, conn, isState(scan.StateAwaitingAlignment))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, cardPNG(t)))
	events := readUntil(t, conn, isType("extracted"))
	rec := events[len(events)-1].Record
	require.NotNil(t, rec)
	assert.Equal(t, "1234 5678 9012", rec.IDNumber)
	assert.Equal(t, "21/11/1988", rec.DateOfBirth)

	require.Eventually(t, func() bool { return len(snk.published()) == 1 }, 2*time.Second, 10*time.Millisecond)
	snk.mu.Lock()
	assert.Equal(t, sessionID, snk.sessions[0])
	snk.mu.Unlock()
}

func TestLive_JSONFrameWithGeometry(t *testing.T) {
	s := newTestServer(t, testutil.EmiratesCardText)
	conn := startLiveServer(t, s)
	readUntil(t, conn, isState(scan.StateAwaitingAlignment))

	cfg := testutil.DefaultCardConfig()
	card := cfg.CardRect()
	req := LiveRequest{
		Type:    "frame",
		Image:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(cardPNG(t)),
		Display: &frame.Box{Width: float64(cfg.Width), Height: float64(cfg.Height)},
		Guide: &frame.Box{
			Left:   float64(card.Min.X),
			Top:    float64(card.Min.Y),
			Width:  float64(card.Dx()),
			Height: float64(card.Dy()),
		},
	}
	require.NoError(t, conn.WriteJSON(req))

	events := readUntil(t, conn, isType("extracted"))
	assert.Equal(t, "784-1990-1234567-1", events[len(events)-1].Record.IDNumber)
}

func TestLive_HostErrorAndRetry(t *testing.T) {
	s := newTestServer(t, testutil.GroupedCardText)
	conn := startLiveServer(t, s)
	readUntil(t, conn, isState(scan.StateAwaitingAlignment))

	require.NoError(t, conn.WriteJSON(LiveRequest{Type: "error", Message: "permission denied"}))
	events := readUntil(t, conn, isState(scan.StateFailed))

	var overlayOff bool
	for _, ev := range events {
		if ev.Type == "overlay" && ev.Ready != nil && !*ev.Ready {
			overlayOff = true
		}
	}
	assert.True(t, overlayOff, "overlay is hidden when the camera fails")

	require.NoError(t, conn.WriteJSON(LiveRequest{Type: "retry"}))
	readUntil(t, conn, isState(scan.StateAwaitingAlignment))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, cardPNG(t)))
	readUntil(t, conn, isState(scan.StateMatched))
}

func TestLive_InvalidRequests(t *testing.T) {
	s := newTestServer(t, "")
	conn := startLiveServer(t, s)
	readUntil(t, conn, isType("session"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev := readUntil(t, conn, isType("error"))
	assert.Contains(t, ev[len(ev)-1].Error, "invalid request")

	require.NoError(t, conn.WriteJSON(LiveRequest{Type: "teleport"}))
	ev = readUntil(t, conn, isType("error"))
	assert.Contains(t, ev[len(ev)-1].Error, "unsupported request type")

	require.NoError(t, conn.WriteJSON(LiveRequest{Type: "frame", Image: "!!!"}))
	ev = readUntil(t, conn, isType("error"))
	assert.Contains(t, ev[len(ev)-1].Error, "invalid base64")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("not an image")))
	ev = readUntil(t, conn, isType("error"))
	assert.Contains(t, ev[len(ev)-1].Error, "invalid frame")
}

func TestLive_OversizedFrameClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadMB = 1
	s, err := NewServer(cfg, staticComponents(t, testutil.GroupedCardText), nil)
	require.NoError(t, err)
	assert.Less(t, s.liveReadLimit(), int64(2<<20))

	conn := startLiveServer(t, s)
	readUntil(t, conn, isState(scan.StateAwaitingAlignment))

	_ = conn.WriteMessage(websocket.BinaryMessage, make([]byte, 2<<20))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				assert.Equal(t, websocket.CloseMessageTooBig, ce.Code)
			}
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) {
				assert.False(t, netErr.Timeout(), "connection stays open after an oversized frame")
			}
			return
		}
		var ev wireEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.NotContains(t, ev.Error, "invalid frame", "oversized frames are never decoded")
	}
}

func TestLive_NoEngine(t *testing.T) {
	s, err := NewServer(testConfig(), scan.Components{}, nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scan/live", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDecodeDataURL(t *testing.T) {
	raw := []byte{1, 2, 3}
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := decodeDataURL(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = decodeDataURL("data:image/jpeg;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = decodeDataURL("")
	assert.Error(t, err)
	_, err = decodeDataURL("data:image/png;base64")
	assert.Error(t, err)
}
