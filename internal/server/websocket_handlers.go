package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/idscan/internal/extract"
	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

const (
	liveReadTimeout  = 60 * time.Second
	livePingInterval = 30 * time.Second
	liveWriteTimeout = 10 * time.Second
	sinkTimeout      = 5 * time.Second
)

// LiveRequest is a control message sent by the client as a text frame.
// Binary frames carry an encoded image and reuse the last geometry.
type LiveRequest struct {
	Type string `json:"type"` // frame, start, reset, retry, error
	// Image is standard base64, optionally as a data URL.
	Image   string     `json:"image,omitempty"`
	Display *frame.Box `json:"display,omitempty"`
	Guide   *frame.Box `json:"guide,omitempty"`
	Message string     `json:"message,omitempty"`
}

// LiveEvent is sent to the client for every session change.
type LiveEvent struct {
	Type      string          `json:"type"` // session, guidance, overlay, state, extracted, error
	SessionID string          `json:"session_id,omitempty"`
	Guidance  string          `json:"guidance,omitempty"`
	Ready     *bool           `json:"ready,omitempty"`
	State     *scan.State     `json:"state,omitempty"`
	Record    *extract.Record `json:"record,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// liveConn is the part of *websocket.Conn events are written to.
type liveConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// liveSession binds one connection to one scan controller.
type liveSession struct {
	id     string
	server *Server
	logger *slog.Logger
	src    *frame.LatestSource
	ctl    *scan.Controller

	writeMu sync.Mutex
	conn    liveConn

	display *frame.Display
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if s.corsOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == s.corsOrigin
		},
	}
}

// liveHandler upgrades to a WebSocket and runs a live scan session until
// the client disconnects.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	if s.components.Engines == nil {
		s.writeErrorResponse(w, "OCR engine not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	sess, err := s.newLiveSession(conn)
	if err != nil {
		s.logger.Error("Failed to create live session", "error", err)
		return
	}
	sess.logger.Info("Live session connected", "remote_addr", r.RemoteAddr)
	sess.run(conn)
	sess.logger.Info("Live session closed")
}

func (s *Server) newLiveSession(conn liveConn) (*liveSession, error) {
	sess := &liveSession{
		id:     uuid.NewString(),
		server: s,
		src:    frame.NewLatestSource(),
		conn:   conn,
	}
	sess.logger = s.logger.With("session_id", sess.id)

	comp := s.components
	comp.Logger = sess.logger
	ctl, err := scan.NewController(s.scanConfig, sess.src, comp, sess.listener())
	if err != nil {
		return nil, err
	}
	sess.ctl = ctl
	return sess, nil
}

func (ls *liveSession) listener() scan.Listener {
	return scan.ListenerFuncs{
		Guidance: func(msg string) {
			ls.send(LiveEvent{Type: "guidance", Guidance: msg})
		},
		Overlay: func(ready bool) {
			ls.send(LiveEvent{Type: "overlay", Ready: &ready})
		},
		State: func(st scan.State) {
			ls.send(LiveEvent{Type: "state", State: &st})
		},
		Extracted: func(rec extract.Record) {
			ls.send(LiveEvent{Type: "extracted", Record: &rec})
			ls.publish(rec)
		},
	}
}

// publish forwards a terminal record to the sink. Failures are logged only.
func (ls *liveSession) publish(rec extract.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := ls.server.sink.Publish(ctx, ls.id, rec); err != nil {
		sinkPublishTotal.WithLabelValues("error").Inc()
		ls.logger.Warn("Failed to publish record", "error", err)
		return
	}
	sinkPublishTotal.WithLabelValues("ok").Inc()
}

func (ls *liveSession) run(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		if err := ls.ctl.Stop(); err != nil {
			ls.logger.Debug("Controller stop", "error", err)
		}
	}()

	conn.SetReadLimit(ls.server.liveReadLimit())
	_ = conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
	})
	go keepAlive(ctx, conn)

	ls.send(LiveEvent{Type: "session", SessionID: ls.id})
	if err := ls.ctl.Start(ctx); err != nil {
		ls.sendError(fmt.Sprintf("failed to start session: %v", err))
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ls.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(liveReadTimeout))

		switch messageType {
		case websocket.BinaryMessage:
			ls.putFrame(data, nil, nil)
		case websocket.TextMessage:
			ls.handleRequest(ctx, data)
		}
	}
}

// liveReadLimit caps one WebSocket message at the upload limit plus room
// for base64 expansion and the JSON envelope.
func (s *Server) liveReadLimit() int64 {
	return s.maxUploadMB*1024*1024*4/3 + 64*1024
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(livePingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (ls *liveSession) handleRequest(ctx context.Context, data []byte) {
	var req LiveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ls.sendError(fmt.Sprintf("invalid request: %v", err))
		return
	}
	switch req.Type {
	case "frame":
		img, err := decodeDataURL(req.Image)
		if err != nil {
			ls.sendError(err.Error())
			return
		}
		ls.putFrame(img, req.Display, req.Guide)
	case "start":
		if err := ls.ctl.Start(ctx); err != nil {
			ls.sendError(fmt.Sprintf("failed to start session: %v", err))
		}
	case "reset":
		ls.ctl.Reset()
	case "retry":
		ls.src.Recover()
		if err := ls.ctl.Retry(ctx); err != nil {
			ls.sendError(fmt.Sprintf("failed to restart session: %v", err))
		}
	case "error":
		msg := req.Message
		if msg == "" {
			msg = "camera error"
		}
		ls.src.Fail(errors.New(msg))
	default:
		ls.sendError("unsupported request type: " + req.Type)
	}
}

// putFrame decodes an image and offers it to the controller. Geometry is
// remembered for later binary frames.
func (ls *liveSession) putFrame(data []byte, video, guide *frame.Box) {
	if video != nil && guide != nil {
		ls.display = &frame.Display{Video: *video, Guide: *guide}
	}
	f, err := frame.DecodeFrame(data)
	if err != nil {
		ls.sendError(fmt.Sprintf("invalid frame: %v", err))
		return
	}
	if ls.display != nil {
		f = f.WithDisplay(*ls.display)
	}
	ls.src.Put(f)
}

func decodeDataURL(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("frame has no image")
	}
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, errors.New("malformed data URL")
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	return data, nil
}

func (ls *liveSession) sendError(msg string) {
	ls.send(LiveEvent{Type: "error", Error: msg})
}

// send writes one event. Listener callbacks and the read loop both send,
// so writes are serialized.
func (ls *liveSession) send(ev LiveEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		ls.logger.Error("Failed to marshal live event", "error", err)
		return
	}
	ls.writeMu.Lock()
	defer ls.writeMu.Unlock()
	_ = ls.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	if err := ls.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ls.logger.Debug("Failed to send live event", "type", ev.Type, "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}
