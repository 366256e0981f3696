package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/reading"
)

// Control message types sent by the client as text frames.
const (
	msgStart = "start"
	msgStop  = "stop"
)

// controlMessage is a text frame from the client. ExpectedWords is decoded
// loosely so stray non-string entries are skipped rather than rejected.
type controlMessage struct {
	Type          string `json:"type"`
	ExpectedWords []any  `json:"expectedWords"`
	SessionID     string `json:"sessionId"`
	Language      string `json:"language"`
}

// wsEmitter writes session events as JSON text frames.
type wsEmitter struct {
	conn *websocket.Conn
}

var _ reading.Emitter = (*wsEmitter)(nil)

func (e *wsEmitter) Emit(ctx context.Context, event any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, e.conn, event)
}

// handleRecognize handles GET /ws/recognize. Each connection owns one
// reading session. The read loop and the session run in one errgroup; when
// either ends the other is cancelled and the recognizer is released.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.originPatterns,
		InsecureSkipVerify: s.anyOrigin,
	})
	if err != nil {
		s.log.Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	connID := uuid.NewString()
	log := observe.With(r.Context(), s.log).With("conn_id", connID)
	ctx := r.Context()

	s.metrics.ActiveConnections.Add(ctx, 1)
	defer s.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	sess, err := reading.New(reading.Config{
		Provider:            s.cfg.STT,
		ProviderName:        s.cfg.STTName,
		Matcher:             s.cfg.Matcher,
		Emitter:             &wsEmitter{conn: conn},
		Language:            s.cfg.Reading.Language,
		SegmentationSilence: s.cfg.Reading.SegmentationSilence,
		InitialSilence:      s.cfg.Reading.InitialSilence,
		InboxSize:           s.cfg.Reading.InboxSize,
		Results:             s.cfg.Results,
		ConnectionID:        connID,
		Logger:              log,
		Metrics:             s.metrics,
	})
	if err != nil {
		log.Error("failed to create reading session", "err", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}

	log.Info("websocket connection accepted", "remote", r.RemoteAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return s.readLoop(gctx, conn, sess, log) })
	err = g.Wait()

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("websocket connection closed", "status", status)
	case errors.Is(err, context.Canceled):
		log.Info("websocket connection cancelled")
	default:
		log.Warn("websocket connection ended", "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop dispatches client frames until the connection fails. It always
// returns a non-nil error so the errgroup tears the session down.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *reading.Session, log *slog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("server: read: %w", err)
		}

		switch typ {
		case websocket.MessageBinary:
			if !sess.PushAudio(data) {
				log.Debug("audio chunk dropped", "bytes", len(data))
			}
		case websocket.MessageText:
			if err := s.handleControl(ctx, sess, data, log); err != nil {
				return err
			}
		}
	}
}

// handleControl applies one text frame. Malformed JSON and unknown types
// are logged and ignored.
func (s *Server) handleControl(ctx context.Context, sess *reading.Session, data []byte, log *slog.Logger) error {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug("ignoring malformed control message", "err", err)
		return nil
	}

	switch msg.Type {
	case msgStart:
		words := reading.StringWords(msg.ExpectedWords)
		log.Info("start received", "words", len(words), "session_id", msg.SessionID)
		return sess.Start(ctx, reading.StartRequest{
			Words:     words,
			SessionID: msg.SessionID,
			Language:  msg.Language,
		})
	case msgStop:
		log.Info("stop received")
		return sess.Stop(ctx)
	default:
		log.Debug("ignoring unknown control message", "type", msg.Type)
		return nil
	}
}
