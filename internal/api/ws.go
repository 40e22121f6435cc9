package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskwire/jobstream/internal/registry"
	"github.com/taskwire/jobstream/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Same-origin policy is delegated to the deployment's proxy.
		return true
	},
}

const wsWriteTimeout = 10 * time.Second

// streamWebSocket handles GET /v1/jobs/{job_id}/ws, serving the same progress
// sequence as the SSE route, one JSON message per event plus a closing
// {"event":"end"} message.
func (s *Server) streamWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := s.dispatcher.Attach(jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("attach failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to attach")
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close() //nolint:errcheck

	// The read pump only detects client disconnects; the stream is
	// unidirectional.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, stream.ErrEnded) {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.SetWriteDeadline(deadline)
				_ = conn.WriteJSON(map[string]string{"event": "end"})
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					deadline,
				)
			}
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(toEventDTO(evt)); err != nil {
			s.logger.Debug("websocket write failed, dropping subscriber",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
			return
		}
	}
}
