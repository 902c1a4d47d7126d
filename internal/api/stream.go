package api

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/pifan/internal/logger"
	"codeberg.org/mutker/pifan/internal/telemetry"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const streamWriteTimeout = 5 * time.Second

// handleStream pushes every published document to a websocket client.
// Clients never send; reads only serve to notice the close.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")

	ctx := conn.CloseRead(r.Context())

	docs, unsubscribe := s.backend.Subscribe()
	defer unsubscribe()

	logger.Debug().Str("remote", r.RemoteAddr).Msg("Stream client connected")

	if err := writeDocument(ctx, conn, s.backend.Document()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case doc, ok := <-docs:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutdown")
				return
			}
			if err := writeDocument(ctx, conn, doc); err != nil {
				logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Stream client dropped")
				return
			}
		}
	}
}

func writeDocument(ctx context.Context, conn *websocket.Conn, doc *telemetry.Document) error {
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()

	return wsjson.Write(wctx, conn, doc)
}
