package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsPipelinePath is the observer endpoint prefix; the session id follows.
const wsPipelinePath = "/ws/pipeline/"

// wsSubprotocolPrefix carries the API key during the WebSocket handshake,
// where custom headers are unavailable to browser clients.
const wsSubprotocolPrefix = "api-key-"

const wsWriteTimeout = 10 * time.Second

// handlePipelineWS streams pipeline events for one session. The replay
// ring is delivered first, in original order and with original sequence
// numbers, then live events as they arrive. It runs outside the gin
// engine so the upgrade can hijack the raw connection.
func (s *Server) handlePipelineWS(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimPrefix(r.URL.Path, wsPipelinePath)
	if sid == "" || strings.Contains(sid, "/") {
		http.NotFound(w, r)
		return
	}

	proto, rawKey := wsCredentials(r)
	if rawKey == "" {
		http.Error(w, "missing api-key subprotocol", http.StatusUnauthorized)
		return
	}
	if s.verifier == nil {
		http.Error(w, "authentication unavailable", http.StatusUnauthorized)
		return
	}
	if _, err := s.verifier.Verify(r.Context(), rawKey); err != nil {
		http.Error(w, "invalid API key", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{proto},
		OriginPatterns:     s.cfg.AllowedWSOrigins,
		InsecureSkipVerify: len(s.cfg.AllowedWSOrigins) == 0,
	})
	if err != nil {
		s.logger().Warn("websocket upgrade failed", "session_id", sid, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
		defer s.metrics.WSConnections.Dec()
	}

	replay, live, unsubscribe := s.events.Subscribe(sid)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wr := &wsWriter{conn: conn}
	for _, ev := range replay {
		if err := wr.write(ctx, ev); err != nil {
			return
		}
	}

	// Reader loop: answers pings, and its exit (client went away) cancels
	// the writer.
	go func() {
		defer cancel()
		for {
			var frame struct {
				Type string `json:"type"`
			}
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				return
			}
			if frame.Type == "ping" {
				if err := wr.write(ctx, map[string]string{"type": "pong"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if err := wr.write(ctx, ev); err != nil {
				return
			}
		}
	}
}

// wsWriter serializes frame writes between the event loop and the pong
// responder.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(ctx context.Context, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.conn, v)
}

// wsCredentials extracts the api-key subprotocol from the handshake.
func wsCredentials(r *http.Request) (proto, key string) {
	for _, field := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, candidate := range strings.Split(field, ",") {
			candidate = strings.TrimSpace(candidate)
			if strings.HasPrefix(candidate, wsSubprotocolPrefix) {
				return candidate, strings.TrimPrefix(candidate, wsSubprotocolPrefix)
			}
		}
	}
	return "", ""
}
