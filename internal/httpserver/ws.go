package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulsetrack/pulsetrack/internal/live"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The tracker runs on arbitrary client sites.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades a live dashboard connection. Anonymous
// connections get a generated client id.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	siteID := q.Get("site_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("client_id", clientID),
			zap.Error(err))
		return
	}

	if s.metrics != nil {
		s.metrics.RecordLiveConnect()
		defer s.metrics.RecordLiveDisconnect()
	}

	client := live.NewClient(s.hub, conn, clientID, siteID, s.logger)
	client.Run()
}
