package live

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer. An
	// idle connection that misses its pongs is closed rather than
	// leaked.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size in bytes.
	maxMessageSize = 4096

	// Outbound buffer per connection.
	sendBufferSize = 64
)

// inboundMessage is the envelope clients send over the live channel.
type inboundMessage struct {
	Type   string `json:"type"`
	SiteID string `json:"site_id"`
	Name   string `json:"name"`
}

// Client is one live dashboard connection. The read and write pumps
// each own one side of the websocket so the connection is never
// written from two goroutines.
type Client struct {
	ID     string
	SiteID string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

// NewClient wraps an upgraded websocket connection. The caller must
// register it with the hub and start both pumps.
func NewClient(hub *Hub, conn *websocket.Conn, clientID, siteID string, logger *zap.Logger) *Client {
	return &Client{
		ID:     clientID,
		SiteID: siteID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
	}
}

// Run registers the client, sends the connection greeting and the
// current click series, and blocks in the read pump until the peer
// goes away.
func (c *Client) Run() {
	c.hub.Connect(c)
	go c.writePump()

	welcome := newEnvelope("connection")
	welcome.Message = "Connected successfully"
	c.sendEnvelope(welcome)

	initial := newEnvelope("analytics_update")
	initial.Data = c.hub.Clicks().Series(c.SiteID)
	c.sendEnvelope(initial)

	c.readPump()
}

func (c *Client) sendEnvelope(msg Envelope) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode live message", zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("live client send buffer full, dropping message",
			zap.String("client_id", c.ID),
			zap.String("type", msg.Type))
	}
}

// readPump reads inbound messages and dispatches them through the
// protocol until the connection drops, then deregisters the client and
// notifies the remaining connections.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()

		notice := newEnvelope("disconnect")
		notice.ClientID = c.ID
		notice.Message = "Client disconnected"
		c.hub.Broadcast(notice)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("live connection read error",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			return
		}
		c.handleMessage(raw)
	}
}

// handleMessage implements the inbound protocol: click analytics
// events update the live series and fan out; anything else is relayed
// to the other connections.
func (c *Client) handleMessage(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("discarding malformed live message",
			zap.String("client_id", c.ID),
			zap.Error(err))
		return
	}

	if msg.Type == "analytics_event" {
		if msg.SiteID != "" && msg.Name == "click" {
			c.hub.RecordClick(msg.SiteID)
		}
		return
	}

	relay := newEnvelope("message")
	relay.ClientID = c.ID
	relay.Message = string(raw)
	c.hub.BroadcastExcept(relay, c)
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warn("live connection write error",
					zap.String("client_id", c.ID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
