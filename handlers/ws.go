package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chorus/presence-engine/middleware"
	"chorus/presence-engine/models"
	"chorus/presence-engine/services"
	"chorus/presence-engine/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Client-to-server event names.
const (
	eventHeartbeat    = "heartbeat"
	eventStatusChange = "status-change"
)

// clientMessage is one client-to-server event frame.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// client is one live websocket connection; it doubles as the registry's
// connection handle.
type client struct {
	id       string
	userID   string
	tenantID string
	conn     *websocket.Conn
	send     chan services.Event
	done     chan struct{}
}

func (c *client) ID() string { return c.id }

// Send queues an event for delivery. A full buffer means the reader is dead
// or hopelessly behind; the event is dropped rather than blocking the
// broadcast.
func (c *client) Send(event services.Event) bool {
	select {
	case <-c.done:
		return false
	case c.send <- event:
		return true
	default:
		return false
	}
}

// WSGateway owns the persistent bidirectional channel: handshake
// authentication, the connect/disconnect lifecycle, and dispatch of inbound
// presence events.
type WSGateway struct {
	upgrader    websocket.Upgrader
	verifier    *services.TokenVerifier
	presence    *services.PresenceService
	registry    *services.ConnectionRegistry
	broadcaster services.Broadcaster
	logger      *utils.Logger
}

func NewWSGateway(verifier *services.TokenVerifier, presence *services.PresenceService, registry *services.ConnectionRegistry, broadcaster services.Broadcaster, logger *utils.Logger) *WSGateway {
	return &WSGateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		verifier:    verifier,
		presence:    presence,
		registry:    registry,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Handle upgrades GET /ws/presence. A failed credential closes the socket
// with no registry or state-machine side effects; the client sees only the
// close.
func (g *WSGateway) Handle(c *gin.Context) {
	tokenString := middleware.ExtractToken(c.Request)

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	identity, err := g.verifier.Verify(tokenString)
	if tokenString == "" || err != nil {
		g.logger.Warn("Connection rejected: authentication failed", "remote_addr", c.Request.RemoteAddr)
		conn.Close()
		return
	}

	cl := &client{
		id:       uuid.NewString(),
		userID:   identity.UserID,
		tenantID: identity.TenantID,
		conn:     conn,
		send:     make(chan services.Event, sendBuffer),
		done:     make(chan struct{}),
	}

	g.registry.Register(cl, cl.userID, cl.tenantID)

	// The connection outlives the handshake request, so lifecycle operations
	// do not use the request context.
	snapshot, err := g.presence.Connect(context.Background(), cl.userID)
	if err != nil {
		g.logger.Error("Connect transition failed", "user_id", cl.userID, "error", err)
		g.registry.Unregister(cl)
		conn.Close()
		return
	}

	go g.writePump(cl)

	cl.Send(services.Event{Event: services.EventPresenceInit, Data: snapshot})
	cl.Send(services.Event{Event: services.EventPresenceBulk, Data: models.BulkPresenceResponse{
		Presences: g.broadcaster.BulkSnapshots(context.Background(), cl.tenantID),
	}})
	g.broadcaster.BroadcastChange(context.Background(), cl.userID, cl.tenantID)

	g.logger.Info("User connected to presence", "user_id", cl.userID, "connection_id", cl.id)

	g.readPump(cl)
}

func (g *WSGateway) readPump(cl *client) {
	defer g.disconnect(cl)

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("WebSocket read failed", "connection_id", cl.id, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.logger.Debug("Ignoring malformed frame", "connection_id", cl.id, "error", err)
			continue
		}

		if err := g.dispatch(cl, msg); err != nil {
			g.logger.Error("Event handling failed", "connection_id", cl.id, "event", msg.Event, "error", err)
			return
		}
	}
}

// dispatch handles one inbound event. A returned error means the user's
// record is gone or the store failed, which tears the connection down.
func (g *WSGateway) dispatch(cl *client, msg clientMessage) error {
	ctx := context.Background()

	switch msg.Event {
	case eventHeartbeat:
		if _, err := g.presence.Heartbeat(ctx, cl.userID); err != nil {
			return err
		}
		g.broadcaster.BroadcastChange(ctx, cl.userID, cl.tenantID)

	case eventStatusChange:
		var req models.UpdateStatusRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || !req.Status.Valid() {
			g.logger.Warn("Rejected status change", "user_id", cl.userID, "status", req.Status)
			return nil
		}
		if req.CustomStatus != nil && len(*req.CustomStatus) > models.MaxCustomStatusLength {
			g.logger.Warn("Rejected status change: custom status too long", "user_id", cl.userID)
			return nil
		}
		if _, err := g.presence.UpdateStatus(ctx, cl.userID, req.Status, req.CustomStatus); err != nil {
			return err
		}
		g.broadcaster.BroadcastChange(ctx, cl.userID, cl.tenantID)

	default:
		g.logger.Debug("Ignoring unknown event", "connection_id", cl.id, "event", msg.Event)
	}

	return nil
}

func (g *WSGateway) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case <-cl.done:
			cl.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case event := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// disconnect tears one connection down. The registry treats a repeated
// unregister as a no-op, so transport- and client-initiated closes are both
// safe.
func (g *WSGateway) disconnect(cl *client) {
	close(cl.done)
	cl.conn.Close()

	remaining, removed := g.registry.Unregister(cl)
	if !removed {
		return
	}

	snapshot, err := g.presence.Disconnect(context.Background(), cl.userID)
	if err != nil {
		g.logger.Error("Disconnect transition failed", "user_id", cl.userID, "error", err)
		return
	}

	// Peers only hear about the change when the last handle closed and the
	// connection count reached zero
	if remaining == 0 && snapshot.ActiveConnections == 0 {
		g.broadcaster.BroadcastChange(context.Background(), cl.userID, cl.tenantID)
	}

	g.logger.Info("User disconnected from presence", "user_id", cl.userID, "connection_id", cl.id)
}
