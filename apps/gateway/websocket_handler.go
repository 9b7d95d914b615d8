package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mahaj/academy-chat/pkg/auth"
	"github.com/mahaj/academy-chat/pkg/chat"
	"github.com/mahaj/academy-chat/pkg/model"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Fits a full-length message of
	// multi-byte runes plus the envelope.
	maxMessageSize = 32 << 10

	sendBuffer = 256
)

// Client is a middleman between the websocket connection and the hub. It is
// the hub's Sink for this connection.
type Client struct {
	id   string
	hub  *chat.Hub
	conn *websocket.Conn

	// Buffered channel of outbound envelopes.
	send      chan model.Envelope
	done      chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter
}

func newClient(hub *chat.Hub, conn *websocket.Conn, limiter *rate.Limiter) *Client {
	return &Client{
		id:      uuid.NewString(),
		hub:     hub,
		conn:    conn,
		send:    make(chan model.Envelope, sendBuffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

// Deliver queues env without blocking.
func (c *Client) Deliver(env model.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Close asks the write pump to send a close frame and hang up.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) sendError(err error) {
	env, encErr := model.NewEnvelope(model.EventError, chat.ErrorEvent(err))
	if encErr == nil {
		c.Deliver(env)
	}
}

// readPump pumps events from the websocket connection to the hub.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(c.id)
		c.Close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Connection %s read error: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			c.sendError(chat.ErrRateLimited)
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.sendError(chat.ErrBadRequest)
			continue
		}
		c.hub.HandleEvent(ctx, c.id, env)
	}
}

// writePump pumps envelopes from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type wsHandler struct {
	ctx      context.Context
	hub      *chat.Hub
	issuer   *auth.Issuer
	upgrader websocket.Upgrader

	rateEvery time.Duration
	rateBurst int
}

func newWSHandler(ctx context.Context, hub *chat.Hub, issuer *auth.Issuer, origins []string,
	rateEvery time.Duration, rateBurst int) *wsHandler {
	return &wsHandler{
		ctx:    ctx,
		hub:    hub,
		issuer: issuer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(origins),
		},
		rateEvery: rateEvery,
		rateBurst: rateBurst,
	}
}

// checkOrigin allows the listed origins, or any origin when the list holds
// "*". Requests without an Origin header come from non-browser clients.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// ServeHTTP authenticates, upgrades and registers one websocket connection.
func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokenString := auth.BearerToken(r.Header.Get("Authorization"))
	if tokenString == "" {
		// Browsers cannot set headers on a websocket handshake.
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		log.Println("[WS] Unauthorized: no token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	identity, err := h.issuer.Authenticate(tokenString)
	if err != nil {
		log.Printf("[WS] Unauthorized: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	client := newClient(h.hub, conn, rate.NewLimiter(rate.Every(h.rateEvery), h.rateBurst))
	if err := h.hub.Connect(client.id, identity, client); err != nil {
		log.Printf("[WS] Rejecting connection for %s: %v", identity.ID, err)
		rejectConnection(conn, err)
		return
	}

	go client.writePump()
	go client.readPump(h.ctx)
}

// rejectConnection reports err on an upgraded socket the hub refused, then
// closes it.
func rejectConnection(conn *websocket.Conn, err error) {
	defer conn.Close()
	code := websocket.CloseInternalServerErr
	if errors.Is(err, chat.ErrDuplicateConnection) {
		code = websocket.ClosePolicyViolation
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	env, encErr := model.NewEnvelope(model.EventError, chat.ErrorEvent(err))
	if encErr != nil {
		log.Printf("[WS] Failed to encode rejection: %v", encErr)
	} else if err := conn.WriteJSON(env); err != nil {
		return
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, chat.ErrorCode(err)))
}
