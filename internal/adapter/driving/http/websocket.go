package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/service"
	"github.com/vasanthgoud799/connectify-sub001/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// newUpgrader accepts any origin when allowed is empty. Requests without an
// Origin header come from non-browser clients and are always accepted.
func newUpgrader(allowed []string) websocket.Upgrader {
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		origins[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(origins) == 0 || origin == "" {
				return true
			}
			_, ok := origins[origin]
			return ok
		},
	}
}

// WSClient implements ws.Client. Writes are serialised; gorilla allows one
// concurrent writer.
type WSClient struct {
	id   domain.ConnectionID
	user domain.UserID
	conn *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *WSClient) ID() domain.ConnectionID {
	return c.id
}

func (c *WSClient) UserID() domain.UserID {
	return c.user
}

func (c *WSClient) Send(frame domain.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

func (c *WSClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	userID := domain.UserID(claims.UserID)
	client := &WSClient{
		id:   domain.NewConnectionID(),
		user: userID,
		conn: conn,
	}
	sender := service.Sender{UserID: userID, Profile: claims.Profile()}

	l := log.With().Str("client_id", client.id.String()).Str("user_id", userID.String()).Logger()
	l.Info().Msg("New client connected")

	ctx := r.Context()
	h.Hub.Register(client)
	h.Presence.SetOnline(ctx, userID, client.id)

	done := make(chan struct{})
	defer func() {
		close(done)
		l.Info().Msg("Client disconnected")
		// r.Context() may already be cancelled here
		h.Presence.SetOffline(context.Background(), userID, client.id)
		h.Hub.Unregister(client)
		client.Close()
	}()

	pongWait := 2 * h.pingInterval
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.Presence.Heartbeat(ctx, userID)
		return nil
	})

	go h.pingLoop(client, done, l)

	// listening for client frames
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			metrics.SignalingRejected.WithLabelValues("malformed").Inc()
			l.Warn().Err(err).Msg("Malformed frame")
			continue
		}
		h.Relay.Handle(ctx, sender, frame)
	}
}

func (h *Handler) pingLoop(c *WSClient, done <-chan struct{}, l zerolog.Logger) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				l.Debug().Err(err).Msg("Ping failed")
				c.Close()
				return
			}
		}
	}
}
