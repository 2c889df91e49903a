package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/metrics"
)

type registration struct {
	client Client
	done   chan struct{}
}

// Hub implements port.Gateway over the set of open connections. Every
// connection joins its user's logical channel on registration.
type Hub struct {
	mu       sync.RWMutex
	clients  map[domain.ConnectionID]Client
	channels map[string]map[domain.ConnectionID]struct{}

	register   chan registration
	unregister chan registration
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.ConnectionID]Client),
		channels:   make(map[string]map[domain.ConnectionID]struct{}),
		register:   make(chan registration),
		unregister: make(chan registration),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Send(ctx context.Context, connID domain.ConnectionID, frame domain.Frame) error {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return nil // gone since lookup
	}
	return client.Send(frame)
}

func (h *Hub) ChannelMembers(channel string) []domain.ConnectionID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]domain.ConnectionID, 0, len(h.channels[channel]))
	for id := range h.channels[channel] {
		members = append(members, id)
	}
	return members
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.Close()
				delete(h.clients, id)
			}
			h.channels = make(map[string]map[domain.ConnectionID]struct{})
			h.mu.Unlock()
			metrics.Connections.Set(0)
			return

		case reg := <-h.register:
			h.add(reg.client)
			close(reg.done)

		case reg := <-h.unregister:
			h.remove(reg.client)
			close(reg.done)
		}
	}
}

func (h *Hub) add(c Client) {
	channel := domain.UserChannel(c.UserID())

	h.mu.Lock()
	h.clients[c.ID()] = c
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[domain.ConnectionID]struct{})
	}
	h.channels[channel][c.ID()] = struct{}{}
	h.mu.Unlock()

	metrics.Connections.Inc()
	log.Info().Str("client_id", c.ID().String()).Str("user_id", c.UserID().String()).Msg("Client registered")
}

func (h *Hub) remove(c Client) {
	channel := domain.UserChannel(c.UserID())

	h.mu.Lock()
	_, ok := h.clients[c.ID()]
	if ok {
		delete(h.clients, c.ID())
		delete(h.channels[channel], c.ID())
		if len(h.channels[channel]) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()

	if ok {
		c.Close()
		metrics.Connections.Dec()
		log.Info().Str("client_id", c.ID().String()).Msg("Client unregistered")
	}
}

// Register returns once the client is reachable through the hub.
func (h *Hub) Register(c Client) {
	h.submit(h.register, c)
}

func (h *Hub) Unregister(c Client) {
	h.submit(h.unregister, c)
}

func (h *Hub) submit(ch chan registration, c Client) {
	reg := registration{client: c, done: make(chan struct{})}
	select {
	case ch <- reg:
		<-reg.done
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
