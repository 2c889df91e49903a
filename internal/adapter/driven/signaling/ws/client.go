package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/port"
)

var (
	ErrNotConnected = errors.New("signaling: not connected")
	errUnauthorized = errors.New("signaling: credentials rejected")
)

const (
	writeWait = 10 * time.Second
	minUptime = time.Second
)

// inbound lists the events a client accepts from the relay.
var inbound = map[domain.Event]bool{
	domain.EventIncomingCall:    true,
	domain.EventCallAccepted:    true,
	domain.EventNewICECandidate: true,
	domain.EventCallTerminated:  true,
}

type Options struct {
	Protocol          domain.Protocol
	HeartbeatInterval time.Duration
	Dialer            *websocket.Dialer
	// NewBackOff builds the reconnect policy. Defaults to unbounded
	// exponential backoff.
	NewBackOff func() backoff.BackOff
	// OnState is told about every connect and disconnect.
	OnState func(connected bool)
}

// Client implements port.Signaler over one WebSocket that is re-established
// for as long as Run is running.
type Client struct {
	url    string
	tokens port.TokenSource
	opts   Options

	envelopes chan domain.Envelope

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(url string, tokens port.TokenSource, opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &Client{
		url:       url,
		tokens:    tokens,
		opts:      opts,
		envelopes: make(chan domain.Envelope, 32),
	}
}

func (c *Client) Envelopes() <-chan domain.Envelope {
	return c.envelopes
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Emit writes one frame under the wire name of the configured protocol.
func (c *Client) Emit(ctx context.Context, event domain.Event, body domain.Body) error {
	name := domain.WireName(event, c.opts.Protocol)
	if name == "" {
		return fmt.Errorf("signaling: unknown event %q", event)
	}
	frame, err := domain.NewFrame(name, body)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteJSON(frame)
}

// Run keeps the connection up until ctx is cancelled, then closes the
// envelope channel.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.envelopes)

	b := backoff.WithContext(c.opts.NewBackOff(), ctx)
	for {
		var conn *websocket.Conn
		err := backoff.RetryNotify(func() error {
			var err error
			conn, err = c.dial(ctx)
			return err
		}, b, func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("Signaling connect failed")
		})
		if err != nil {
			return ctx.Err()
		}

		started := time.Now()
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// RetryNotify resets b, so throttle connections that drop at once
		if time.Since(started) < minUptime {
			select {
			case <-time.After(minUptime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			if _, rerr := c.tokens.Refresh(ctx); rerr != nil {
				log.Warn().Err(rerr).Msg("Credential refresh failed")
			}
			return nil, errUnauthorized
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// serve runs one connection until it drops.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	log.Info().Str("url", c.url).Str("protocol", c.opts.Protocol.String()).Msg("Signaling connected")
	c.notify(true)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	if c.opts.HeartbeatInterval > 0 {
		go c.heartbeat(ctx, done)
	}

	c.readLoop(ctx, conn)
	close(done)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	log.Info().Msg("Signaling disconnected")
	c.notify(false)
}

func (c *Client) notify(connected bool) {
	if c.opts.OnState != nil {
		c.opts.OnState(connected)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("Signaling read failed")
			}
			return
		}

		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("Malformed signaling frame")
			continue
		}
		env, ok := c.decode(frame)
		if !ok {
			continue
		}
		select {
		case c.envelopes <- env:
		case <-ctx.Done():
			return
		}
	}
}

// decode keeps only relay-to-client events named in this client's
// vocabulary; the relay sends every event under both.
func (c *Client) decode(frame domain.Frame) (domain.Envelope, bool) {
	event, protocol, ok := domain.ResolveWire(frame.Type)
	if !ok || protocol != c.opts.Protocol || !inbound[event] {
		return domain.Envelope{}, false
	}
	body, err := frame.Decode()
	if err != nil {
		log.Warn().Err(err).Str("type", frame.Type).Msg("Malformed signaling payload")
		return domain.Envelope{}, false
	}
	return domain.Envelope{Event: event, From: body.FromUserID, Body: body}, true
}

func (c *Client) heartbeat(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.Emit(ctx, domain.EventHeartbeat, domain.Body{}); err != nil {
				log.Debug().Err(err).Msg("Heartbeat failed")
			}
		}
	}
}
