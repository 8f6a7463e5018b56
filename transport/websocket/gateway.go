// Package websocket provides a notification subscriber that streams
// envelopes to WebSocket clients.
//
// The gateway is registered with the broadcast dispatcher like any other
// subscriber and also serves HTTP. Each connected client receives a JSON
// copy of every envelope the gateway is eligible for. The gateway only
// observes: it never changes the result passed along the ordered chain, and
// a client that falls behind loses notifications rather than stalling
// delivery.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/kabili207/smsinbound/core/notify"
)

const (
	// DefaultSendQueueSize is the per-client buffer of pending frames.
	DefaultSendQueueSize = 64

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultPingInterval is how often idle clients are pinged.
	DefaultPingInterval = 30 * time.Second

	maxPingFailures = 2
)

// Config holds the configuration for a Gateway.
type Config struct {
	// OriginPatterns lists the cross-origin hosts allowed to connect.
	OriginPatterns []string
	// SendQueueSize is the per-client frame buffer. Default: 64.
	SendQueueSize int
	// WriteTimeout bounds a single frame write. Default: 5s.
	WriteTimeout time.Duration
	// PingInterval is the heartbeat interval. Default: 30s.
	PingInterval time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Gateway is a broadcast subscriber and an http.Handler.
type Gateway struct {
	name string
	cfg  Config
	log  *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

type client struct {
	id   string
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// New creates a gateway subscribed under name.
func New(name string, cfg Config) *Gateway {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Gateway{
		name:    name,
		cfg:     cfg,
		log:     cfg.Logger.WithGroup("websocket"),
		clients: make(map[string]*client),
	}
}

func (g *Gateway) Name() string { return g.name }

// Receive queues a JSON copy of env for every connected client and passes
// prev on unchanged. Clients whose queue is full skip this envelope.
func (g *Gateway) Receive(_ context.Context, env *notify.Envelope, prev notify.Result) notify.Result {
	payload, err := json.Marshal(env)
	if err != nil {
		g.log.Warn("cannot encode notification", "id", env.ID, "error", err)
		return prev
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.clients {
		select {
		case c.send <- payload:
		case <-c.done:
		default:
			g.log.Warn("client too slow, dropping notification", "client", c.id, "id", env.ID)
		}
	}
	return prev
}

// Len returns the number of connected clients.
func (g *Gateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Close disconnects every client and refuses new connections.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	clients := g.clients
	g.clients = make(map[string]*client)
	g.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// ServeHTTP upgrades the request and streams notifications until the peer
// goes away or the gateway is closed.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.cfg.OriginPatterns,
	})
	if err != nil {
		g.log.Info("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:   ulid.Make().String(),
		send: make(chan []byte, g.cfg.SendQueueSize),
		done: make(chan struct{}),
	}
	if !g.add(c) {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer g.remove(c)

	g.log.Info("client connected", "client", c.id, "remote", r.RemoteAddr)

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())

	status, reason := g.run(ctx, conn, c)
	_ = conn.Close(status, reason)
	g.log.Info("client disconnected", "client", c.id, "reason", reason)
}

func (g *Gateway) run(ctx context.Context, conn *websocket.Conn, c *client) (websocket.StatusCode, string) {
	ping := time.NewTicker(g.cfg.PingInterval)
	defer ping.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure, "peer closed"

		case <-c.done:
			return websocket.StatusGoingAway, "shutting down"

		case payload := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				g.log.Info("write failed", "client", c.id, "close_status", websocket.CloseStatus(err), "error", err)
				return websocket.StatusAbnormalClosure, "write failed"
			}

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				failures++
				if failures >= maxPingFailures {
					return websocket.StatusGoingAway, "heartbeat failed"
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) add(c *client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.clients[c.id] = c
	return true
}

func (g *Gateway) remove(c *client) {
	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()
	c.close()
}
