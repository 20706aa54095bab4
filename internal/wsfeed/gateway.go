// Package wsfeed implements SPEC_FULL.md §4.11's live signal feed gateway:
// GET /ws/live upgrades to a websocket and streams newly-dispatched Signal
// payloads to connected clients, subject to free/pro + FREE_DELAY_MINUTES
// gating. Grounded on the teacher's gorilla/websocket usage (e.g.
// src/infrastructure/datafacade/adapters/kraken_adapter.go) for the library
// idiom, adapted from an outbound client connection to an inbound server
// upgrade; the bounded-buffer-then-disconnect discipline is grounded on
// internal/alerts' worker-pool fan-out (C9).
package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/kv"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	clientBufSize  = 32
	liveChannel    = "stratum:live:signals"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway fans signals published on the Redis live channel out to every
// connected websocket client.
type Gateway struct {
	kv         *kv.Store
	freeDelay  time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewGateway wires a Gateway to the KV store the orchestrator publishes
// live signals on.
func NewGateway(store *kv.Store, freeDelay time.Duration) *Gateway {
	return &Gateway{kv: store, freeDelay: freeDelay, clients: map[*client]struct{}{}}
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	isPro  bool
}

// ServeHTTP upgrades the connection and registers the client. isPro should
// be resolved by the caller (httpapi's auth middleware) before mounting
// this handler behind /ws/live.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request, isPro bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("wsfeed: upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBufSize), isPro: isPro}
	g.register(c)
	go g.writePump(c)
	go g.readPump(c)
}

func (g *Gateway) register(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[c] = struct{}{}
}

func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[c]; ok {
		delete(g.clients, c)
		close(c.send)
	}
}

// readPump drains (and discards) client frames purely to detect
// disconnects and keep gorilla/websocket's pong handler firing, the same
// read-loop-is-mandatory idiom the library's documented examples use.
func (g *Gateway) readPump(c *client) {
	defer func() {
		g.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// broadcast fans a signal payload out to every connected client, disconnecting
// (never blocking on) a client whose send buffer is full — the same
// bounded fan-out discipline as C9's webhook worker pool.
func (g *Gateway) broadcast(payload []byte, freeEligible bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.clients {
		if !c.isPro && !freeEligible {
			continue
		}
		select {
		case c.send <- payload:
		default:
			log.Warn().Msg("wsfeed: slow client disconnected")
			delete(g.clients, c)
			close(c.send)
		}
	}
}

// Run subscribes to the KV live-signal channel and fans every message out
// to connected clients until ctx is cancelled. Free-tier clients only
// receive a signal once it is older than freeDelay, mirroring the delayed
// public feed behavior SPEC_FULL.md §4.11 describes.
func (g *Gateway) Run(ctx context.Context) error {
	pubsub := g.kv.Subscribe(ctx, liveChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var sig domain.Signal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				log.Error().Err(err).Msg("wsfeed: malformed live signal payload")
				continue
			}
			g.broadcast([]byte(msg.Payload), time.Since(sig.CreatedAt) >= g.freeDelay)
		}
	}
}
