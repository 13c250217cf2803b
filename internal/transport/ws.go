package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/smartbrite/brited/internal/eventbus"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// maxFrameSize bounds inbound command documents.
	maxFrameSize = 64 << 10
)

// Config holds the websocket server settings.
type Config struct {
	Host string
	Port int

	// SendBuf is the per-client outbound queue size. Zero means a default.
	SendBuf int
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Server accepts websocket clients, feeds their frames to the handler and
// fans notifications out to every connection. A slow client is disconnected
// when its outbound queue fills rather than stalling the rest.
type Server struct {
	cfg     Config
	handler Handler

	mu      sync.Mutex
	clients map[*client]struct{}

	srv *http.Server
}

// NewServer creates a websocket server and subscribes it to the bus events
// clients are notified about.
func NewServer(cfg Config, handler Handler, bus *eventbus.Bus) *Server {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 32
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		clients: make(map[*client]struct{}),
	}

	if bus != nil {
		notify := func(e eventbus.Event) {
			if frame := encodeNotification(e); frame != nil {
				s.Broadcast(frame)
			}
		}
		bus.Subscribe(eventbus.TypeState, notify)
		bus.Subscribe(eventbus.TypeScheduleChanged, notify)
	}
	return s
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Run serves until the context is cancelled, then closes the listener and
// every client connection.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.srv = &http.Server{Addr: s.cfg.addr(), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.addr()).Msg("Transport listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		s.closeAll()
		log.Info().Msg("Transport stopped")
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Broadcast enqueues a frame to every connected client. It never blocks:
// clients whose queue is full are disconnected.
func (s *Server) Broadcast(frame []byte) {
	var slow []*client

	s.mu.Lock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		case <-c.done:
			// Already being torn down; drop will remove it.
		default:
			slow = append(slow, c)
		}
	}
	s.mu.Unlock()

	for _, c := range slow {
		s.drop(c, "slow client")
	}
}

// ClientCount reports the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, s.cfg.SendBuf),
		done:   make(chan struct{}),
		remote: r.RemoteAddr,
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	log.Info().Str("remote", c.remote).Int("clients", n).Msg("Client connected")

	// Pumps outlive the HTTP handler: net/http cancels the request context
	// when the handler returns, which would tear the connection down early.
	go c.writePump()
	go s.readPump(c)
}

// drop removes a client and closes its connection. Signalling done stops
// the write pump; idempotent so the read pump and broadcaster can race to it.
func (s *Server) drop(c *client, reason string) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		delete(s.clients, c)
	}
	n := len(s.clients)
	s.mu.Unlock()

	if !ok {
		return
	}
	_ = c.conn.Close()
	c.shutdown()
	log.Info().Str("remote", c.remote).Str("reason", reason).Int("clients", n).Msg("Client disconnected")
}

func (s *Server) closeAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.drop(c, "shutdown")
	}
}

// readPump consumes inbound frames. Every text frame is one complete command
// document; the response goes back on this client's queue only.
func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("remote", c.remote).Msg("Read pump exiting")
			}
			s.drop(c, "read error")
			return
		}

		resp := s.handler.Handle(frame)
		select {
		case c.send <- resp:
		case <-c.done:
			// Dropped while the command was in flight.
			return
		default:
			s.drop(c, "slow client")
			return
		}
	}
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string

	// done signals the pumps that the client is being torn down. The send
	// channel itself is never closed: the read pump and the broadcaster
	// both send on it, and either may still be mid-send when the client
	// is dropped.
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump serializes all writes to the connection: responses, broadcast
// notifications and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
