// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package feed

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/registry"
	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Path is where the feed is served
const Path = "/tams"

const (
	writeWait   = 10 * time.Second
	clientQueue = 4
)

// Source is what the feed publishes. *coordinator.Coordinator implements it.
type Source interface {
	RunID() string
	View() []registry.View
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Server broadcasts snapshots to every connected websocket client
type Server struct {
	src      Source
	clock    scheduler.Clock
	interval time.Duration
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	dropped uint64
}

// NewServer creates a feed server publishing src every interval
func NewServer(src Source, interval time.Duration, clock scheduler.Clock, logger zerolog.Logger) *Server {
	if clock == nil {
		clock = scheduler.SystemClock{}
	}
	return &Server{
		src:      src,
		clock:    clock,
		interval: interval,
		logger:   logger.With().Str("component", "feed").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*subscriber]struct{}),
	}
}

// Handler returns a mux serving the feed at Path
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	return mux
}

// ServeHTTP upgrades the request and streams snapshots until the client
// goes away
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade feed connection")
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, clientQueue)}
	if data, err := s.encode(); err == nil {
		sub.send <- data
	}

	s.mu.Lock()
	s.clients[sub] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Int("clients", n).Msg("Feed client connected")

	go s.writeLoop(sub)

	// Clients never send; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.remove(sub)
}

func (s *Server) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for data := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			s.logger.Debug().Err(err).Msg("Feed write failed")
			return
		}
	}
	sub.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

func (s *Server) remove(sub *subscriber) {
	s.mu.Lock()
	_, ok := s.clients[sub]
	delete(s.clients, sub)
	n := len(s.clients)
	s.mu.Unlock()
	if ok {
		close(sub.send)
		s.logger.Info().Str("remote", sub.conn.RemoteAddr().String()).Int("clients", n).Msg("Feed client disconnected")
	}
}

func (s *Server) encode() ([]byte, error) {
	return Encode(Capture(s.src, s.clock))
}

// Broadcast sends the current snapshot to every client. A client whose
// queue is full misses this snapshot.
func (s *Server) Broadcast() error {
	data, err := s.encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.clients {
		select {
		case sub.send <- data:
		default:
			s.dropped++
		}
	}
	return nil
}

// Clients returns the number of connected clients
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Dropped returns how many snapshots slow clients missed
func (s *Server) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Run broadcasts every interval until ctx is cancelled, then disconnects
// all clients
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return nil
		case <-ticker.C:
			if err := s.Broadcast(); err != nil {
				s.logger.Error().Err(err).Msg("Failed to broadcast snapshot")
			}
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.clients))
	for sub := range s.clients {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		s.remove(sub)
	}
}

// ListenAndServe serves the feed on addr and broadcasts until ctx is
// cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info().Str("addr", ln.Addr().String()).Str("path", Path).Msg("Status feed listening")

	runErr := s.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Feed shutdown")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return runErr
}
