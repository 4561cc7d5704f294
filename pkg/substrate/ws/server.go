// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ws

import (
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// Server accepts WebSocket clients for one Router and acts as its jingle.Sender. Each client is identified by the
// From address of its first Request; outbound Requests are passed to the client matching their To address.
type Server struct {
	upgrader websocket.Upgrader

	mutex  sync.Mutex
	router Router
	peers  map[jingle.Address]*Conn
	conns  map[*Conn]struct{}
}

// NewServer creates a Server. Its ServeHTTP function must be bound to a HTTP endpoint after Bind was called.
func NewServer() *Server {
	return &Server{
		peers: make(map[jingle.Address]*Conn),
		conns: make(map[*Conn]struct{}),
	}
}

// Bind the Router for all inbound Requests.
func (s *Server) Bind(router Router) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.router = router
}

// ServeHTTP upgrades the request and serves the WebSocket until it is closed.
func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	router := s.router
	s.mutex.Unlock()

	if router == nil {
		http.Error(rw, "no router is bound", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	conn := newConn(wsConn)
	conn.onRequest = func(req jingle.Request) { s.register(req.From, conn) }

	s.mutex.Lock()
	s.conns[conn] = struct{}{}
	s.mutex.Unlock()

	log.WithField("websocket", wsConn.RemoteAddr().String()).Info("WebSocket client connected")

	conn.Serve(router)
	s.unregister(conn)
}

func (s *Server) register(peer jingle.Address, conn *Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if known, ok := s.peers[peer]; ok && known == conn {
		return
	}

	log.WithFields(log.Fields{
		"websocket": conn.conn.RemoteAddr().String(),
		"peer":      peer,
	}).Debug("Registered peer address for WebSocket client")
	s.peers[peer] = conn
}

func (s *Server) unregister(conn *Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.conns, conn)
	for peer, known := range s.peers {
		if known == conn {
			delete(s.peers, peer)
		}
	}
}

// Peers currently reachable through this Server.
func (s *Server) Peers() (peers []jingle.Address) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for peer := range s.peers {
		peers = append(peers, peer)
	}
	return
}

// Send a Request to the client registered for its To address.
func (s *Server) Send(req jingle.Request) error {
	s.mutex.Lock()
	conn, ok := s.peers[req.To]
	s.mutex.Unlock()

	if !ok {
		return fmt.Errorf("no WebSocket client is known for %s", req.To)
	}
	return conn.Send(req)
}

// Close all client connections.
func (s *Server) Close() error {
	s.mutex.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mutex.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return nil
}
