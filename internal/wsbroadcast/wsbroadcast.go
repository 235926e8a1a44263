// Package wsbroadcast implements controller.BroadcastSink over WebSocket
// connections, reusing golang.org/x/net/websocket the way
// mastercactapus-cncgui's spjs.Client uses it client-side but on the
// server side: websocket.Handler wraps every accepted connection in the
// same Conn type a browser client dials from the other end.
package wsbroadcast

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// Sink fans controller events out to every connected WebSocket client.
// Satisfies controller.BroadcastSink without importing the controller
// package, so it stays reusable outside this one daemon.
type Sink struct {
	log *logrus.Entry

	mu      sync.Mutex
	clients map[uint64]*websocket.Conn
	nextID  uint64
}

// frame is the wire envelope for every broadcast event, one JSON object
// per message in the {event, payload} shape browser clients expect.
type frame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func NewSink(log *logrus.Entry) *Sink {
	return &Sink{log: log, clients: make(map[uint64]*websocket.Conn)}
}

// Handler returns an http.Handler suitable for mounting at a websocket
// endpoint (e.g. "/socket").
func (s *Sink) Handler() http.Handler {
	return websocket.Handler(s.handle)
}

func (s *Sink) handle(conn *websocket.Conn) {
	id := s.addClient(conn)
	defer s.removeClient(id)

	// Clients only receive; any inbound byte is discarded, just keeps
	// the read loop alive so we notice disconnects.
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func (s *Sink) addClient(conn *websocket.Conn) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.clients[id] = conn
	s.log.WithField("clientID", id).Info("wsbroadcast: client connected")
	return id
}

func (s *Sink) removeClient(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
	s.log.WithField("clientID", id).Info("wsbroadcast: client disconnected")
}

// Broadcast implements controller.BroadcastSink.
func (s *Sink) Broadcast(event string, payload any) {
	data, err := json.Marshal(frame{Event: event, Payload: payload})
	if err != nil {
		s.log.WithError(err).Warn("wsbroadcast: failed to marshal event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.clients {
		if _, err := conn.Write(data); err != nil {
			s.log.WithField("clientID", id).WithError(err).Warn("wsbroadcast: write failed, dropping client")
			go conn.Close()
			delete(s.clients, id)
		}
	}
}
