package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"speech-analytics-service/internal/observability/metrics"
)

// ErrTransportClosed is returned when sending on a closed or broken
// connection.
var ErrTransportClosed = errors.New("transport closed")

// ErrUnknownConnection is returned for ids not present in the registry.
var ErrUnknownConnection = errors.New("unknown connection")

// Conn is the subset of a WebSocket connection the session layer writes to.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client serialises writes to one connection. The first write failure closes
// the connection; after that or Close, every Send returns ErrTransportClosed.
type Client struct {
	id           string
	conn         Conn
	writeTimeout time.Duration
	metrics      *metrics.Metrics

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn. A zero writeTimeout disables write deadlines.
func NewClient(id string, conn Conn, writeTimeout time.Duration, m *metrics.Metrics) *Client {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Client{id: id, conn: conn, writeTimeout: writeTimeout, metrics: m}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Send writes msg as one JSON text frame.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrTransportClosed
	}
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return c.fail(msg, err)
		}
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return c.fail(msg, err)
	}
	c.metrics.RecordMessageSent(msg.MessageType(), nil)
	return nil
}

// fail closes the connection after a write error so the reader unblocks.
// c.mu must be held.
func (c *Client) fail(msg Message, err error) error {
	c.closed = true
	_ = c.conn.Close()
	c.metrics.RecordMessageSent(msg.MessageType(), err)
	return fmt.Errorf("%w: %v", ErrTransportClosed, err)
}

// Close marks the client closed and closes the connection once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Closed reports whether the client can no longer send.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Registry maps connection ids to live sessions. Each session is owned by
// exactly one entry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s. It fails if the id is already present.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		return fmt.Errorf("connection %s already registered", s.ID())
	}
	r.sessions[s.ID()] = s
	return nil
}

// Remove deletes the entry for id and returns it.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the registered connection ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats summarises the live sessions for the health endpoint.
type Stats struct {
	Sessions      int        `json:"sessions"`
	Recording     int        `json:"recording"`
	Stopped       int        `json:"stopped"` // explicit stop_recording since the last start
	Flushing      int        `json:"flushing"`
	BufferedBytes int        `json:"bufferedBytes"`
	LastActivity  *time.Time `json:"lastActivity,omitempty"`
}

// Stats walks the live sessions.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var st Stats
	for _, s := range r.sessions {
		st.Sessions++
		if s.State() == StateRecording {
			st.Recording++
		}
		if s.lifecycle.ExplicitlyStopped() {
			st.Stopped++
		}
		if s.lifecycle.Flushing() {
			st.Flushing++
		}
		st.BufferedBytes += s.BufferedBytes()
		if last := s.LastActivity(); st.LastActivity == nil || last.After(*st.LastActivity) {
			st.LastActivity = &last
		}
	}
	return st
}

// Send delivers msg to the session registered under id.
func (r *Registry) Send(id string, msg Message) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return s.send(msg)
}
