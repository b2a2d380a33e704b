package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultOutboundBuffer is the outbound queue depth per connection.
const DefaultOutboundBuffer = 32

// Connection is a single authenticated socket. OutChan is drained by the
// transport's write pump; everything else only pushes onto it.
type Connection struct {
	ID          string
	UserID      uuid.UUID
	Display     models.Display
	ConnectedAt time.Time
	OutChan     chan models.Event

	// Cancel stops the transport goroutines for this connection.
	Cancel func()

	// OnDrop, if set, is called with the event type whenever Write drops an event.
	OnDrop func(eventType string)

	mu        sync.Mutex
	closed    bool
	cancelled bool
	rooms     map[string]struct{}
	log       logrus.FieldLogger
}

// NewConnection builds a connection with a fresh random id.
func NewConnection(userID uuid.UUID, display models.Display, buffer int, logger logrus.FieldLogger) *Connection {
	if buffer <= 0 {
		buffer = DefaultOutboundBuffer
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	id := uuid.NewString()
	return &Connection{
		ID:          id,
		UserID:      userID,
		Display:     display,
		ConnectedAt: time.Now(),
		OutChan:     make(chan models.Event, buffer),
		Cancel:      func() {},
		rooms:       make(map[string]struct{}),
		log:         logger.WithFields(logrus.Fields{"conn_id": id, "user_id": userID}),
	}
}

// Write pushes an event onto OutChan without blocking. A full or closed
// channel drops the event; the return value reports delivery to the queue.
func (c *Connection) Write(ev models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped(ev.Type, "closed")
		return false
	}
	select {
	case c.OutChan <- ev:
		return true
	default:
		c.dropped(ev.Type, "full")
		return false
	}
}

func (c *Connection) dropped(eventType, reason string) {
	c.log.WithField("event", eventType).Warnf("outbound queue %s, dropped event", reason)
	if c.OnDrop != nil {
		c.OnDrop(eventType)
	}
}

// WriteError is a convenience to send an error event.
func (c *Connection) WriteError(code, msg string) {
	c.Write(models.ErrorEvent(code, msg))
}

// Close closes OutChan and cancels the transport. Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	if !c.closed {
		c.closed = true
		close(c.OutChan)
	}
	c.mu.Unlock()

	if c.Cancel != nil {
		c.Cancel()
	}
}

// Supersede closes OutChan but leaves the transport running, so the write
// pump can drain what is queued and send its own close frame. Close still
// works afterwards.
func (c *Connection) Supersede() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.OutChan)
}

// Closed reports whether Close or Supersede has been called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// JoinRoom records room membership for this connection.
func (c *Connection) JoinRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

// LeaveRoom forgets room membership.
func (c *Connection) LeaveRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// InRoom reports whether the connection is in roomID.
func (c *Connection) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Rooms returns a copy of the connection's room set.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}
