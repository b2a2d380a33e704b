// internal/matchmaking/queue.go
package matchmaking

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/models"
)

// Presence answers whether a user is still reachable: an active connection or
// a disconnect still inside its grace period both count.
type Presence interface {
	IsPresent(userID uuid.UUID) bool
}

// PresenceFunc adapts a plain function to Presence.
type PresenceFunc func(userID uuid.UUID) bool

func (f PresenceFunc) IsPresent(userID uuid.UUID) bool { return f(userID) }

// Entry is one waiting player.
type Entry struct {
	ConnID   string
	UserID   uuid.UUID
	Display  models.Display
	QueuedAt time.Time
}

// Match pairs the longest-waiting player with the entrant that completed it.
type Match struct {
	BattleID string
	Waiting  Entry
	Entrant  Entry
}

// Queue is a strict FIFO of players waiting for a random opponent.
type Queue struct {
	mu       sync.Mutex
	entries  []Entry
	presence Presence
	now      func() time.Time
}

// NewQueue returns an empty queue. A nil presence treats every user as present.
func NewQueue(presence Presence) *Queue {
	if presence == nil {
		presence = PresenceFunc(func(uuid.UUID) bool { return true })
	}
	return &Queue{presence: presence, now: time.Now}
}

// Join pairs e with the head of the queue, or enqueues it when no eligible
// opponent is waiting. Heads whose user is gone are discarded. A user who is
// already waiting just has their entry refreshed.
func (q *Queue) Join(e Entry) (*Match, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.QueuedAt.IsZero() {
		e.QueuedAt = q.now()
	}

	for len(q.entries) > 0 {
		head := q.entries[0]
		if head.UserID == e.UserID {
			q.entries[0] = e
			return nil, false
		}
		q.entries = q.entries[1:]
		if !q.presence.IsPresent(head.UserID) {
			continue
		}
		q.removeUserLocked(e.UserID)
		return &Match{
			BattleID: uuid.NewString(),
			Waiting:  head,
			Entrant:  e,
		}, true
	}

	q.removeUserLocked(e.UserID)
	q.entries = append(q.entries, e)
	return nil, false
}

// Leave removes the entry queued by connID. Returns false if none was queued.
func (q *Queue) Leave(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.ConnID == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// LeaveUser removes any entry belonging to userID.
func (q *Queue) LeaveUser(userID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeUserLocked(userID)
}

// SwapConnection repoints a queued user's entry at a new connection.
func (q *Queue) SwapConnection(userID uuid.UUID, connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].UserID == userID {
			q.entries[i].ConnID = connID
			return true
		}
	}
	return false
}

func (q *Queue) removeUserLocked(userID uuid.UUID) bool {
	for i, e := range q.entries {
		if e.UserID == userID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len is the number of waiting players.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the queue in FIFO order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}
