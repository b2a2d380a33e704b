// internal/reconnect/supervisor.go
package reconnect

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// DefaultGrace is how long a dropped player keeps their seat.
const DefaultGrace = 10 * time.Second

// Pending is a disconnect waiting out its grace period.
type Pending struct {
	UserID   uuid.UUID
	ConnID   string
	Display  models.Display
	RoomIDs  []string
	LeftAt   time.Time
	Deadline time.Time

	timer clockwork.Timer
	token uint64
}

// ExpireFunc finalizes a departure once the grace period lapses.
type ExpireFunc func(p Pending)

// Supervisor holds at most one pending disconnect per user and fires
// ExpireFunc for those not cancelled by a reconnect in time.
type Supervisor struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*Pending
	next    uint64

	clock    clockwork.Clock
	grace    time.Duration
	onExpire ExpireFunc
	log      logrus.FieldLogger
}

// NewSupervisor builds a Supervisor. A nil clock uses the real clock.
func NewSupervisor(clock clockwork.Clock, grace time.Duration, onExpire ExpireFunc, logger logrus.FieldLogger) *Supervisor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Supervisor{
		pending:  make(map[uuid.UUID]*Pending),
		clock:    clock,
		grace:    grace,
		onExpire: onExpire,
		log:      logger,
	}
}

// Disconnect starts the grace period for p. It returns false, and records
// nothing, when p has no rooms; the caller then finalizes immediately. A second
// disconnect for the same user replaces the first.
func (s *Supervisor) Disconnect(p Pending) bool {
	if len(p.RoomIDs) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.pending[p.UserID]; ok {
		old.timer.Stop()
	}

	s.next++
	token := s.next
	rec := p
	rec.token = token
	rec.LeftAt = s.clock.Now()
	rec.Deadline = rec.LeftAt.Add(s.grace)
	rec.timer = s.clock.AfterFunc(s.grace, func() { s.expire(p.UserID, token) })
	s.pending[p.UserID] = &rec

	s.log.WithFields(logrus.Fields{"user_id": p.UserID, "rooms": p.RoomIDs, "grace": s.grace}).
		Info("player disconnected, holding seat")
	return true
}

// expire runs on the timer goroutine. A record that was cancelled or
// replaced since the timer was armed carries a different token and is left alone.
func (s *Supervisor) expire(userID uuid.UUID, token uint64) {
	s.mu.Lock()
	rec, ok := s.pending[userID]
	if !ok || rec.token != token {
		s.mu.Unlock()
		return
	}
	delete(s.pending, userID)
	fn := s.onExpire
	s.mu.Unlock()

	s.log.WithField("user_id", userID).Info("reconnect grace expired")
	if fn != nil {
		s.runExpire(fn, *rec)
	}
}

// runExpire calls fn and logs a panic instead of letting it kill the process.
func (s *Supervisor) runExpire(fn ExpireFunc, p Pending) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{"user_id": p.UserID, "rooms": p.RoomIDs, "panic": r}).
				Error("grace expiry cleanup panicked")
		}
	}()
	fn(p)
}

// Reconnect cancels userID's pending disconnect and returns it.
func (s *Supervisor) Reconnect(userID uuid.UUID) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[userID]
	if !ok {
		return Pending{}, false
	}
	rec.timer.Stop()
	delete(s.pending, userID)
	return *rec, true
}

// IsPending reports whether userID is inside a grace period.
func (s *Supervisor) IsPending(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[userID]
	return ok
}

// Len is the number of pending disconnects.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending timer without firing ExpireFunc.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.pending {
		rec.timer.Stop()
		delete(s.pending, id)
	}
}
