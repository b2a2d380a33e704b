// internal/room/coordinator.go
package room

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/session"
	"github.com/sirupsen/logrus"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrRoomInBattle     = errors.New("room is already in battle")
	ErrNotMember        = errors.New("user is not a member of this room")
	ErrNotHost          = errors.New("only the host can start the battle")
	ErrNotEnoughPlayers = errors.New("battle needs exactly two players")
	ErrAlreadyStarted   = errors.New("battle already started")
)

// SessionCreator is the slice of the session store the coordinator needs.
type SessionCreator interface {
	Create(ctx context.Context, battleID, player1ID, player2ID string, ranked bool) (*session.Snapshot, error)
}

// Coordinator owns room membership, the host role, the lobby to battle
// transition and first-turn assignment.
type Coordinator struct {
	mu    sync.Mutex
	rooms map[string]*Room
	turns map[string]TurnAssignment

	sessions SessionCreator
	rng      *rand.Rand
	rngMu    sync.Mutex
	log      logrus.FieldLogger
}

// NewCoordinator builds a Coordinator. rng drives the first-turn coin flip;
// pass a seeded source in tests.
func NewCoordinator(sessions SessionCreator, rng *rand.Rand, logger logrus.FieldLogger) *Coordinator {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		rooms:    make(map[string]*Room),
		turns:    make(map[string]TurnAssignment),
		sessions: sessions,
		rng:      rng,
		log:      logger,
	}
}

// Join adds m to roomID, creating the room if it does not exist. Joining a
// room one is already in is a rejoin: only the connection id is refreshed.
func (c *Coordinator) Join(roomID string, m Member) (JoinResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms[roomID]
	if !ok {
		r = &Room{ID: roomID, Status: StatusLobby}
		c.rooms[roomID] = r
		r.Members = append(r.Members, &m)
		return JoinResult{Room: r.clone(), Created: true}, nil
	}

	if i := r.indexOf(m.UserID); i >= 0 {
		r.Members[i].ConnID = m.ConnID
		return JoinResult{Room: r.clone(), Others: othersOf(r, m.UserID), Rejoined: true}, nil
	}
	if r.Status == StatusBattle {
		return JoinResult{}, ErrRoomInBattle
	}
	if r.IsFull() {
		return JoinResult{}, ErrRoomFull
	}

	others := othersOf(r, m.UserID)
	r.Members = append(r.Members, &m)
	return JoinResult{Room: r.clone(), Others: others}, nil
}

func othersOf(r *Room, userID uuid.UUID) []Member {
	out := make([]Member, 0, len(r.Members))
	for _, m := range r.Members {
		if m.UserID != userID {
			out = append(out, *m)
		}
	}
	return out
}

// Leave removes userID from roomID. The next member in join order inherits
// the host role; an emptied room is deleted along with its turn assignment.
func (c *Coordinator) Leave(roomID string, userID uuid.UUID) (LeaveResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms[roomID]
	if !ok {
		return LeaveResult{}, ErrRoomNotFound
	}
	i := r.indexOf(userID)
	if i < 0 {
		return LeaveResult{}, ErrNotMember
	}

	wasHost := i == 0
	r.Members = append(r.Members[:i], r.Members[i+1:]...)

	if len(r.Members) == 0 {
		delete(c.rooms, roomID)
		delete(c.turns, roomID)
		return LeaveResult{Room: r.clone(), Deleted: true}, nil
	}

	res := LeaveResult{Room: r.clone()}
	if wasHost {
		res.HostChanged = true
		res.NewHostID = r.HostID()
	}
	return res, nil
}

// StartBattle moves a full lobby into battle. Only the host may call it. The
// first mover is picked by coin flip and becomes player 1 of the snapshot so
// turn 1 always belongs to them. A session store failure is logged and the
// battle proceeds without an authoritative snapshot.
func (c *Coordinator) StartBattle(ctx context.Context, roomID string, initiator uuid.UUID, ranked bool) (TurnAssignment, error) {
	c.mu.Lock()
	r, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return TurnAssignment{}, ErrRoomNotFound
	}
	if existing, started := c.turns[roomID]; started {
		c.mu.Unlock()
		return existing, ErrAlreadyStarted
	}
	if r.indexOf(initiator) < 0 {
		c.mu.Unlock()
		return TurnAssignment{}, ErrNotMember
	}
	if r.HostID() != initiator {
		c.mu.Unlock()
		return TurnAssignment{}, ErrNotHost
	}
	if len(r.Members) != Capacity {
		c.mu.Unlock()
		return TurnAssignment{}, ErrNotEnoughPlayers
	}

	first, second := r.Members[0].UserID, r.Members[1].UserID
	if c.coinFlip() {
		first, second = second, first
	}
	ta := TurnAssignment{
		RoomID:    roomID,
		GoesFirst: first,
		HostID:    r.HostID(),
		Player1:   first,
		Player2:   second,
	}
	c.turns[roomID] = ta
	r.Status = StatusBattle
	r.Ranked = r.Ranked || ranked
	ranked = r.Ranked
	for _, m := range r.Members {
		m.Ready = false
	}
	c.mu.Unlock()

	if c.sessions != nil {
		if _, err := c.sessions.Create(ctx, roomID, first.String(), second.String(), ranked); err != nil {
			c.log.WithFields(logrus.Fields{"room_id": roomID, "error": err}).
				Warn("session store unavailable, battle continues without snapshot")
		}
	}
	return ta, nil
}

func (c *Coordinator) coinFlip() bool {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng.Intn(2) == 1
}

// Ready answers a member's battle-ready handshake.
func (c *Coordinator) Ready(roomID string, userID uuid.UUID) (ReadyInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ta, ok := c.turns[roomID]
	if !ok {
		c.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).
			Warn("battle ready before start, no turn assignment")
		return ReadyInfo{}, false
	}
	r, ok := c.rooms[roomID]
	if !ok || r.indexOf(userID) < 0 {
		return ReadyInfo{}, false
	}
	return ReadyInfo{
		GoesFirst: ta.GoesFirst == userID,
		IsHost:    ta.HostID == userID,
	}, true
}

// Turn returns the room's turn assignment if the battle has started.
func (c *Coordinator) Turn(roomID string) (TurnAssignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ta, ok := c.turns[roomID]
	return ta, ok
}

// SetReady toggles a member's lobby ready flag.
func (c *Coordinator) SetReady(roomID string, userID uuid.UUID, ready bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	i := r.indexOf(userID)
	if i < 0 {
		return ErrNotMember
	}
	r.Members[i].Ready = ready
	return nil
}

// MarkRanked flags a lobby created by matchmaking so its battle is rated.
func (c *Coordinator) MarkRanked(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	if !ok {
		return false
	}
	r.Ranked = true
	return true
}

// SwapConnection points userID's membership in roomID at connID.
func (c *Coordinator) SwapConnection(roomID string, userID uuid.UUID, connID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	if !ok {
		return false
	}
	i := r.indexOf(userID)
	if i < 0 {
		return false
	}
	r.Members[i].ConnID = connID
	return true
}

// Get returns a copy of the room.
func (c *Coordinator) Get(roomID string) (*Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// Members returns a copy of the member list in join order.
func (c *Coordinator) Members(roomID string) []Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Member, len(r.Members))
	for i, m := range r.Members {
		out[i] = *m
	}
	return out
}

// IsMember reports whether userID belongs to roomID.
func (c *Coordinator) IsMember(roomID string, userID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	return ok && r.indexOf(userID) >= 0
}

// Delete drops a room and its turn assignment. Returns false if it was already gone.
func (c *Coordinator) Delete(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	delete(c.turns, roomID)
	return ok
}

// RoomsOf lists the ids of every room userID is a member of.
func (c *Coordinator) RoomsOf(userID uuid.UUID) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for id, r := range c.rooms {
		if r.indexOf(userID) >= 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// List returns copies of all rooms ordered by id.
func (c *Coordinator) List() []*Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of rooms.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}
