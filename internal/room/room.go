package room

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/models"
)

// Capacity is the number of players a room holds.
const Capacity = 2

// Status is the room lifecycle stage.
type Status string

const (
	StatusLobby  Status = "lobby"
	StatusBattle Status = "battle"
)

// Member is one player in a room. ConnID is the connection currently
// representing the player and changes across reconnects.
type Member struct {
	UserID  uuid.UUID      `json:"user_id"`
	ConnID  string         `json:"-"`
	Display models.Display `json:"display"`
	Ready   bool           `json:"is_ready"`
}

// Info returns the roster entry for m.
func (m Member) Info() models.PlayerInfo {
	return models.PlayerInfo{UserID: m.UserID, Display: m.Display}
}

// Room is an ordered set of members. Members[0] is the host and player 1.
type Room struct {
	ID      string    `json:"id"`
	Members []*Member `json:"members"`
	Status  Status    `json:"status"`
	Ranked  bool      `json:"is_ranked"`
}

// HostID returns the current host, or uuid.Nil for an empty room.
func (r *Room) HostID() uuid.UUID {
	if len(r.Members) == 0 {
		return uuid.Nil
	}
	return r.Members[0].UserID
}

// PlayerCount is the number of members.
func (r *Room) PlayerCount() int { return len(r.Members) }

// IsFull reports whether the room is at capacity.
func (r *Room) IsFull() bool { return len(r.Members) >= Capacity }

func (r *Room) indexOf(userID uuid.UUID) int {
	for i, m := range r.Members {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

// clone deep-copies the room so callers can read it without holding the lock.
func (r *Room) clone() *Room {
	out := &Room{ID: r.ID, Status: r.Status, Ranked: r.Ranked, Members: make([]*Member, len(r.Members))}
	for i, m := range r.Members {
		cp := *m
		out.Members[i] = &cp
	}
	return out
}

// TurnAssignment is decided once per battle and never changes.
type TurnAssignment struct {
	RoomID    string    `json:"room_id"`
	GoesFirst uuid.UUID `json:"goes_first"`
	HostID    uuid.UUID `json:"host_id"`
	Player1   uuid.UUID `json:"player1_id"`
	Player2   uuid.UUID `json:"player2_id"`
}

// ReadyInfo is what a client learns when it reports battle readiness.
type ReadyInfo struct {
	GoesFirst bool
	IsHost    bool
}

// JoinResult describes the outcome of Join.
type JoinResult struct {
	Room *Room
	// Others are the members other than the joiner, in join order.
	Others   []Member
	Rejoined bool
	Created  bool
}

// LeaveResult describes the outcome of Leave.
type LeaveResult struct {
	Room        *Room
	HostChanged bool
	NewHostID   uuid.UUID
	Deleted     bool
}
