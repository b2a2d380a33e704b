package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/models"
	"github.com/jason-s-yu/voicebattle/internal/registry"
	"github.com/jason-s-yu/voicebattle/internal/room"
	"github.com/sirupsen/logrus"
)

func playersOf(members []room.Member) []models.PlayerInfo {
	out := make([]models.PlayerInfo, 0, len(members))
	for _, m := range members {
		out = append(out, m.Info())
	}
	return out
}

func requireRoomID(id string) error {
	if strings.TrimSpace(id) == "" {
		return reject(CodeBadPayload, "room_id is required")
	}
	return nil
}

func (g *Gateway) handleRoomJoin(_ context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p roomPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if err := requireRoomID(p.RoomID); err != nil {
		return err
	}

	unlock := g.roomLocks.Lock(p.RoomID)
	defer unlock()

	// Admit swaps seats under this lock, so a stale connection must not rejoin.
	if !g.reg.IsActive(c.ID) {
		return nil
	}

	res, err := g.rooms.Join(p.RoomID, room.Member{
		UserID:  c.UserID,
		ConnID:  c.ID,
		Display: c.Display,
	})
	if err != nil {
		return rejectFor(err)
	}
	c.JoinRoom(p.RoomID)

	c.Write(models.NewEvent(OutExistingPlayers, map[string]interface{}{
		"room_id":  p.RoomID,
		"players":  playersOf(res.Others),
		"host_id":  res.Room.HostID().String(),
		"is_host":  res.Room.HostID() == c.UserID,
		"status":   res.Room.Status,
		"rejoined": res.Rejoined,
	}))

	if res.Rejoined {
		g.log.WithFields(logrus.Fields{"room_id": p.RoomID, "user_id": c.UserID}).Debug("room rejoin")
		return nil
	}

	g.log.WithFields(logrus.Fields{"room_id": p.RoomID, "user_id": c.UserID, "created": res.Created}).Info("player joined room")
	g.broadcastRoom(p.RoomID, models.NewEvent(OutPlayerJoined, map[string]interface{}{
		"room_id":      p.RoomID,
		"user_id":      c.UserID.String(),
		"nickname":     c.Display.Nickname,
		"elo_rating":   c.Display.EloRating,
		"avatar_url":   c.Display.AvatarURL,
		"player_count": res.Room.PlayerCount(),
	}))
	return nil
}

func (g *Gateway) handleRoomLeave(ctx context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p roomPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if err := requireRoomID(p.RoomID); err != nil {
		return err
	}

	unlock := g.roomLocks.Lock(p.RoomID)
	defer unlock()

	err := g.leaveRoomLocked(ctx, p.RoomID, c.UserID)
	if errors.Is(err, room.ErrRoomNotFound) || errors.Is(err, room.ErrNotMember) {
		g.log.WithFields(logrus.Fields{"room_id": p.RoomID, "user_id": c.UserID}).Debug("leave for unknown membership ignored")
		return nil
	}
	return err
}

// leaveRoomLocked removes userID from roomID and tells the remaining members.
// A battle abandoned by its last member has its snapshot and media released.
// Call with the room lock held.
func (g *Gateway) leaveRoomLocked(ctx context.Context, roomID string, userID uuid.UUID) error {
	res, err := g.rooms.Leave(roomID, userID)
	if err != nil {
		return err
	}
	if conn, ok := g.reg.Active(userID); ok {
		conn.LeaveRoom(roomID)
	}

	g.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "deleted": res.Deleted}).Info("player left room")

	if res.Deleted {
		if res.Room.Status == room.StatusBattle {
			g.releaseBattle(ctx, roomID)
		}
		return nil
	}

	g.broadcastRoom(roomID, models.NewEvent(OutPlayerLeft, map[string]interface{}{
		"room_id":      roomID,
		"user_id":      userID.String(),
		"player_count": len(res.Room.Members),
	}))
	if res.HostChanged {
		g.broadcastRoom(roomID, models.NewEvent(OutHostChanged, map[string]interface{}{
			"room_id":     roomID,
			"new_host_id": res.NewHostID.String(),
		}))
	}
	return nil
}

func (g *Gateway) handleRoomReady(_ context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p readyPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if err := requireRoomID(p.RoomID); err != nil {
		return err
	}

	unlock := g.roomLocks.Lock(p.RoomID)
	defer unlock()

	if err := g.rooms.SetReady(p.RoomID, c.UserID, p.IsReady); err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return nil
		}
		return rejectFor(err)
	}
	g.broadcastRoom(p.RoomID, models.NewEvent(OutPlayerReady, map[string]interface{}{
		"room_id":  p.RoomID,
		"user_id":  c.UserID.String(),
		"is_ready": p.IsReady,
	}))
	return nil
}

func (g *Gateway) handleGameStart(ctx context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p gameStartPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if err := requireRoomID(p.RoomID); err != nil {
		return err
	}

	unlock := g.roomLocks.Lock(p.RoomID)
	defer unlock()

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	ta, err := g.rooms.StartBattle(sctx, p.RoomID, c.UserID, p.IsRanked)
	if err != nil {
		return rejectFor(err)
	}

	r, _ := g.rooms.Get(p.RoomID)
	ranked := p.IsRanked || (r != nil && r.Ranked)
	g.metrics.BattlesStarted.Inc()
	g.log.WithFields(logrus.Fields{
		"room_id":    p.RoomID,
		"host_id":    ta.HostID,
		"goes_first": ta.GoesFirst,
		"ranked":     ranked,
	}).Info("battle started")

	g.broadcastRoom(p.RoomID, models.NewEvent(OutGameStart, map[string]interface{}{
		"room_id":    p.RoomID,
		"battle_id":  p.RoomID,
		"host_id":    ta.HostID.String(),
		"player1_id": ta.Player1.String(),
		"player2_id": ta.Player2.String(),
		"players":    playersOf(g.rooms.Members(p.RoomID)),
		"is_ranked":  ranked,
	}))
	g.publish(ctx, p.RoomID, c.UserID, "battle_started", map[string]interface{}{
		"player1_id": ta.Player1.String(),
		"player2_id": ta.Player2.String(),
		"is_ranked":  ranked,
	})
	return nil
}

func (g *Gateway) handleChat(_ context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p chatPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if err := requireRoomID(p.RoomID); err != nil {
		return err
	}
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		return reject(CodeBadPayload, "message is empty")
	}
	if utf8.RuneCountInString(msg) > MaxChatLength {
		return reject(CodeBadPayload, "message is too long")
	}

	unlock := g.roomLocks.Lock(p.RoomID)
	defer unlock()

	if !g.rooms.IsMember(p.RoomID, c.UserID) {
		return reject(CodeNotMember, "join the room before chatting")
	}
	g.broadcastRoom(p.RoomID, models.NewEvent(OutChatMessage, map[string]interface{}{
		"room_id":   p.RoomID,
		"user_id":   c.UserID.String(),
		"nickname":  c.Display.Nickname,
		"message":   msg,
		"timestamp": g.clock.Now().UnixMilli(),
	}))
	return nil
}
