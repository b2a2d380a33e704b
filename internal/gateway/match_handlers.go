package gateway

import (
	"context"
	"encoding/json"

	"github.com/jason-s-yu/voicebattle/internal/matchmaking"
	"github.com/jason-s-yu/voicebattle/internal/models"
	"github.com/jason-s-yu/voicebattle/internal/registry"
	"github.com/jason-s-yu/voicebattle/internal/room"
	"github.com/sirupsen/logrus"
)

func (g *Gateway) handleJoinQueue(_ context.Context, c *registry.Connection, _ json.RawMessage) error {
	m, matched := g.queue.Join(matchmaking.Entry{
		ConnID:   c.ID,
		UserID:   c.UserID,
		Display:  c.Display,
		QueuedAt: g.clock.Now(),
	})
	if !matched {
		c.Write(models.NewEvent(OutMatchSearching, map[string]interface{}{
			"queue_size": g.queue.Len(),
		}))
		return nil
	}

	roomID := m.BattleID
	unlock := g.roomLocks.Lock(roomID)
	defer unlock()

	// The player who waited longest hosts the battle room.
	for _, e := range []matchmaking.Entry{m.Waiting, m.Entrant} {
		if _, err := g.rooms.Join(roomID, room.Member{UserID: e.UserID, ConnID: e.ConnID, Display: e.Display}); err != nil {
			return err
		}
		if conn, ok := g.reg.Get(e.ConnID); ok {
			conn.JoinRoom(roomID)
		}
	}
	g.rooms.MarkRanked(roomID)

	g.log.WithFields(logrus.Fields{
		"battle_id": roomID,
		"host_id":   m.Waiting.UserID,
		"entrant":   m.Entrant.UserID,
	}).Info("match found")

	g.reg.SendTo(m.Waiting.ConnID, matchFound(roomID, m.Entrant, true))
	g.reg.SendTo(m.Entrant.ConnID, matchFound(roomID, m.Waiting, false))
	return nil
}

func matchFound(roomID string, opponent matchmaking.Entry, isHost bool) models.Event {
	return models.NewEvent(OutMatchFound, map[string]interface{}{
		"battle_id": roomID,
		"room_id":   roomID,
		"is_host":   isHost,
		"opponent": models.PlayerInfo{
			UserID:  opponent.UserID,
			Display: opponent.Display,
		},
	})
}

func (g *Gateway) handleLeaveQueue(_ context.Context, c *registry.Connection, _ json.RawMessage) error {
	removed := g.queue.Leave(c.ID)
	c.Write(models.NewEvent(OutMatchCancelled, map[string]interface{}{
		"was_queued": removed,
	}))
	return nil
}
