package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/database"
	"github.com/jason-s-yu/voicebattle/internal/models"
	"github.com/jason-s-yu/voicebattle/internal/registry"
	"github.com/jason-s-yu/voicebattle/internal/room"
	"github.com/jason-s-yu/voicebattle/internal/session"
	"github.com/sirupsen/logrus"
)

// errNoBattle is returned by resolveBattle when the payload names no battle
// and the sender has no room in battle.
var errNoBattle = reject(CodeBadPayload, "battle_id is required")

// resolveBattle returns the payload's battle id, or the sender's only room in
// battle when the payload names none.
func (g *Gateway) resolveBattle(c *registry.Connection, p battlePayload) (string, error) {
	if id := p.id(); id != "" {
		return id, nil
	}
	var found string
	for _, roomID := range g.rooms.RoomsOf(c.UserID) {
		r, ok := g.rooms.Get(roomID)
		if !ok || r.Status != room.StatusBattle {
			continue
		}
		if found != "" {
			return "", reject(CodeBadPayload, "battle_id is required")
		}
		found = roomID
	}
	if found == "" {
		return "", errNoBattle
	}
	return found, nil
}

// battleMember checks that c may act in battleID. ok is false for an unknown
// room, which callers treat as an already-resolved battle.
func (g *Gateway) battleMember(battleID string, c *registry.Connection) (ok bool, err error) {
	r, found := g.rooms.Get(battleID)
	if !found {
		g.log.WithFields(logrus.Fields{"battle_id": battleID, "user_id": c.UserID}).Debug("event for unknown battle ignored")
		return false, nil
	}
	if !g.rooms.IsMember(battleID, c.UserID) {
		return false, reject(CodeNotMember, "not a member of this battle")
	}
	if r.Status != room.StatusBattle {
		return false, reject(CodeNotStarted, "battle has not started")
	}
	return true, nil
}

func (g *Gateway) handleBattleReady(ctx context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p battlePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	battleID, err := g.resolveBattle(c, p)
	if errors.Is(err, errNoBattle) {
		g.log.WithField("user_id", c.UserID).Warn("battle ready before any battle started")
		return nil
	}
	if err != nil {
		return err
	}

	info, ok := g.rooms.Ready(battleID, c.UserID)
	if !ok {
		return nil
	}

	data := map[string]interface{}{
		"battle_id":  battleID,
		"goes_first": info.GoesFirst,
		"is_host":    info.IsHost,
	}
	for _, m := range g.rooms.Members(battleID) {
		if m.UserID != c.UserID {
			data["opponent"] = m.Info()
		}
	}

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	snap, err := g.sessions.Get(sctx, battleID)
	switch {
	case err == nil:
		data["battle"] = snap
	case errors.Is(err, session.ErrBattleNotFound):
	default:
		g.metrics.StoreErrors.WithLabelValues("get").Inc()
		g.log.WithFields(logrus.Fields{"battle_id": battleID, "error": err}).Warn("battle init without snapshot")
	}

	c.Write(models.NewEvent(OutBattleInit, data))
	return nil
}

func (g *Gateway) handleCharacterSelect(_ context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p characterPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	battleID, err := g.resolveBattle(c, p.battlePayload)
	if err != nil {
		return err
	}

	unlock := g.roomLocks.Lock(battleID)
	defer unlock()

	if ok, err := g.battleMember(battleID, c); !ok {
		return err
	}
	g.broadcastRoom(battleID, models.NewEvent(OutCharacterSelected, map[string]interface{}{
		"battle_id":    battleID,
		"user_id":      c.UserID.String(),
		"character_id": p.CharacterID,
	}))
	return nil
}

func (g *Gateway) handleCharacterConfirm(ctx context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p characterPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if p.CharacterID == "" {
		return reject(CodeBadPayload, "character_id is required")
	}
	battleID, err := g.resolveBattle(c, p.battlePayload)
	if err != nil {
		return err
	}

	unlock := g.roomLocks.Lock(battleID)
	defer unlock()

	if ok, err := g.battleMember(battleID, c); !ok {
		return err
	}

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()

	bothReady := false
	found, err := g.sessions.SetCharacter(sctx, battleID, c.UserID.String(), p.CharacterID)
	switch {
	case errors.Is(err, session.ErrNotParticipant):
		return rejectFor(err)
	case err != nil:
		g.metrics.StoreErrors.WithLabelValues("set_character").Inc()
		g.log.WithFields(logrus.Fields{"battle_id": battleID, "error": err}).Warn("character confirm degraded")
	case found:
		if snap, err := g.sessions.Get(sctx, battleID); err == nil {
			bothReady = snap.CharactersReady()
		}
	}

	g.broadcastRoom(battleID, models.NewEvent(OutCharacterConfirmed, map[string]interface{}{
		"battle_id":    battleID,
		"user_id":      c.UserID.String(),
		"character_id": p.CharacterID,
		"both_ready":   bothReady,
	}))
	return nil
}

func (g *Gateway) handleCountdown(_ context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p countdownPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	battleID, err := g.resolveBattle(c, p.battlePayload)
	if err != nil {
		return err
	}

	unlock := g.roomLocks.Lock(battleID)
	defer unlock()

	if ok, err := g.battleMember(battleID, c); !ok {
		return err
	}
	g.broadcastRoom(battleID, models.NewEvent(OutBattleCountdown, map[string]interface{}{
		"battle_id": battleID,
		"count":     p.Count,
	}))
	return nil
}

func (g *Gateway) handleBattleStart(_ context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p battlePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	battleID, err := g.resolveBattle(c, p)
	if err != nil {
		return err
	}

	unlock := g.roomLocks.Lock(battleID)
	defer unlock()

	if ok, err := g.battleMember(battleID, c); !ok {
		return err
	}
	g.broadcastRoom(battleID, models.NewEvent(OutBattleStart, map[string]interface{}{
		"battle_id":  battleID,
		"started_by": c.UserID.String(),
		"started_at": g.clock.Now().UnixMilli(),
	}))
	return nil
}

// attackEvent builds battle:damage_received. res is nil when the session
// store could not be consulted; the event then carries no HP.
func attackEvent(battleID string, attacker uuid.UUID, d DamageData, res *session.DamageResult) map[string]interface{} {
	grade := d.Grade
	if grade == "" {
		grade = "F"
	}
	trigger := d.AnimationTrigger
	if trigger == "" {
		trigger = "miss"
	}
	damage := max(0, d.TotalDamage)

	data := map[string]interface{}{
		"battle_id":           battleID,
		"attacker_id":         attacker.String(),
		"damage":              damage,
		"base_damage":         d.BaseDamage,
		"cringe_bonus":        d.CringeBonus,
		"volume_bonus":        d.VolumeBonus,
		"accuracy_multiplier": d.AccuracyMultiple,
		"grade":               grade,
		"animation_trigger":   trigger,
		"is_critical":         d.IsCritical,
		"audio_url":           d.AudioURL,
		"degraded":            res == nil,
	}
	if res != nil {
		data["damage"] = res.Damage
		data["defender_id"] = res.DefenderID
		data["player1_hp"] = res.Player1HP
		data["player2_hp"] = res.Player2HP
		data["current_turn"] = res.CurrentTurn
		data["round_number"] = res.RoundNumber
		data["status"] = res.Status
		if res.WinnerID != "" {
			data["winner_id"] = res.WinnerID
		}
	}
	return data
}

func (g *Gateway) handleAttack(ctx context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p attackPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	battleID, err := g.resolveBattle(c, p.battlePayload)
	if err != nil {
		return err
	}

	unlock := g.roomLocks.Lock(battleID)
	defer unlock()

	if ok, err := g.battleMember(battleID, c); !ok {
		return err
	}

	sctx, cancel := g.storeCtx(ctx)
	res, err := g.sessions.ApplyDamage(sctx, battleID, c.UserID.String(), p.DamageData.TotalDamage)
	cancel()
	switch {
	case errors.Is(err, session.ErrNotParticipant):
		return rejectFor(err)
	case err != nil:
		res = nil
		g.metrics.StoreErrors.WithLabelValues("apply_damage").Inc()
		g.log.WithFields(logrus.Fields{"battle_id": battleID, "error": err}).Warn("attack broadcast without authoritative hp")
	case !res.Applied:
		return reject(CodeBattleOver, "battle is already finished")
	}

	data := attackEvent(battleID, c.UserID, p.DamageData, res)
	g.broadcastRoom(battleID, models.NewEvent(OutDamageReceived, data))
	g.publish(ctx, battleID, c.UserID, "attack", data)

	if res != nil && res.Status == session.StatusFinished {
		return g.finishLocked(ctx, battleID, res.WinnerID, nil)
	}
	return nil
}

func (g *Gateway) handleResult(ctx context.Context, c *registry.Connection, payload json.RawMessage) error {
	var p resultPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	battleID, err := g.resolveBattle(c, p.battlePayload)
	if err != nil {
		return err
	}

	unlock := g.roomLocks.Lock(battleID)
	defer unlock()

	if _, found := g.rooms.Get(battleID); !found {
		g.log.WithFields(logrus.Fields{"battle_id": battleID}).Debug("result for finished battle ignored")
		return nil
	}
	if !g.rooms.IsMember(battleID, c.UserID) {
		return reject(CodeNotMember, "not a member of this battle")
	}
	return g.finishLocked(ctx, battleID, p.WinnerID, p.Stats)
}

// finishLocked broadcasts the result and tears the battle down. The stored
// winner wins over a client claim once the snapshot is finished. Call with
// the room lock held.
func (g *Gateway) finishLocked(ctx context.Context, battleID, winnerID string, stats map[string]interface{}) error {
	r, ok := g.rooms.Get(battleID)
	if !ok {
		return nil
	}

	sctx, cancel := g.storeCtx(ctx)
	snap, err := g.sessions.Get(sctx, battleID)
	cancel()
	if err != nil && !errors.Is(err, session.ErrBattleNotFound) {
		g.metrics.StoreErrors.WithLabelValues("get").Inc()
		g.log.WithFields(logrus.Fields{"battle_id": battleID, "error": err}).Warn("result without snapshot")
	}
	if snap != nil && snap.Status == session.StatusFinished && snap.WinnerID != "" {
		winnerID = snap.WinnerID
	}

	winner, err := uuid.Parse(winnerID)
	if err != nil {
		return reject(CodeBadPayload, "winner_id is invalid")
	}
	var loser uuid.UUID
	isMember := false
	for _, m := range r.Members {
		if m.UserID == winner {
			isMember = true
		} else {
			loser = m.UserID
		}
	}
	if !isMember {
		return reject(CodeBadPayload, "winner_id is not in this battle")
	}

	ranked := r.Ranked || (snap != nil && snap.IsRanked)
	data := map[string]interface{}{
		"battle_id": battleID,
		"winner_id": winner.String(),
		"is_ranked": ranked,
		"stats":     stats,
	}
	if loser != uuid.Nil {
		data["loser_id"] = loser.String()
	}
	if snap != nil {
		data["player1_id"] = snap.Player1ID
		data["player2_id"] = snap.Player2ID
		data["player1_hp"] = snap.Player1HP
		data["player2_hp"] = snap.Player2HP
		data["round_number"] = snap.RoundNumber
	}
	if ranked && loser != uuid.Nil && g.profiles != nil {
		if changes, ok := g.recordRatings(ctx, battleID, winner, loser); ok {
			data["rating_changes"] = []database.RatingChange{changes.Winner, changes.Loser}
		}
	}

	g.broadcastRoom(battleID, models.NewEvent(OutBattleResult, data))
	g.publish(ctx, battleID, winner, "battle_result", data)

	members := g.rooms.Members(battleID)
	g.rooms.Delete(battleID)
	for _, m := range members {
		if conn, ok := g.reg.Get(m.ConnID); ok {
			conn.LeaveRoom(battleID)
		}
	}
	g.releaseBattle(ctx, battleID)
	g.metrics.BattlesEnded.WithLabelValues(strconv.FormatBool(ranked)).Inc()

	g.log.WithFields(logrus.Fields{"battle_id": battleID, "winner_id": winner, "ranked": ranked}).Info("battle finished")
	return nil
}

func (g *Gateway) recordRatings(ctx context.Context, battleID string, winner, loser uuid.UUID) (database.MatchResult, bool) {
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	res, err := g.profiles.ApplyMatchResult(sctx, battleID, winner, loser)
	switch {
	case err == nil:
		return res, true
	case errors.Is(err, database.ErrResultAlreadyRecorded):
		g.log.WithFields(logrus.Fields{"battle_id": battleID}).Debug("ratings already recorded")
	default:
		g.log.WithFields(logrus.Fields{"battle_id": battleID, "error": err}).Error("failed to record ratings")
	}
	return database.MatchResult{}, false
}

// releaseBattle drops the snapshot and the battle's media. Failures are logged.
func (g *Gateway) releaseBattle(ctx context.Context, battleID string) {
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	if err := g.sessions.Delete(sctx, battleID); err != nil {
		g.metrics.StoreErrors.WithLabelValues("delete").Inc()
		g.log.WithFields(logrus.Fields{"battle_id": battleID, "error": err}).Warn("failed to delete battle snapshot")
	}
	if g.media == nil {
		return
	}
	if err := g.media.Cleanup(battleID); err != nil {
		g.log.WithFields(logrus.Fields{"battle_id": battleID, "error": err}).Warn("media cleanup failed")
	}
}
