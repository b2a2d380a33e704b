package gateway

import (
	"errors"

	"github.com/jason-s-yu/voicebattle/internal/room"
	"github.com/jason-s-yu/voicebattle/internal/session"
)

// Error codes carried by the "error" event.
const (
	CodeInvalidJSON   = "invalid_json"
	CodeUnknownEvent  = "unknown_event"
	CodeBadPayload    = "bad_payload"
	CodeRateLimited   = "rate_limited"
	CodeRoomFull      = "room_full"
	CodeRoomInBattle  = "room_in_battle"
	CodeNotMember     = "not_in_room"
	CodeNotHost       = "not_host"
	CodeNotEnough     = "not_enough_players"
	CodeAlreadyStart  = "already_started"
	CodeNotStarted    = "battle_not_started"
	CodeNotInBattle   = "not_participant"
	CodeBattleOver    = "battle_finished"
	CodeRoomNotFound  = "room_not_found"
	CodeInternalError = "internal_error"
)

// Rejection is an invariant violation reported to the requester only. No
// state changes when a handler returns one.
type Rejection struct {
	Code    string
	Message string
}

func (r *Rejection) Error() string { return r.Code + ": " + r.Message }

func reject(code, msg string) error {
	return &Rejection{Code: code, Message: msg}
}

// rejectFor maps domain errors to a Rejection; unknown errors pass through.
func rejectFor(err error) error {
	switch {
	case errors.Is(err, room.ErrRoomFull):
		return reject(CodeRoomFull, err.Error())
	case errors.Is(err, room.ErrRoomInBattle):
		return reject(CodeRoomInBattle, err.Error())
	case errors.Is(err, room.ErrNotMember):
		return reject(CodeNotMember, err.Error())
	case errors.Is(err, room.ErrNotHost):
		return reject(CodeNotHost, err.Error())
	case errors.Is(err, room.ErrNotEnoughPlayers):
		return reject(CodeNotEnough, err.Error())
	case errors.Is(err, room.ErrAlreadyStarted):
		return reject(CodeAlreadyStart, err.Error())
	case errors.Is(err, room.ErrRoomNotFound):
		return reject(CodeRoomNotFound, err.Error())
	case errors.Is(err, session.ErrNotParticipant):
		return reject(CodeNotInBattle, err.Error())
	}
	return err
}
