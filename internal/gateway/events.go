package gateway

import (
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	EvRoomJoin         = "room_join"
	EvRoomLeave        = "room_leave"
	EvRoomReady        = "room_ready"
	EvGameStart        = "game_start"
	EvBattleReady      = "battle:ready"
	EvJoinQueue        = "match:join_queue"
	EvLeaveQueue       = "match:leave_queue"
	EvCharacterSelect  = "character:select"
	EvCharacterConfirm = "character:confirm"
	EvBattleCountdown  = "battle:countdown"
	EvBattleStart      = "battle:start"
	EvBattleAttack     = "battle_attack"
	EvBattleResult     = "battle_result"
	EvChatMessage      = "chat_message"
	EvPing             = "ping"
)

// Outbound event names.
const (
	OutConnected          = "connected"
	OutUserCount          = "user:count"
	OutExistingPlayers    = "room:existing_players"
	OutPlayerJoined       = "room:player_joined"
	OutPlayerLeft         = "room:player_left"
	OutHostChanged        = "room:host_changed"
	OutPlayerReady        = "room:player_ready"
	OutGameStart          = "room:game_start"
	OutBattleInit         = "battle:init"
	OutBattleCountdown    = "battle:countdown"
	OutBattleStart        = "battle:start"
	OutDamageReceived     = "battle:damage_received"
	OutBattleResult       = "battle:result"
	OutCharacterSelected  = "character:selected"
	OutCharacterConfirmed = "character:confirmed"
	OutChatMessage        = "chat:new_message"
	OutMatchSearching     = "match:searching"
	OutMatchFound         = "match:found"
	OutMatchCancelled     = "match:cancelled"
	OutPong               = "pong"
)

// MaxChatLength caps relayed chat messages, in runes.
const MaxChatLength = 500

type roomPayload struct {
	RoomID string `json:"room_id"`
}

type readyPayload struct {
	RoomID  string `json:"room_id"`
	IsReady bool   `json:"is_ready"`
}

type gameStartPayload struct {
	RoomID   string `json:"room_id"`
	IsRanked bool   `json:"is_ranked"`
}

type battlePayload struct {
	BattleID string `json:"battle_id"`
	RoomID   string `json:"room_id"`
}

// id prefers battle_id and falls back to room_id; both name the same room.
func (p battlePayload) id() string {
	if p.BattleID != "" {
		return p.BattleID
	}
	return p.RoomID
}

type characterPayload struct {
	battlePayload
	CharacterID string `json:"character_id"`
}

type countdownPayload struct {
	battlePayload
	Count int `json:"count"`
}

// DamageData is the client-computed attack summary. Only TotalDamage affects
// HP; the rest is forwarded for presentation.
type DamageData struct {
	TotalDamage      int     `json:"total_damage"`
	BaseDamage       int     `json:"base_damage"`
	CringeBonus      int     `json:"cringe_bonus"`
	VolumeBonus      int     `json:"volume_bonus"`
	AccuracyMultiple float64 `json:"accuracy_multiplier"`
	Grade            string  `json:"grade"`
	AnimationTrigger string  `json:"animation_trigger"`
	IsCritical       bool    `json:"is_critical"`
	AudioURL         string  `json:"audio_url"`
}

type attackPayload struct {
	battlePayload
	DamageData DamageData `json:"damage_data"`
}

type resultPayload struct {
	battlePayload
	WinnerID string                 `json:"winner_id"`
	Stats    map[string]interface{} `json:"stats"`
}

type chatPayload struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

// decode unmarshals a handler payload. An absent payload leaves v zeroed.
func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return reject(CodeBadPayload, fmt.Sprintf("invalid payload: %v", err))
	}
	return nil
}
