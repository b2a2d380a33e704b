package session

// Status is the lifecycle stage of a battle snapshot.
type Status string

const (
	StatusWaiting         Status = "waiting"
	StatusCharacterSelect Status = "character_select"
	StatusBattle          Status = "battle"
	StatusFinished        Status = "finished"
)

// InitialHP is the hit points each side starts with; HP never leaves [0, InitialHP].
const InitialHP = 300

// Snapshot is the authoritative battle state persisted under battle:<id>.
type Snapshot struct {
	BattleID           string  `json:"battle_id"`
	Player1ID          string  `json:"player1_id"`
	Player2ID          string  `json:"player2_id"`
	Player1HP          int     `json:"player1_hp"`
	Player2HP          int     `json:"player2_hp"`
	Player1CharacterID *string `json:"player1_character_id"`
	Player2CharacterID *string `json:"player2_character_id"`
	CurrentTurn        int     `json:"current_turn"`
	RoundNumber        int     `json:"round_number"`
	Status             Status  `json:"status"`
	IsRanked           bool    `json:"is_ranked"`
	WinnerID           string  `json:"winner_id,omitempty"`
}

// IsParticipant reports whether userID is one of the two players.
func (s *Snapshot) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.Player1ID || userID == s.Player2ID)
}

// Opponent returns the other participant, or "" for a non-participant.
func (s *Snapshot) Opponent(userID string) string {
	switch userID {
	case s.Player1ID:
		return s.Player2ID
	case s.Player2ID:
		return s.Player1ID
	}
	return ""
}

// CharactersReady reports whether both slots have a confirmed character.
func (s *Snapshot) CharactersReady() bool {
	return s.Player1CharacterID != nil && s.Player2CharacterID != nil
}

// DamageResult is the post-attack state returned by ApplyDamage.
type DamageResult struct {
	BattleID    string `json:"battle_id"`
	AttackerID  string `json:"attacker_id"`
	DefenderID  string `json:"defender_id"`
	Damage      int    `json:"damage"`
	Player1HP   int    `json:"player1_hp"`
	Player2HP   int    `json:"player2_hp"`
	CurrentTurn int    `json:"current_turn"`
	RoundNumber int    `json:"round_number"`
	Status      Status `json:"status"`
	WinnerID    string `json:"winner_id,omitempty"`

	// Applied is false when the snapshot was already finished and left untouched.
	Applied bool `json:"-"`
}

func resultFrom(s *Snapshot, attackerID string, damage int, applied bool) *DamageResult {
	return &DamageResult{
		BattleID:    s.BattleID,
		AttackerID:  attackerID,
		DefenderID:  s.Opponent(attackerID),
		Damage:      damage,
		Player1HP:   s.Player1HP,
		Player2HP:   s.Player2HP,
		CurrentTurn: s.CurrentTurn,
		RoundNumber: s.RoundNumber,
		Status:      s.Status,
		WinnerID:    s.WinnerID,
		Applied:     applied,
	}
}

// applyDamage mutates s in place for one attack. Callers have already checked
// that attackerID is a participant and the battle is not finished.
func (s *Snapshot) applyDamage(attackerID string, amount int) {
	if amount < 0 {
		amount = 0
	}

	if attackerID == s.Player1ID {
		s.Player2HP = max(0, s.Player2HP-amount)
	} else {
		s.Player1HP = max(0, s.Player1HP-amount)
	}

	// The turn flips on every attack regardless of who sent it.
	if s.CurrentTurn == 1 {
		s.CurrentTurn = 2
	} else {
		s.CurrentTurn = 1
		s.RoundNumber++
	}

	switch {
	case s.Player1HP == 0:
		s.Status = StatusFinished
		s.WinnerID = s.Player2ID
	case s.Player2HP == 0:
		s.Status = StatusFinished
		s.WinnerID = s.Player1ID
	default:
		s.Status = StatusBattle
	}
}
