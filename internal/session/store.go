// internal/session/store.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/voicebattle/internal/keylock"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrBattleNotFound is returned when no snapshot exists (never created, deleted, or expired).
	ErrBattleNotFound = errors.New("battle not found")
	// ErrNotParticipant is returned when an attacker is not one of the two players.
	ErrNotParticipant = errors.New("user is not a participant in this battle")
)

const (
	// DefaultPrefix namespaces snapshot keys.
	DefaultPrefix = "battle:"
	// DefaultTTL bounds how long an abandoned snapshot survives.
	DefaultTTL = time.Hour
)

// Store persists battle snapshots in Redis with a sliding TTL. Read-modify-write
// operations are serialized per battle id within this process.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	locks  *keylock.KeyLock
}

// NewStore wraps rdb. A zero ttl selects DefaultTTL.
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		rdb:    rdb,
		prefix: DefaultPrefix,
		ttl:    ttl,
		locks:  keylock.New(),
	}
}

func (s *Store) key(battleID string) string {
	return s.prefix + battleID
}

// Create writes a fresh snapshot, replacing any prior value under the same id.
func (s *Store) Create(ctx context.Context, battleID, player1ID, player2ID string, ranked bool) (*Snapshot, error) {
	snap := &Snapshot{
		BattleID:    battleID,
		Player1ID:   player1ID,
		Player2ID:   player2ID,
		Player1HP:   InitialHP,
		Player2HP:   InitialHP,
		CurrentTurn: 1,
		RoundNumber: 1,
		Status:      StatusCharacterSelect,
		IsRanked:    ranked,
	}

	unlock := s.locks.Lock(battleID)
	defer unlock()
	if err := s.put(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Get loads a snapshot.
func (s *Store) Get(ctx context.Context, battleID string) (*Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.key(battleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrBattleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to GET battle %s: %w", battleID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode battle %s: %w", battleID, err)
	}
	return &snap, nil
}

// ApplyDamage subtracts amount from the attacker's opponent, flips the turn and
// persists the result. A finished battle is returned unchanged.
func (s *Store) ApplyDamage(ctx context.Context, battleID, attackerID string, amount int) (*DamageResult, error) {
	unlock := s.locks.Lock(battleID)
	defer unlock()

	snap, err := s.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if !snap.IsParticipant(attackerID) {
		return nil, ErrNotParticipant
	}
	if snap.Status == StatusFinished {
		return resultFrom(snap, attackerID, 0, false), nil
	}

	snap.applyDamage(attackerID, amount)
	if err := s.put(ctx, snap); err != nil {
		return nil, err
	}
	return resultFrom(snap, attackerID, max(0, amount), true), nil
}

// SetCharacter records userID's character. Once both sides have one the
// battle moves to StatusBattle. Returns false for an unknown battle.
func (s *Store) SetCharacter(ctx context.Context, battleID, userID, characterID string) (bool, error) {
	unlock := s.locks.Lock(battleID)
	defer unlock()

	snap, err := s.Get(ctx, battleID)
	if errors.Is(err, ErrBattleNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if snap.Status == StatusFinished {
		return true, nil
	}

	switch userID {
	case snap.Player1ID:
		snap.Player1CharacterID = &characterID
	case snap.Player2ID:
		snap.Player2CharacterID = &characterID
	default:
		return false, ErrNotParticipant
	}
	if snap.CharactersReady() {
		snap.Status = StatusBattle
	}

	if err := s.put(ctx, snap); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the snapshot. Deleting a missing battle is not an error.
func (s *Store) Delete(ctx context.Context, battleID string) error {
	if err := s.rdb.Del(ctx, s.key(battleID)).Err(); err != nil {
		return fmt.Errorf("failed to DEL battle %s: %w", battleID, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal battle %s: %w", snap.BattleID, err)
	}
	if err := s.rdb.Set(ctx, s.key(snap.BattleID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to SET battle %s: %w", snap.BattleID, err)
	}
	return nil
}
