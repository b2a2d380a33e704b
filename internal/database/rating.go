package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/voicebattle/internal/models"
	"github.com/jason-s-yu/voicebattle/internal/rating"
)

// ErrResultAlreadyRecorded is returned when ratings already exist for a battle.
var ErrResultAlreadyRecorded = errors.New("battle result already recorded")

// RatingChange is one player's before/after rating for a ranked battle.
type RatingChange struct {
	UserID    uuid.UUID `json:"user_id"`
	OldRating int       `json:"old_rating"`
	NewRating int       `json:"new_rating"`
	Delta     int       `json:"delta"`
}

// MatchResult pairs the winner's and loser's rating changes.
type MatchResult struct {
	Winner RatingChange `json:"winner"`
	Loser  RatingChange `json:"loser"`
}

// ApplyMatchResult updates both players' ELO and win/loss counters and logs
// the change in ratings, all in one transaction. Rows are locked in id order
// so concurrent results touching the same players cannot deadlock.
func (s *ProfileStore) ApplyMatchResult(ctx context.Context, battleID string, winnerID, loserID uuid.UUID) (MatchResult, error) {
	var result MatchResult
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ratings WHERE battle_id = $1)`, battleID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrResultAlreadyRecorded
		}

		first, second := winnerID, loserID
		if bytes.Compare(first[:], second[:]) > 0 {
			first, second = second, first
		}
		users := make(map[uuid.UUID]*models.User, 2)
		for _, id := range []uuid.UUID{first, second} {
			u, err := getUser(ctx, tx, id, true)
			if err != nil {
				return err
			}
			users[id] = u
		}

		oldW, oldL := *users[winnerID], *users[loserID]
		newW, newL := rating.Update1v1(oldW, oldL)
		if err := commit1v1Tx(ctx, tx, battleID, oldW, oldL, newW, newL); err != nil {
			return err
		}

		result = MatchResult{
			Winner: RatingChange{UserID: winnerID, OldRating: oldW.EloRating, NewRating: newW.EloRating, Delta: newW.EloRating - oldW.EloRating},
			Loser:  RatingChange{UserID: loserID, OldRating: oldL.EloRating, NewRating: newL.EloRating, Delta: newL.EloRating - oldL.EloRating},
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrResultAlreadyRecorded) || errors.Is(err, ErrUserNotFound) {
			return MatchResult{}, err
		}
		return MatchResult{}, fmt.Errorf("failed to commit 1v1 match results: %w", err)
	}
	return result, nil
}

func commit1v1Tx(ctx context.Context, tx pgx.Tx, battleID string, oldW, oldL, newW, newL models.User) error {
	q := `UPDATE users SET elo_rating = $1, wins = $2, losses = $3 WHERE id = $4`
	if _, err := tx.Exec(ctx, q, newW.EloRating, newW.Wins, newW.Losses, newW.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, q, newL.EloRating, newL.Wins, newL.Losses, newL.ID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO ratings (user_id, battle_id, old_rating, new_rating)
		VALUES ($1, $2, $3, $4), ($5, $6, $7, $8)
	`,
		newW.ID, battleID, oldW.EloRating, newW.EloRating,
		newL.ID, battleID, oldL.EloRating, newL.EloRating,
	)
	return err
}
