package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/voicebattle/internal/models"
)

// ErrUserNotFound is returned when no users row matches.
var ErrUserNotFound = errors.New("user not found")

// ProfileStore reads display snapshots and writes ranked results against the users table.
type ProfileStore struct {
	pool *pgxpool.Pool
}

// NewProfileStore wraps pool.
func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

// CreateUser inserts a user, generating an id when none is set.
func (s *ProfileStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}
	if user.EloRating == 0 {
		user.EloRating = models.DefaultEloRating
	}

	q := `INSERT INTO users (id, nickname, avatar_url, elo_rating, wins, losses)
	      VALUES ($1, $2, $3, $4, $5, $6)`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			user.ID, user.Nickname, user.AvatarURL,
			user.EloRating, user.Wins, user.Losses,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByID loads a single user.
func (s *ProfileStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return getUser(ctx, s.pool, id, false)
}

// GetDisplay returns the nickname/rating/avatar snapshot for id.
func (s *ProfileStore) GetDisplay(ctx context.Context, id uuid.UUID) (models.Display, error) {
	u, err := s.GetUserByID(ctx, id)
	if err != nil {
		return models.Display{}, err
	}
	d := u.Display()
	if d.AvatarURL == "" {
		d.AvatarURL = models.DefaultAvatarURL
	}
	return d, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getUser(ctx context.Context, q rowQuerier, id uuid.UUID, forUpdate bool) (*models.User, error) {
	sql := `
	SELECT id, nickname, avatar_url, elo_rating, wins, losses
	FROM users
	WHERE id=$1
	`
	if forUpdate {
		sql += " FOR UPDATE"
	}
	var u models.User
	err := q.QueryRow(ctx, sql, id).Scan(
		&u.ID, &u.Nickname, &u.AvatarURL,
		&u.EloRating, &u.Wins, &u.Losses,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return &u, nil
}
