package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied by Migrate. The users table is shared with the profile
// service; only the columns read or written here are declared.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          UUID PRIMARY KEY,
	nickname    TEXT NOT NULL,
	avatar_url  TEXT NOT NULL DEFAULT '',
	elo_rating  INTEGER NOT NULL DEFAULT 1200,
	wins        INTEGER NOT NULL DEFAULT 0,
	losses      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ratings (
	user_id     UUID NOT NULL REFERENCES users(id),
	battle_id   TEXT NOT NULL,
	old_rating  INTEGER NOT NULL,
	new_rating  INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, battle_id)
);

CREATE TABLE IF NOT EXISTS battle_events (
	id            BIGSERIAL PRIMARY KEY,
	battle_id     TEXT NOT NULL,
	actor_user_id UUID,
	event_type    TEXT NOT NULL,
	payload       JSONB NOT NULL DEFAULT '{}',
	occurred_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS battle_events_battle_id_idx ON battle_events (battle_id);
`

// Migrate creates the tables this service owns if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
