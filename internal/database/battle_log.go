package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/voicebattle/internal/cache"
)

// BattleLog persists archived battle events.
type BattleLog struct {
	pool *pgxpool.Pool
}

// NewBattleLog wraps pool.
func NewBattleLog(pool *pgxpool.Pool) *BattleLog {
	return &BattleLog{pool: pool}
}

// InsertBattleEvents writes a batch of records in a single transaction.
func (b *BattleLog) InsertBattleEvents(ctx context.Context, records []cache.BattleEventRecord) error {
	return pgx.BeginTxFunc(ctx, b.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range records {
			if err := insertBattleEventTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertBattleEventTx: %w", err)
			}
		}
		return nil
	})
}

func insertBattleEventTx(ctx context.Context, tx pgx.Tx, rec cache.BattleEventRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	var actor *uuid.UUID
	if rec.ActorUserID != uuid.Nil {
		actor = &rec.ActorUserID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO battle_events (battle_id, actor_user_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.BattleID, actor, rec.EventType, payload, time.UnixMilli(rec.Timestamp))
	return err
}
