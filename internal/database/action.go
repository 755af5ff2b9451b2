package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jason-s-yu/gameroom/internal/models"
)

// InsertMatchActions writes a batch of actions in one transaction. Each
// action upserts its match row first; an action already stored is skipped.
func (s *Store) InsertMatchActions(ctx context.Context, actions []models.MatchAction) error {
	if len(actions) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, a := range actions {
			if err := insertMatchActionTx(ctx, tx, a); err != nil {
				return fmt.Errorf("insert action %d of %s: %w", a.ActionIndex, a.MatchID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert match actions: %w", err)
	}
	return nil
}

func insertMatchActionTx(ctx context.Context, tx pgx.Tx, a models.MatchAction) error {
	at := time.UnixMilli(a.Timestamp)
	upsertMatch := `
		INSERT INTO matches (id, game, status, start_time, last_activity)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id)
		DO UPDATE SET last_activity = GREATEST(matches.last_activity, EXCLUDED.last_activity)
	`
	if _, err := tx.Exec(ctx, upsertMatch, a.MatchID, a.Game, StatusInProgress, at); err != nil {
		return err
	}

	payload, err := json.Marshal(a.ActionPayload)
	if err != nil {
		return err
	}
	var actor *uuid.UUID
	if a.ActorUserID != uuid.Nil {
		actor = &a.ActorUserID
	}
	insert := `
		INSERT INTO match_actions (match_id, action_index, actor_user_id, action_type, action_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (match_id, action_index) DO NOTHING
	`
	tag, err := tx.Exec(ctx, insert, a.MatchID, a.ActionIndex, actor, a.ActionType, payload, at)
	if err != nil || tag.RowsAffected() == 0 {
		return err
	}

	switch status := StatusAfter(a.ActionType); status {
	case "":
	case StatusInProgress:
		_, err = tx.Exec(ctx, `UPDATE matches SET status = $2, end_time = NULL WHERE id = $1`, a.MatchID, status)
	default:
		_, err = tx.Exec(ctx, `UPDATE matches SET status = $2, end_time = $3 WHERE id = $1`, a.MatchID, status, at)
	}
	return err
}

// MarkAbandoned flags a match still in progress as abandoned and reports
// whether it did.
func (s *Store) MarkAbandoned(ctx context.Context, matchID uuid.UUID) (bool, error) {
	var marked bool
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE matches
			SET status = $2, end_time = NOW()
			WHERE id = $1 AND status = $3
		`, matchID, StatusAbandoned, StatusInProgress)
		marked = tag.RowsAffected() > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark match %s abandoned: %w", matchID, err)
	}
	return marked, nil
}
