package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jason-s-yu/gameroom/internal/database"
	"github.com/jason-s-yu/gameroom/internal/models"
)

// InsertMatchActions writes a batch of actions in one transaction. Each
// action upserts its match row first; an action already stored is skipped.
func (s *Store) InsertMatchActions(ctx context.Context, actions []models.MatchAction) error {
	if len(actions) == 0 {
		return nil
	}
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
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

func insertMatchActionTx(ctx context.Context, tx *sql.Tx, a models.MatchAction) error {
	id := a.MatchID.String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO matches (id, game, status, start_time, last_activity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET last_activity = MAX(matches.last_activity, excluded.last_activity)
	`, id, a.Game, database.StatusInProgress, a.Timestamp, a.Timestamp); err != nil {
		return err
	}

	payload, err := json.Marshal(a.ActionPayload)
	if err != nil {
		return err
	}
	var actor sql.NullString
	if a.ActorUserID != uuid.Nil {
		actor = sql.NullString{String: a.ActorUserID.String(), Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO match_actions (match_id, action_index, actor_user_id, action_type, action_payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id, action_index) DO NOTHING
	`, id, a.ActionIndex, actor, a.ActionType, string(payload), a.Timestamp)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return err
	}

	switch status := database.StatusAfter(a.ActionType); status {
	case "":
	case database.StatusInProgress:
		_, err = tx.ExecContext(ctx, `UPDATE matches SET status = ?, end_time = NULL WHERE id = ?`, status, id)
	default:
		_, err = tx.ExecContext(ctx, `UPDATE matches SET status = ?, end_time = ? WHERE id = ?`, status, a.Timestamp, id)
	}
	return err
}

// MarkAbandoned flags a match still in progress as abandoned and reports
// whether it did.
func (s *Store) MarkAbandoned(ctx context.Context, matchID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE matches SET status = ?, end_time = ?
		WHERE id = ? AND status = ?
	`, database.StatusAbandoned, toMillis(time.Now()), matchID.String(), database.StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to mark match %s abandoned: %w", matchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark match %s abandoned: %w", matchID, err)
	}
	return n > 0, nil
}

// MatchStatus returns the recorded status of a match.
func (s *Store) MatchStatus(ctx context.Context, matchID uuid.UUID) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM matches WHERE id = ?`, matchID.String()).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("failed to load match %s: %w", matchID, err)
	}
	return status, nil
}
