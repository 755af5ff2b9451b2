package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/rating"
)

// SaveRatings upserts the given per-game ratings of one user in a single
// transaction. Unknown users yield rating.ErrUserNotFound.
func (s *Store) SaveRatings(ctx context.Context, id uuid.UUID, ratings []models.Rating) error {
	upsert := `
		INSERT INTO user_ratings (user_id, game, rating, games, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, game)
		DO UPDATE SET rating = EXCLUDED.rating, games = EXCLUDED.games, updated_at = NOW()
	`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return rating.ErrUserNotFound
		}
		for _, r := range ratings {
			if _, err := tx.Exec(ctx, upsert, id, r.Game, r.Rating, r.Games); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save ratings: %w", err)
	}
	return nil
}
