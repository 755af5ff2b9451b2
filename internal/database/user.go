package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/rating"
)

const uniqueViolation = "23505"

// CreateUser inserts a user. A nil ID is replaced with a fresh one.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}

	q := `INSERT INTO users (id, username, is_ephemeral) VALUES ($1, $2, $3)`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, user.ID, user.Username, user.IsEphemeral)
		return execErr
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindUser loads a user and every per-game rating it holds.
func (s *Store) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u := models.User{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT username, is_ephemeral FROM users WHERE id = $1`, id,
	).Scan(&u.Username, &u.IsEphemeral)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rating.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT game, rating, games FROM user_ratings WHERE user_id = $1 ORDER BY game`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings: %w", err)
	}
	u.Ratings, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Rating, error) {
		var r models.Rating
		err := row.Scan(&r.Game, &r.Rating, &r.Games)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan ratings: %w", err)
	}
	return &u, nil
}
