package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jason-s-yu/gameroom/internal/database"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/rating"
)

// CreateUser inserts a user. A nil ID is replaced with a fresh one.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, is_ephemeral, created_at) VALUES (?, ?, ?, ?)`,
		user.ID.String(), user.Username, user.IsEphemeral, toMillis(time.Now()),
	)
	if isUniqueViolation(err) {
		return database.ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindUser loads a user and every per-game rating it holds.
func (s *Store) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u := models.User{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT username, is_ephemeral FROM users WHERE id = ?`, id.String(),
	).Scan(&u.Username, &u.IsEphemeral)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rating.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT game, rating, games FROM user_ratings WHERE user_id = ? ORDER BY game`, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r models.Rating
		if err := rows.Scan(&r.Game, &r.Rating, &r.Games); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		u.Ratings = append(u.Ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ratings: %w", err)
	}
	return &u, nil
}

// SaveRatings upserts the given per-game ratings of one user in a single
// transaction. Unknown users yield rating.ErrUserNotFound.
func (s *Store) SaveRatings(ctx context.Context, id uuid.UUID, ratings []models.Rating) error {
	now := toMillis(time.Now())
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE id = ?`, id.String(),
		).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return rating.ErrUserNotFound
		}
		for _, r := range ratings {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_ratings (user_id, game, rating, games, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (user_id, game)
				DO UPDATE SET rating = excluded.rating, games = excluded.games, updated_at = excluded.updated_at
			`, id.String(), r.Game, r.Rating, r.Games, now); err != nil {
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
