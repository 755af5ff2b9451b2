package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/rating"
)

// These tests need a disposable postgres; set TEST_DATABASE_URL to run them.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(s.Close)
	return s
}

func TestStatusAfter(t *testing.T) {
	assert.Equal(t, StatusInProgress, StatusAfter("match_create"))
	assert.Equal(t, StatusInProgress, StatusAfter("match_start"))
	assert.Equal(t, StatusCompleted, StatusAfter("match_end"))
	assert.Equal(t, StatusCancelled, StatusAfter("match_cancel"))
	assert.Equal(t, "", StatusAfter("player_move"))
}

func TestUserRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := &models.User{Username: "pg-" + uuid.NewString()[:8]}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NotEqual(t, uuid.Nil, u.ID)

	dup := &models.User{Username: u.Username}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrUsernameTaken)

	require.NoError(t, s.SaveRatings(ctx, u.ID, []models.Rating{{Game: "get10", Rating: 1216, Games: 1}}))
	require.NoError(t, s.SaveRatings(ctx, u.ID, []models.Rating{{Game: "get10", Rating: 1230, Games: 2}}))

	got, err := s.FindUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Username, got.Username)
	assert.Equal(t, []models.Rating{{Game: "get10", Rating: 1230, Games: 2}}, got.Ratings)

	_, err = s.FindUser(ctx, uuid.New())
	assert.ErrorIs(t, err, rating.ErrUserNotFound)
	assert.ErrorIs(t, s.SaveRatings(ctx, uuid.New(), nil), rating.ErrUserNotFound)
}

func TestMatchActionsAndAbandon(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	match := uuid.New()
	now := time.Now().UnixMilli()

	actions := []models.MatchAction{
		{MatchID: match, Game: "get10", ActionIndex: 1, ActorUserID: uuid.New(), ActionType: "match_create", Timestamp: now},
		{MatchID: match, Game: "get10", ActionIndex: 2, ActionType: "match_start", Timestamp: now + 1},
	}
	require.NoError(t, s.InsertMatchActions(ctx, actions))
	// Replays are ignored.
	require.NoError(t, s.InsertMatchActions(ctx, actions))

	marked, err := s.MarkAbandoned(ctx, match)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = s.MarkAbandoned(ctx, match)
	require.NoError(t, err)
	assert.False(t, marked)
}
