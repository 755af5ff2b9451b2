package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/gameroom/internal/database"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/rating"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "gameroom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	assert.Error(t, err)
}

func TestOpenTwiceKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gameroom.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	u := &models.User{Username: "ann"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.FindUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ann", got.Username)
}

func TestCreateAndFindUser(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	u := &models.User{Username: "ann", IsEphemeral: true}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NotEqual(t, uuid.Nil, u.ID)

	got, err := s.FindUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "ann", got.Username)
	assert.True(t, got.IsEphemeral)
	assert.Empty(t, got.Ratings)

	_, err = s.FindUser(ctx, uuid.New())
	assert.ErrorIs(t, err, rating.ErrUserNotFound)
}

func TestCreateUserRejectsDuplicateName(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &models.User{Username: "ann"}))
	err := s.CreateUser(ctx, &models.User{Username: "ann"})
	assert.ErrorIs(t, err, database.ErrUsernameTaken)
}

func TestSaveRatingsUpserts(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	u := &models.User{Username: "ann"}
	require.NoError(t, s.CreateUser(ctx, u))

	require.NoError(t, s.SaveRatings(ctx, u.ID, []models.Rating{
		{Game: "get10", Rating: 1216, Games: 1},
		{Game: "cribbage", Rating: 1184, Games: 1},
	}))
	require.NoError(t, s.SaveRatings(ctx, u.ID, []models.Rating{{Game: "get10", Rating: 1230, Games: 2}}))

	got, err := s.FindUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.Rating{
		{Game: "cribbage", Rating: 1184, Games: 1},
		{Game: "get10", Rating: 1230, Games: 2},
	}, got.Ratings)

	err = s.SaveRatings(ctx, uuid.New(), []models.Rating{{Game: "get10", Rating: 1200}})
	assert.ErrorIs(t, err, rating.ErrUserNotFound)
}

func TestEngineAgainstStore(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	a := &models.User{Username: "ann"}
	b := &models.User{Username: "bob"}
	require.NoError(t, s.CreateUser(ctx, a))
	require.NoError(t, s.CreateUser(ctx, b))

	engine := rating.NewEngine(s, 100, nil)
	changes, err := engine.ResolveRanking(ctx, "get10", []rating.Placement{
		{ID: a.ID, Rank: 0},
		{ID: b.ID, Rank: 1},
	})
	require.NoError(t, err)
	require.Len(t, changes, 2)

	got, err := s.FindUser(ctx, a.ID)
	require.NoError(t, err)
	r, ok := got.RatingFor("get10")
	require.True(t, ok)
	assert.Greater(t, r.Rating, models.DefaultRating)
	assert.Equal(t, 1, r.Games)
}

func TestMatchActionLifecycle(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	match := uuid.New()
	host := uuid.New()
	now := time.Now().UnixMilli()

	actions := []models.MatchAction{
		{MatchID: match, Game: "get10", ActionIndex: 1, ActorUserID: host, ActionType: "match_create", Timestamp: now},
		{MatchID: match, Game: "get10", ActionIndex: 2, ActionType: "match_start", Timestamp: now + 5},
		{MatchID: match, Game: "get10", ActionIndex: 3, ActorUserID: host, ActionType: "player_move",
			ActionPayload: map[string]interface{}{"seat": 0}, Timestamp: now + 9},
	}
	require.NoError(t, s.InsertMatchActions(ctx, actions))
	status, err := s.MatchStatus(ctx, match)
	require.NoError(t, err)
	assert.Equal(t, database.StatusInProgress, status)

	require.NoError(t, s.InsertMatchActions(ctx, []models.MatchAction{
		{MatchID: match, Game: "get10", ActionIndex: 4, ActionType: "match_end", Timestamp: now + 20},
	}))
	status, err = s.MatchStatus(ctx, match)
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, status)

	// A replayed start must not reopen the match.
	require.NoError(t, s.InsertMatchActions(ctx, actions[1:2]))
	status, err = s.MatchStatus(ctx, match)
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, status)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM match_actions WHERE match_id = ?`, match.String()).Scan(&count))
	assert.Equal(t, 4, count)
}

func TestMarkAbandonedOnlyInProgress(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	live, done := uuid.New(), uuid.New()
	now := time.Now().UnixMilli()

	require.NoError(t, s.InsertMatchActions(ctx, []models.MatchAction{
		{MatchID: live, Game: "cribbage", ActionIndex: 1, ActionType: "match_create", Timestamp: now},
		{MatchID: done, Game: "cribbage", ActionIndex: 1, ActionType: "match_create", Timestamp: now},
		{MatchID: done, Game: "cribbage", ActionIndex: 2, ActionType: "match_cancel", Timestamp: now},
	}))

	marked, err := s.MarkAbandoned(ctx, live)
	require.NoError(t, err)
	assert.True(t, marked)
	marked, err = s.MarkAbandoned(ctx, done)
	require.NoError(t, err)
	assert.False(t, marked)

	status, err := s.MatchStatus(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, database.StatusCancelled, status)
}
