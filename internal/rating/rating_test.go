package rating

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
	saves int
}

func newMemStore(users ...*models.User) *memStore {
	s := &memStore{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) FindUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	cp.Ratings = append([]models.Rating(nil), u.Ratings...)
	return &cp, nil
}

func (s *memStore) SaveRatings(_ context.Context, id uuid.UUID, ratings []models.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.users[id].Ratings = append([]models.Rating(nil), ratings...)
	return nil
}

func TestExpectedScore(t *testing.T) {
	assert.InDelta(t, 0.5, ExpectedScore(1200, 1200), 1e-9)
	assert.InDelta(t, 0.76, ExpectedScore(1400, 1200), 0.01)
	assert.InDelta(t, 1.0, ExpectedScore(1400, 1200)+ExpectedScore(1200, 1400), 1e-9)
}

func TestKFactor(t *testing.T) {
	assert.Equal(t, 32.0, KFactor(0))
	assert.Equal(t, 32.0, KFactor(19))
	assert.Equal(t, 16.0, KFactor(20))
	assert.Equal(t, 16.0, KFactor(39))
	assert.Equal(t, 8.0, KFactor(40))
}

func TestCalculateSymmetricForUnrated(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	changes := Calculate(nil, []Result{{A: a, B: b, Score: 1}}, DefaultFloor)
	require.Len(t, changes, 2)

	winner, loser := changes[0], changes[1]
	assert.Equal(t, 1200, winner.OldRating)
	assert.Equal(t, 1216, winner.NewRating)
	assert.Equal(t, 1184, loser.NewRating)
	assert.Equal(t, winner.NewRating-winner.OldRating, -(loser.NewRating - loser.OldRating))
	assert.Equal(t, 1, winner.Games)
	assert.Equal(t, 1, loser.Games)
}

func TestCalculateDrawAndPerPlayerK(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	current := map[uuid.UUID]models.Rating{
		a: {Rating: 1200, Games: 50}, // K=8
		b: {Rating: 1200, Games: 0},  // K=32
	}
	draw := Calculate(current, []Result{{A: a, B: b, Score: 0.5}}, DefaultFloor)
	assert.Equal(t, 1200, draw[0].NewRating)
	assert.Equal(t, 1200, draw[1].NewRating)

	win := Calculate(current, []Result{{A: a, B: b, Score: 1}}, DefaultFloor)
	assert.Equal(t, 1204, win[0].NewRating)
	assert.Equal(t, 1184, win[1].NewRating)
}

func TestCalculateUsesPreMatchRatings(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	// a beats b and c in the same batch; the second delta must still use a's 1200
	changes := Calculate(nil, []Result{{A: a, B: b, Score: 1}, {A: a, B: c, Score: 1}}, DefaultFloor)
	assert.Equal(t, 1232, changes[0].NewRating)
	assert.Equal(t, 1, changes[0].Games, "games counts matches, not pairings")
}

func TestCalculateFloor(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	current := map[uuid.UUID]models.Rating{a: {Rating: 105}, b: {Rating: 105}}
	changes := Calculate(current, []Result{{A: a, B: b, Score: 0}}, DefaultFloor)
	assert.Equal(t, DefaultFloor, changes[0].NewRating)
}

func TestPairwiseResults(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	results := PairwiseResults([]Placement{{ID: a, Rank: 1}, {ID: b, Rank: 2}, {ID: c, Rank: 2}})
	require.Len(t, results, 3)
	assert.Equal(t, Result{A: a, B: b, Score: 1}, results[0])
	assert.Equal(t, Result{A: a, B: c, Score: 1}, results[1])
	assert.Equal(t, Result{A: b, B: c, Score: 0.5}, results[2])
}

func TestEngineResolvePersistsAndSeedsLazily(t *testing.T) {
	veteran := &models.User{ID: uuid.New(), Username: "vet", Ratings: []models.Rating{
		{Game: "get10", Rating: 1300, Games: 25},
		{Game: "cribbage", Rating: 1500, Games: 3},
	}}
	rookie := &models.User{ID: uuid.New(), Username: "rookie"}
	store := newMemStore(veteran, rookie)
	engine := NewEngine(store, 0, nil)

	changes, err := engine.Resolve(context.Background(), "get10", []Result{{A: rookie.ID, B: veteran.ID, Score: 1}})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, 2, store.saves)

	r, ok := store.users[rookie.ID].RatingFor("get10")
	require.True(t, ok, "rookie gets a get10 entry on first resolution")
	assert.Equal(t, 1, r.Games)
	assert.Greater(t, r.Rating, 1200)

	v, _ := store.users[veteran.ID].RatingFor("get10")
	assert.Equal(t, 26, v.Games)
	assert.Less(t, v.Rating, 1300)

	other, _ := store.users[veteran.ID].RatingFor("cribbage")
	assert.Equal(t, 1500, other.Rating, "other game types untouched")
}

func TestEngineResolveSkipsGuests(t *testing.T) {
	known := &models.User{ID: uuid.New(), Username: "known"}
	store := newMemStore(known)
	engine := NewEngine(store, 0, nil)

	guest := uuid.New()
	changes, err := engine.ResolveRanking(context.Background(), "pushfight", []Placement{{ID: guest, Rank: 1}, {ID: known.ID, Rank: 2}})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, 1184, changes[1].NewRating)
}
