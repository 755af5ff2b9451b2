package rating

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultFloor is the lowest rating a player can drop to.
const DefaultFloor = 100

// ErrUserNotFound is returned by a UserStore when no record exists for an id.
var ErrUserNotFound = errors.New("user not found")

// UserStore is the persistence the rating engine reads and writes through.
type UserStore interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	SaveRatings(ctx context.Context, id uuid.UUID, ratings []models.Rating) error
}

// Result is one pairwise outcome. Score is A's result: 1 win, 0.5 draw, 0 loss.
// A batch must not contain both A-vs-B and its mirror.
type Result struct {
	A     uuid.UUID
	B     uuid.UUID
	Score float64
}

// Placement is a participant's finishing rank; lower is better, equal ranks are ties.
type Placement struct {
	ID   uuid.UUID
	Rank int
}

// Change describes how one participant's rating moved.
type Change struct {
	ID        uuid.UUID `json:"id"`
	OldRating int       `json:"oldRating"`
	NewRating int       `json:"newRating"`
	Games     int       `json:"games"`
}

// ExpectedScore is the Elo win expectancy of a rating a against b.
func ExpectedScore(a, b float64) float64 {
	return 1 / (1 + math.Pow(10, (b-a)/400))
}

// KFactor shrinks as a player accumulates games.
func KFactor(games int) float64 {
	switch {
	case games < 20:
		return 32
	case games < 40:
		return 16
	default:
		return 8
	}
}

// PairwiseResults expands a ranking into one result per unordered pair.
func PairwiseResults(placements []Placement) []Result {
	var results []Result
	for i := 0; i < len(placements); i++ {
		for j := i + 1; j < len(placements); j++ {
			a, b := placements[i], placements[j]
			score := 0.0
			switch {
			case a.Rank < b.Rank:
				score = 1
			case a.Rank == b.Rank:
				score = 0.5
			}
			results = append(results, Result{A: a.ID, B: b.ID, Score: score})
		}
	}
	return results
}

// Calculate applies a batch of results to the given pre-match ratings.
// Every delta is computed from the pre-match values and summed per participant;
// rounding and the floor are applied once at the end. Participants missing from
// current are treated as unrated (1200, 0 games). Games in the returned changes
// is the post-match count.
func Calculate(current map[uuid.UUID]models.Rating, results []Result, floor int) []Change {
	var order []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	note := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	for _, r := range results {
		note(r.A)
		note(r.B)
	}

	before := func(id uuid.UUID) models.Rating {
		if r, ok := current[id]; ok {
			return r
		}
		return models.Rating{Rating: models.DefaultRating}
	}

	deltas := make(map[uuid.UUID]float64, len(order))
	for _, r := range results {
		a, b := before(r.A), before(r.B)
		deltas[r.A] += KFactor(a.Games) * (r.Score - ExpectedScore(float64(a.Rating), float64(b.Rating)))
		deltas[r.B] += KFactor(b.Games) * ((1 - r.Score) - ExpectedScore(float64(b.Rating), float64(a.Rating)))
	}

	changes := make([]Change, 0, len(order))
	for _, id := range order {
		old := before(id)
		next := int(math.Round(float64(old.Rating) + deltas[id]))
		if next < floor {
			next = floor
		}
		changes = append(changes, Change{ID: id, OldRating: old.Rating, NewRating: next, Games: old.Games + 1})
	}
	return changes
}

// Engine resolves match results against a UserStore.
type Engine struct {
	store  UserStore
	floor  int
	logger *logrus.Logger
}

// NewEngine builds an engine; a floor of 0 means DefaultFloor.
func NewEngine(store UserStore, floor int, logger *logrus.Logger) *Engine {
	if floor <= 0 {
		floor = DefaultFloor
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{store: store, floor: floor, logger: logger}
}

// ResolveRanking is Resolve over the pairwise expansion of a ranking.
func (e *Engine) ResolveRanking(ctx context.Context, game string, placements []Placement) ([]Change, error) {
	return e.Resolve(ctx, game, PairwiseResults(placements))
}

// Resolve reads every participant, computes the batch and writes the new ratings back.
// Participants without a user record (guests) are scored as unrated but not persisted.
func (e *Engine) Resolve(ctx context.Context, game string, results []Result) ([]Change, error) {
	users := make(map[uuid.UUID]*models.User)
	current := make(map[uuid.UUID]models.Rating)
	for _, r := range results {
		for _, id := range []uuid.UUID{r.A, r.B} {
			if _, done := users[id]; done {
				continue
			}
			u, err := e.store.FindUser(ctx, id)
			if errors.Is(err, ErrUserNotFound) {
				users[id] = nil
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load user %s: %w", id, err)
			}
			users[id] = u
			if entry, ok := u.RatingFor(game); ok {
				current[id] = entry
			}
		}
	}

	changes := Calculate(current, results, e.floor)

	for _, c := range changes {
		u := users[c.ID]
		if u == nil {
			e.logger.WithField("user", c.ID).Debug("skipping rating write for unknown user")
			continue
		}
		u.SetRating(models.Rating{Game: game, Rating: c.NewRating, Games: c.Games})
		if err := e.store.SaveRatings(ctx, c.ID, u.Ratings); err != nil {
			return changes, fmt.Errorf("save ratings for %s: %w", c.ID, err)
		}
	}
	return changes, nil
}
