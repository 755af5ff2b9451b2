package models

import "github.com/google/uuid"

// DefaultRating is the seed rating for a player's first rated match of a game type.
const DefaultRating = 1200

// User is the slice of a user record the game service consumes.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"is_ephemeral"`

	// Ratings holds one entry per game type the user has played rated.
	Ratings []Rating `json:"ratings"`
}

// Rating is a user's Elo standing for a single game type.
type Rating struct {
	Game   string `json:"game"`
	Rating int    `json:"rating"`
	Games  int    `json:"games"`
}

// RatingFor returns the user's rating entry for game, and whether one exists.
func (u *User) RatingFor(game string) (Rating, bool) {
	for _, r := range u.Ratings {
		if r.Game == game {
			return r, true
		}
	}
	return Rating{Game: game, Rating: DefaultRating}, false
}

// SetRating replaces or appends the entry for r.Game.
func (u *User) SetRating(r Rating) {
	for i := range u.Ratings {
		if u.Ratings[i].Game == r.Game {
			u.Ratings[i] = r
			return
		}
	}
	u.Ratings = append(u.Ratings, r)
}
