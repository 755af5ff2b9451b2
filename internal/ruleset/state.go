package ruleset

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/clock"
	"github.com/jason-s-yu/gameroom/internal/rating"
)

// Status is the lifecycle stage of a match.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPregame Status = "pregame"
	StatusPlaying Status = "playing"
	StatusEnded   Status = "ended"
)

// Reasons a match can end outside the rules of the game itself.
const (
	ReasonTimeout    = "timeout"
	ReasonDisconnect = "disconnect"
	ReasonForfeit    = "forfeit"
)

// Participant identifies who sits in a slot.
type Participant struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Rating int       `json:"rating"`
}

// PlayerSlot is one seat. A nil User is an open seat.
type PlayerSlot struct {
	User      *Participant `json:"user"`
	Clock     clock.Bank   `json:"clock"`
	Rematch   bool         `json:"rematch"`
	Connected bool         `json:"connected"`
	Score     int          `json:"score"`
}

// Placement is a seat's finishing position.
type Placement struct {
	Seat int `json:"seat"`
	Rank int `json:"rank"`
}

// Data is the game-specific part of a state.
type Data interface {
	Clone() Data
}

// State is a full snapshot of one match. Transitions work on clones so a
// published State is never mutated afterwards.
type State struct {
	Status         Status       `json:"status"`
	Game           string       `json:"game"`
	Settings       Settings     `json:"settings"`
	Players        []PlayerSlot `json:"players"`
	TurnsCompleted int          `json:"turnsCompleted"`
	// Round counts rematches; the first match is round 0.
	Round int `json:"round"`

	Winner        *int            `json:"winner,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Ranking       []Placement     `json:"ranking,omitempty"`
	RatingChanges []rating.Change `json:"ratingChanges,omitempty"`

	Data Data `json:"data"`
}

// Clone deep-copies the state.
func (s State) Clone() State {
	out := s
	out.Players = make([]PlayerSlot, len(s.Players))
	for i, p := range s.Players {
		if p.User != nil {
			u := *p.User
			p.User = &u
		}
		out.Players[i] = p
	}
	if s.Winner != nil {
		w := *s.Winner
		out.Winner = &w
	}
	out.Ranking = append([]Placement(nil), s.Ranking...)
	out.RatingChanges = append([]rating.Change(nil), s.RatingChanges...)
	if s.Data != nil {
		out.Data = s.Data.Clone()
	}
	return out
}

// SeatOf returns the slot index held by id, or -1.
func (s State) SeatOf(id uuid.UUID) int {
	for i, p := range s.Players {
		if p.User != nil && p.User.ID == id {
			return i
		}
	}
	return -1
}

// Full reports whether every seat is taken.
func (s State) Full() bool {
	for _, p := range s.Players {
		if p.User == nil {
			return false
		}
	}
	return true
}

// Running returns the seat currently on the clock, or -1.
func (s State) Running() int {
	for i, p := range s.Players {
		if p.Clock.Running() {
			return i
		}
	}
	return -1
}

// Terminal is the outcome of CheckTerminal.
type Terminal struct {
	Ended  bool
	Winner int
	Reason string
}

// EndWith returns a copy of st finished in favour of winner.
func EndWith(st State, winner int, reason string) State {
	next := st.Clone()
	next.Status = StatusEnded
	next.Winner = &winner
	next.Reason = reason
	next.Ranking = []Placement{{Seat: winner, Rank: 1}}
	for i := range next.Players {
		if i != winner {
			next.Ranking = append(next.Ranking, Placement{Seat: i, Rank: 2})
		}
		next.Players[i].Rematch = false
	}
	return next
}

// Forfeit ends the match against seat.
func Forfeit(st State, seat int, reason string) State {
	return EndWith(st, 1-seat, reason)
}

// rotateSeats moves the last slot to the front.
func rotateSeats(st *State) {
	n := len(st.Players)
	if n < 2 {
		return
	}
	last := st.Players[n-1]
	copy(st.Players[1:], st.Players[:n-1])
	st.Players[0] = last
}

// resetForRematch clears the terminal fields and refills the clocks.
func resetForRematch(st State, cs clock.Settings) State {
	next := st.Clone()
	next.Winner = nil
	next.Reason = ""
	next.Ranking = nil
	next.RatingChanges = nil
	next.TurnsCompleted = 0
	next.Round++
	for i := range next.Players {
		next.Players[i].Clock = clock.NewBank(cs)
		next.Players[i].Rematch = false
		next.Players[i].Score = 0
	}
	return next
}
