// Package ruleset holds the per-game rules behind a match: settings validation,
// the initial state, move application and terminal detection. Every method is
// a pure transition over State values; rejected moves leave the input untouched.
package ruleset

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jason-s-yu/gameroom/internal/clock"
)

// Ruleset is implemented by every game type.
type Ruleset interface {
	Name() string
	Seats() int

	VerifySettings(s Settings) error
	// ClockSettings converts the lobby units into clock durations.
	ClockSettings(s Settings) clock.Settings
	// InitialState seats s.Host and leaves the other seats open.
	InitialState(s Settings) (State, error)
	// AddPlayer seats p, or refreshes p's slot if already seated.
	AddPlayer(st State, p Participant) (State, bool, error)
	// Begin decides seat order and deals once every seat is filled.
	Begin(st State) State

	// Turn is the seat whose clock should run, or -1.
	Turn(st State) int
	// CanMove reports whether seat may submit a move now. It differs from
	// Turn only in simultaneous phases.
	CanMove(st State, seat int) bool
	ApplyMove(st State, seat int, move json.RawMessage) (State, error)
	CheckTerminal(st State) Terminal
	// OnExpire applies a forced loss to seat.
	OnExpire(st State, seat int) State
	// PrepareRematch resets for another match between the same seats.
	PrepareRematch(st State) State
	// SanitizeForViewer hides what seat must not see. A negative seat hides everything private.
	SanitizeForViewer(st State, seat int) State
}

// GameInfo is one entry of the game catalogue.
type GameInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Size        int    `json:"size"`
}

// Category groups games for the lobby menu.
type Category struct {
	Category string     `json:"category"`
	Games    []GameInfo `json:"games"`
}

// Catalogue lists every playable game by category.
func Catalogue() []Category {
	return []Category{
		{Category: "Board", Games: []GameInfo{gameInfo(NamePushfight, "PushFight")}},
		{Category: "Card", Games: []GameInfo{gameInfo(NameCribbage, "Cribbage")}},
		{Category: "Other", Games: []GameInfo{gameInfo(NameGet10, "Get 10")}},
	}
}

// gameInfo sizes a catalogue entry from the ruleset's seat count.
func gameInfo(name, displayName string) GameInfo {
	info := GameInfo{Name: name, DisplayName: displayName}
	if r, err := New(name); err == nil {
		info.Size = r.Seats()
	}
	return info
}

// Known reports whether name is a game type.
func Known(name string) bool {
	switch strings.ToLower(name) {
	case NameGet10, NamePushfight, NameCribbage:
		return true
	}
	return false
}

// New returns a fresh ruleset instance for a game type, seeded from the clock.
func New(name string) (Ruleset, error) {
	return NewWithRand(name, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand is New with a caller-supplied random source.
func NewWithRand(name string, rng *rand.Rand) (Ruleset, error) {
	base := twoPlayer{rng: rng}
	switch strings.ToLower(name) {
	case NameGet10:
		return &Get10{twoPlayer: base}, nil
	case NamePushfight:
		return &Pushfight{twoPlayer: base}, nil
	case NameCribbage:
		return &Cribbage{twoPlayer: base}, nil
	}
	return nil, Invalid("unknown game %q", name)
}

// twoPlayer carries the behaviour every current game shares.
type twoPlayer struct {
	rng *rand.Rand
}

func (twoPlayer) Seats() int { return 2 }

func (twoPlayer) Turn(st State) int {
	if st.Status != StatusPlaying {
		return -1
	}
	return st.TurnsCompleted % 2
}

func (t twoPlayer) CanMove(st State, seat int) bool {
	return st.Status == StatusPlaying && t.Turn(st) == seat
}

func (twoPlayer) AddPlayer(st State, p Participant) (State, bool, error) {
	return seatParticipant(st, p)
}

func (twoPlayer) OnExpire(st State, seat int) State {
	return Forfeit(st, seat, ReasonTimeout)
}

func (twoPlayer) SanitizeForViewer(st State, _ int) State {
	return st.Clone()
}

func (t twoPlayer) coinFlip() bool {
	return t.rng.Intn(2) == 0
}

// seatParticipant re-seats a known participant or takes the first open seat.
func seatParticipant(st State, p Participant) (State, bool, error) {
	next := st.Clone()
	if seat := next.SeatOf(p.ID); seat >= 0 {
		next.Players[seat].Connected = true
		return next, false, nil
	}
	for i := range next.Players {
		if next.Players[i].User == nil {
			u := p
			next.Players[i].User = &u
			next.Players[i].Connected = true
			next.Players[i].Rematch = false
			return next, true, nil
		}
	}
	return st, false, illegal(ErrFull)
}

// newSlots builds n open slots with full clocks.
func newSlots(n int, cs clock.Settings) []PlayerSlot {
	slots := make([]PlayerSlot, n)
	for i := range slots {
		slots[i].Clock = clock.NewBank(cs)
	}
	return slots
}

func hostSlot(s Settings, seat int, slots []PlayerSlot) {
	host := s.Host
	slots[seat].User = &host
	slots[seat].Connected = true
}

func wrongGame(s Settings, name string) error {
	if !strings.EqualFold(s.Game, name) {
		return Invalid("settings are for %q, not %q", s.Game, name)
	}
	return nil
}

func ensurePlaying(st State) error {
	if st.Status != StatusPlaying {
		return illegal(ErrNotActive)
	}
	return nil
}

func dataAs[T Data](st State) (T, error) {
	d, ok := st.Data.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected state data %T", st.Data)
	}
	return d, nil
}
