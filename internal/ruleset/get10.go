package ruleset

import (
	"encoding/json"

	"github.com/jason-s-yu/gameroom/internal/clock"
)

const (
	NameGet10 = "get10"

	get10Goal = 10
)

// Get10 is the counting game: players alternate adding 1 or 2 to a shared
// total and whoever reaches exactly ten wins.
type Get10 struct {
	twoPlayer
}

// Get10Data is the game-specific state.
type Get10Data struct {
	Points int `json:"points"`
}

func (d *Get10Data) Clone() Data {
	cp := *d
	return &cp
}

type get10Move struct {
	Value int `json:"value" validate:"required,oneof=1 2"`
}

func (*Get10) Name() string { return NameGet10 }

func (*Get10) VerifySettings(s Settings) error {
	if err := wrongGame(s, NameGet10); err != nil {
		return err
	}
	if s.Go == "" {
		return Invalid("invalid order specified")
	}
	if err := checkStruct(s); err != nil {
		return err
	}
	return verifyTimer(s, 1)
}

// ClockSettings: time and reserve in minutes, increment in seconds.
func (*Get10) ClockSettings(s Settings) clock.Settings {
	return minuteClock(s)
}

func (g *Get10) InitialState(s Settings) (State, error) {
	if err := g.VerifySettings(s); err != nil {
		return State{}, err
	}
	slots := newSlots(2, g.ClockSettings(s))
	seat := 0
	if s.Go == "second" {
		seat = 1
	}
	hostSlot(s, seat, slots)
	s.Host = Participant{}
	return State{
		Status:   StatusWaiting,
		Game:     NameGet10,
		Settings: s,
		Players:  slots,
		Data:     &Get10Data{},
	}, nil
}

func (g *Get10) Begin(st State) State {
	next := st.Clone()
	if next.Round == 0 && next.Settings.Go == "random" && g.coinFlip() {
		rotateSeats(&next)
	}
	next.TurnsCompleted = 0
	next.Data = &Get10Data{}
	return next
}

func (g *Get10) ApplyMove(st State, seat int, raw json.RawMessage) (State, error) {
	if err := ensurePlaying(st); err != nil {
		return st, err
	}
	if !g.CanMove(st, seat) {
		return st, illegal(ErrNotYourTurn)
	}
	var mv get10Move
	if err := decodeMove(raw, &mv); err != nil {
		return st, err
	}
	d, err := dataAs[*Get10Data](st)
	if err != nil {
		return st, err
	}
	points := d.Points + mv.Value
	if points > get10Goal {
		return st, Illegal("you may not go over %d points", get10Goal)
	}

	next := st.Clone()
	next.Data.(*Get10Data).Points = points
	next.TurnsCompleted++
	return next, nil
}

func (*Get10) CheckTerminal(st State) Terminal {
	d, ok := st.Data.(*Get10Data)
	if !ok || d.Points < get10Goal || st.TurnsCompleted == 0 {
		return Terminal{}
	}
	// the seat that just moved
	return Terminal{Ended: true, Winner: (st.TurnsCompleted - 1) % 2, Reason: "10 points reached"}
}

// PrepareRematch swaps who goes first.
func (g *Get10) PrepareRematch(st State) State {
	next := resetForRematch(st, g.ClockSettings(st.Settings))
	rotateSeats(&next)
	next.Data = &Get10Data{}
	return next
}
