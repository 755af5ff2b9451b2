package ruleset

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jason-s-yu/gameroom/internal/clock"
)

const (
	NameCribbage = "cribbage"

	stageCrib = "crib"
	// stagePlay is shared with pushfight.

	cribDeal  = 6
	cribToss  = 2
	cribLimit = 31
)

// Cribbage is two-player cribbage: discard to the crib, peg to 31, then count.
type Cribbage struct {
	twoPlayer
}

// PlayedCard is one entry of the pegging pile. A nil Card is a go.
type PlayedCard struct {
	Seat int   `json:"seat"`
	Card *Card `json:"card"`
}

// CountedHands shows the previous hand once it has been scored.
type CountedHands struct {
	Hands   [2][]Card `json:"hands"`
	Crib    []Card    `json:"crib"`
	Starter Card      `json:"starter"`
}

// CribbageData is the cribbage part of the state.
type CribbageData struct {
	Stage       string `json:"stage"`
	Target      int    `json:"target"`
	Dealer      int    `json:"dealer"`
	FirstDealer int    `json:"firstDealer"`
	Draw        []Card `json:"draw,omitempty"`

	Deck          Deck      `json:"-"`
	Hands         [2][]Card `json:"hands"`
	Kept          [2][]Card `json:"kept"`
	Crib          []Card    `json:"crib"`
	CribSubmitted [2]bool   `json:"cribSubmitted"`
	Starter       *Card     `json:"starter"`

	Played []PlayedCard `json:"played"`
	// Since indexes Played where the current count began.
	Since int `json:"since"`
	Count int `json:"count"`
	Turn  int `json:"turn"`

	Scoring        []ScoreEntry  `json:"scoring"`
	Counted        *CountedHands `json:"counted,omitempty"`
	ReachedBy      *int          `json:"reachedBy,omitempty"`
	HandsCompleted int           `json:"handsCompleted"`
}

func (d *CribbageData) Clone() Data {
	cp := *d
	cp.Draw = slices.Clone(d.Draw)
	cp.Deck = slices.Clone(d.Deck)
	for i := range d.Hands {
		cp.Hands[i] = slices.Clone(d.Hands[i])
		cp.Kept[i] = slices.Clone(d.Kept[i])
	}
	cp.Crib = slices.Clone(d.Crib)
	if d.Starter != nil {
		s := *d.Starter
		cp.Starter = &s
	}
	cp.Played = make([]PlayedCard, len(d.Played))
	for i, p := range d.Played {
		if p.Card != nil {
			c := *p.Card
			p.Card = &c
		}
		cp.Played[i] = p
	}
	cp.Scoring = slices.Clone(d.Scoring)
	if d.Counted != nil {
		c := CountedHands{Crib: slices.Clone(d.Counted.Crib), Starter: d.Counted.Starter}
		for i := range c.Hands {
			c.Hands[i] = slices.Clone(d.Counted.Hands[i])
		}
		cp.Counted = &c
	}
	if d.ReachedBy != nil {
		r := *d.ReachedBy
		cp.ReachedBy = &r
	}
	return &cp
}

func (d *CribbageData) pone() int { return 1 - d.Dealer }

type cribDiscard struct {
	Cards []Card `json:"cards" validate:"len=2"`
}

type cribPlay struct {
	Card Card `json:"card"`
}

func (*Cribbage) Name() string { return NameCribbage }

func (*Cribbage) VerifySettings(s Settings) error {
	if err := wrongGame(s, NameCribbage); err != nil {
		return err
	}
	if s.Target == 0 {
		return Invalid("invalid point target")
	}
	if err := checkStruct(s); err != nil {
		return err
	}
	switch s.Mode() {
	case clock.ModeOff:
	case clock.ModeReserve:
		if s.Time < 15 || s.Time > 60 {
			return Invalid("invalid move timer length - must be between 15 and 60 seconds")
		}
		if s.Reserve > 10 {
			return Invalid("invalid reserve length - maximum is 10 minutes")
		}
	default:
		return Invalid("cribbage supports only the off and reserve timers")
	}
	return nil
}

// ClockSettings: time is seconds per move, reserve is minutes.
func (*Cribbage) ClockSettings(s Settings) clock.Settings {
	if s.Mode() != clock.ModeReserve {
		return clock.Settings{Mode: clock.ModeOff}
	}
	return clock.Settings{
		Mode:    clock.ModeReserve,
		Main:    seconds(s.Time),
		Reserve: minutes(s.Reserve),
	}
}

func (c *Cribbage) InitialState(s Settings) (State, error) {
	if err := c.VerifySettings(s); err != nil {
		return State{}, err
	}
	slots := newSlots(2, c.ClockSettings(s))
	hostSlot(s, 0, slots)
	s.Host = Participant{}
	return State{
		Status:   StatusWaiting,
		Game:     NameCribbage,
		Settings: s,
		Players:  slots,
		Data:     &CribbageData{Stage: stageCrib, Target: s.Target, FirstDealer: -1},
	}, nil
}

// Begin cuts for the first deal when none is set, then deals.
func (c *Cribbage) Begin(st State) State {
	next := st.Clone()
	prev, _ := st.Data.(*CribbageData)
	d := &CribbageData{Target: next.Settings.Target, FirstDealer: -1}
	if prev != nil {
		d.FirstDealer = prev.FirstDealer
	}
	if d.FirstDealer < 0 {
		d.FirstDealer = c.drawForCrib(d)
	}
	d.Dealer = d.FirstDealer
	next.TurnsCompleted = 0
	next.Data = d
	c.deal(d)
	return next
}

// drawForCrib draws one card per seat until the ranks differ; low card deals.
func (c *Cribbage) drawForCrib(d *CribbageData) int {
	for {
		deck := NewDeck()
		deck.Shuffle(c.rng)
		a, b := deck.Draw(), deck.Draw()
		if a.Ordinal() == b.Ordinal() {
			continue
		}
		d.Draw = []Card{a, b}
		if a.Ordinal() < b.Ordinal() {
			return 0
		}
		return 1
	}
}

func (c *Cribbage) deal(d *CribbageData) {
	d.Deck = NewDeck()
	d.Deck.Shuffle(c.rng)
	d.Hands = [2][]Card{}
	d.Kept = [2][]Card{}
	for i := 0; i < cribDeal*2; i++ {
		seat := (d.pone() + i) % 2
		d.Hands[seat] = append(d.Hands[seat], d.Deck.Draw())
	}
	sortCards(d.Hands[0])
	sortCards(d.Hands[1])
	d.Stage = stageCrib
	d.Crib = nil
	d.CribSubmitted = [2]bool{}
	d.Starter = nil
	d.Played = nil
	d.Since = 0
	d.Count = 0
	d.Turn = d.pone()
}

func (*Cribbage) Turn(st State) int {
	d, ok := st.Data.(*CribbageData)
	if st.Status != StatusPlaying || !ok {
		return -1
	}
	if d.Stage == stageCrib {
		if !d.CribSubmitted[d.pone()] {
			return d.pone()
		}
		return d.Dealer
	}
	return d.Turn
}

// CanMove lets either seat discard until it has submitted its crib cards.
func (c *Cribbage) CanMove(st State, seat int) bool {
	d, ok := st.Data.(*CribbageData)
	if st.Status != StatusPlaying || !ok || seat < 0 || seat > 1 {
		return false
	}
	if d.Stage == stageCrib {
		return !d.CribSubmitted[seat]
	}
	return d.Turn == seat
}

func (c *Cribbage) ApplyMove(st State, seat int, raw json.RawMessage) (State, error) {
	if err := ensurePlaying(st); err != nil {
		return st, err
	}
	if !c.CanMove(st, seat) {
		return st, illegal(ErrNotYourTurn)
	}
	cur, err := dataAs[*CribbageData](st)
	if err != nil {
		return st, err
	}
	next := st.Clone()
	d := next.Data.(*CribbageData)

	switch d.Stage {
	case stageCrib:
		var mv cribDiscard
		if err := decodeMove(raw, &mv); err != nil {
			return st, err
		}
		if err := c.discard(&next, d, seat, mv.Cards); err != nil {
			return st, err
		}
	case stagePlay:
		var mv cribPlay
		if err := decodeMove(raw, &mv); err != nil {
			return st, err
		}
		if !mv.Card.Valid() {
			return st, Invalid("unknown card %q", mv.Card.String())
		}
		if err := c.play(&next, d, seat, mv.Card); err != nil {
			return st, err
		}
	default:
		return st, fmt.Errorf("unknown cribbage stage %q", cur.Stage)
	}
	next.TurnsCompleted++
	return next, nil
}

func (c *Cribbage) discard(st *State, d *CribbageData, seat int, cards []Card) error {
	hand, ok := removeCards(d.Hands[seat], cards...)
	if !ok {
		return Illegal("you can only send cards from your hand to the crib")
	}
	d.Hands[seat] = hand
	d.Crib = append(d.Crib, cards...)
	d.CribSubmitted[seat] = true
	if !d.CribSubmitted[0] || !d.CribSubmitted[1] {
		return nil
	}

	sortCards(d.Crib)
	d.Kept = [2][]Card{slices.Clone(d.Hands[0]), slices.Clone(d.Hands[1])}
	starter := d.Deck.Draw()
	d.Starter = &starter
	d.Stage = stagePlay
	d.Turn = d.pone()
	if starter.Rank == "j" {
		award(st, d, d.Dealer, 2, "his heels for 2")
	}
	return nil
}

func (c *Cribbage) play(st *State, d *CribbageData, seat int, card Card) error {
	hand, ok := removeCards(d.Hands[seat], card)
	if !ok {
		return Illegal("%s is not in your hand", card)
	}
	if d.Count+card.Value() > cribLimit {
		return Illegal("that card would take the count over %d", cribLimit)
	}
	d.Hands[seat] = hand
	d.Count += card.Value()
	d.Played = append(d.Played, PlayedCard{Seat: seat, Card: &card})

	for _, it := range pegPlay(d.pile(), d.Count) {
		award(st, d, seat, it.points, it.reason)
	}
	// at most one of 31, go and last card; 31 wins over last card
	switch {
	case d.Count == cribLimit:
		award(st, d, seat, 2, "31 for 2")
		d.resetCount()
	case len(d.Hands[0]) == 0 && len(d.Hands[1]) == 0:
		award(st, d, seat, 1, "last card for 1")
	}
	if d.ReachedBy != nil {
		return nil
	}
	c.advance(st, d, 1-seat)
	return nil
}

// pile is the cards laid since the count last reset, goes skipped.
func (d *CribbageData) pile() []Card {
	var cards []Card
	for _, p := range d.Played[d.Since:] {
		if p.Card != nil {
			cards = append(cards, *p.Card)
		}
	}
	return cards
}

func (d *CribbageData) resetCount() {
	d.Count = 0
	d.Since = len(d.Played)
}

func (d *CribbageData) canPlay(seat int) bool {
	for _, c := range d.Hands[seat] {
		if d.Count+c.Value() <= cribLimit {
			return true
		}
	}
	return false
}

// advance hands the turn to seat, logging a go for every seat that has no
// playable card. Two goes in a row score the last card player a point.
func (c *Cribbage) advance(st *State, d *CribbageData, seat int) {
	for {
		if len(d.Hands[0]) == 0 && len(d.Hands[1]) == 0 {
			c.finishHand(st, d)
			return
		}
		if d.canPlay(seat) {
			d.Turn = seat
			return
		}
		d.Played = append(d.Played, PlayedCard{Seat: seat})
		n := len(d.Played)
		if n-d.Since >= 2 && d.Played[n-1].Card == nil && d.Played[n-2].Card == nil {
			last := d.lastCardSeat()
			if last >= 0 {
				award(st, d, last, 1, "go for 1")
			}
			d.resetCount()
			if d.ReachedBy != nil {
				return
			}
			seat = 1 - last
			if last < 0 {
				seat = d.pone()
			}
			continue
		}
		seat = 1 - seat
	}
}

func (d *CribbageData) lastCardSeat() int {
	for i := len(d.Played) - 1; i >= d.Since; i-- {
		if d.Played[i].Card != nil {
			return d.Played[i].Seat
		}
	}
	return -1
}

// finishHand counts pone, dealer, then crib, and deals the next hand.
func (c *Cribbage) finishHand(st *State, d *CribbageData) {
	pone := d.pone()
	starter := *d.Starter
	for _, it := range countHand(d.Kept[pone], starter, false) {
		award(st, d, pone, it.points, "hand: "+it.reason)
	}
	for _, it := range countHand(d.Kept[d.Dealer], starter, false) {
		award(st, d, d.Dealer, it.points, "hand: "+it.reason)
	}
	for _, it := range countHand(d.Crib, starter, true) {
		award(st, d, d.Dealer, it.points, "crib: "+it.reason)
	}
	d.Counted = &CountedHands{
		Hands:   [2][]Card{slices.Clone(d.Kept[0]), slices.Clone(d.Kept[1])},
		Crib:    slices.Clone(d.Crib),
		Starter: starter,
	}
	if d.ReachedBy != nil {
		return
	}
	d.HandsCompleted++
	d.Dealer = 1 - d.Dealer
	c.deal(d)
}

// award pegs points for seat. Nothing scores once a seat has reached the target.
func award(st *State, d *CribbageData, seat, points int, reason string) {
	if d.ReachedBy != nil || points == 0 {
		return
	}
	st.Players[seat].Score += points
	d.Scoring = append(d.Scoring, ScoreEntry{Seat: seat, Points: points, Reason: reason})
	if st.Players[seat].Score >= d.Target {
		d.ReachedBy = &seat
	}
}

func (*Cribbage) CheckTerminal(st State) Terminal {
	d, ok := st.Data.(*CribbageData)
	if !ok || d.ReachedBy == nil {
		return Terminal{}
	}
	return Terminal{Ended: true, Winner: *d.ReachedBy, Reason: "target reached"}
}

// PrepareRematch hands the first deal to the other seat.
func (c *Cribbage) PrepareRematch(st State) State {
	next := resetForRematch(st, c.ClockSettings(st.Settings))
	first := 0
	if d, ok := st.Data.(*CribbageData); ok && d.FirstDealer >= 0 {
		first = 1 - d.FirstDealer
	}
	next.Data = &CribbageData{Stage: stageCrib, Target: st.Settings.Target, FirstDealer: first}
	return next
}

// SanitizeForViewer hides the opponent's cards and the crib until counted.
func (*Cribbage) SanitizeForViewer(st State, seat int) State {
	out := st.Clone()
	d, ok := out.Data.(*CribbageData)
	if !ok {
		return out
	}
	for i := range d.Hands {
		if i == seat {
			continue
		}
		d.Hands[i] = hideCards(d.Hands[i])
		d.Kept[i] = hideCards(d.Kept[i])
	}
	d.Crib = hideCards(d.Crib)
	d.Deck = nil
	return out
}
