package ruleset

import (
	"encoding/json"
	"fmt"

	"github.com/jason-s-yu/gameroom/internal/clock"
)

const NamePushfight = "pushfight"

// Board geometry: 8 rows of 4 columns, numbered row-major from the white end.
const (
	pfCols   = 4
	pfRows   = 8
	pfSpaces = pfCols * pfRows

	offPit  = -1
	offRail = -2

	stageSetup = "setup"
	stagePlay  = "play"

	KindPusher = "pusher"
	KindRound  = "round"

	pfPushers = 3
	pfRounds  = 2
)

var pfCutouts = map[int]bool{0: true, 3: true, 7: true, 24: true, 28: true, 31: true}

var pfDirections = map[string][2]int{
	"up":    {-1, 0},
	"down":  {1, 0},
	"left":  {0, -1},
	"right": {0, 1},
}

// Pushfight is the board game. Seat 0 plays white and moves first.
type Pushfight struct {
	twoPlayer
}

// Piece sits on one board space.
type Piece struct {
	Owner int    `json:"owner"`
	Kind  string `json:"kind"`
}

// PushfightData is the board plus the anchor. Board entries are nil for empty
// spaces and for the cut-outs.
type PushfightData struct {
	Stage  string   `json:"stage"`
	Board  []*Piece `json:"board"`
	Anchor int      `json:"anchor"`
	Loser  *int     `json:"loser,omitempty"`
	Result string   `json:"result,omitempty"`
}

func newPushfightData() *PushfightData {
	return &PushfightData{
		Stage:  stageSetup,
		Board:  make([]*Piece, pfSpaces),
		Anchor: -1,
	}
}

func (d *PushfightData) Clone() Data {
	cp := *d
	cp.Board = make([]*Piece, len(d.Board))
	for i, p := range d.Board {
		if p != nil {
			pc := *p
			cp.Board[i] = &pc
		}
	}
	if d.Loser != nil {
		l := *d.Loser
		cp.Loser = &l
	}
	return &cp
}

func (d *PushfightData) lose(seat int, reason string) {
	d.Loser = &seat
	d.Result = reason
}

type pfPlacement struct {
	Space int    `json:"space" validate:"gte=0,lt=32"`
	Kind  string `json:"kind" validate:"required,oneof=pusher round"`
}

type pfSlide struct {
	From int `json:"from" validate:"gte=0,lt=32"`
	To   int `json:"to" validate:"gte=0,lt=32"`
}

type pfPush struct {
	From      int    `json:"from" validate:"gte=0,lt=32"`
	Direction string `json:"direction" validate:"required,oneof=up down left right"`
}

type pfSetupMove struct {
	Placements []pfPlacement `json:"placements" validate:"required,dive"`
}

type pfPlayMove struct {
	Moves []pfSlide `json:"moves" validate:"max=2,dive"`
	Push  *pfPush   `json:"push"`
}

func (*Pushfight) Name() string { return NamePushfight }

func (*Pushfight) VerifySettings(s Settings) error {
	if err := wrongGame(s, NamePushfight); err != nil {
		return err
	}
	if s.Color == "" {
		return Invalid("invalid color specified")
	}
	if err := checkStruct(s); err != nil {
		return err
	}
	return verifyTimer(s, 5)
}

func (*Pushfight) ClockSettings(s Settings) clock.Settings {
	return minuteClock(s)
}

func (p *Pushfight) InitialState(s Settings) (State, error) {
	if err := p.VerifySettings(s); err != nil {
		return State{}, err
	}
	slots := newSlots(2, p.ClockSettings(s))
	seat := 0
	if s.Color == "black" {
		seat = 1
	}
	hostSlot(s, seat, slots)
	s.Host = Participant{}
	return State{
		Status:   StatusWaiting,
		Game:     NamePushfight,
		Settings: s,
		Players:  slots,
		Data:     newPushfightData(),
	}, nil
}

func (p *Pushfight) Begin(st State) State {
	next := st.Clone()
	if next.Round == 0 && next.Settings.Color == "random" && p.coinFlip() {
		rotateSeats(&next)
	}
	next.TurnsCompleted = 0
	next.Data = newPushfightData()
	return next
}

func (p *Pushfight) ApplyMove(st State, seat int, raw json.RawMessage) (State, error) {
	if err := ensurePlaying(st); err != nil {
		return st, err
	}
	if !p.CanMove(st, seat) {
		return st, illegal(ErrNotYourTurn)
	}
	cur, err := dataAs[*PushfightData](st)
	if err != nil {
		return st, err
	}
	d := cur.Clone().(*PushfightData)

	switch d.Stage {
	case stageSetup:
		var mv pfSetupMove
		if err := decodeMove(raw, &mv); err != nil {
			return st, err
		}
		if err := placePieces(d, seat, mv.Placements); err != nil {
			return st, err
		}
		if st.TurnsCompleted+1 >= 2 {
			d.Stage = stagePlay
		}
	case stagePlay:
		var mv pfPlayMove
		if err := decodeMove(raw, &mv); err != nil {
			return st, err
		}
		if err := playTurn(d, seat, mv); err != nil {
			return st, err
		}
	default:
		return st, fmt.Errorf("unknown pushfight stage %q", d.Stage)
	}

	next := st.Clone()
	next.Data = d
	next.TurnsCompleted++
	return next, nil
}

func placePieces(d *PushfightData, seat int, placements []pfPlacement) error {
	lo, hi := 0, pfSpaces/2
	if seat == 1 {
		lo, hi = pfSpaces/2, pfSpaces
	}
	counts := map[string]int{}
	for _, pl := range placements {
		if pl.Space < lo || pl.Space >= hi || pfCutouts[pl.Space] {
			return Illegal("space %d is not on your side of the board", pl.Space)
		}
		if d.Board[pl.Space] != nil {
			return Illegal("space %d is already taken", pl.Space)
		}
		d.Board[pl.Space] = &Piece{Owner: seat, Kind: pl.Kind}
		counts[pl.Kind]++
	}
	if counts[KindPusher] != pfPushers || counts[KindRound] != pfRounds {
		return Invalid("place exactly %d pushers and %d rounds", pfPushers, pfRounds)
	}
	return nil
}

func playTurn(d *PushfightData, seat int, mv pfPlayMove) error {
	for _, sl := range mv.Moves {
		pc := d.Board[sl.From]
		if pc == nil || pc.Owner != seat {
			return Illegal("no piece of yours on space %d", sl.From)
		}
		if sl.From == sl.To || !reachable(d.Board, sl.From, sl.To) {
			return Illegal("space %d can't be reached from %d", sl.To, sl.From)
		}
		d.Board[sl.To], d.Board[sl.From] = pc, nil
	}

	if mv.Push == nil {
		if canPush(d, seat) {
			return Illegal("you must finish your turn with a push")
		}
		d.lose(seat, "no legal push")
		return nil
	}

	pc := d.Board[mv.Push.From]
	if pc == nil || pc.Owner != seat || pc.Kind != KindPusher {
		return Illegal("no pusher of yours on space %d", mv.Push.From)
	}
	dir := pfDirections[mv.Push.Direction]
	chain, end, err := pushChain(d, mv.Push.From, dir)
	if err != nil {
		return err
	}

	if end == offPit {
		last := chain[len(chain)-1]
		d.lose(d.Board[last].Owner, "pushed off the board")
		d.Board[last] = nil
		chain = chain[:len(chain)-1]
	}
	// shift from the far end so nothing is overwritten
	for i := len(chain) - 1; i >= 0; i-- {
		d.Board[pfStep(chain[i], dir)] = d.Board[chain[i]]
	}
	head := pfStep(mv.Push.From, dir)
	d.Board[head] = pc
	d.Board[mv.Push.From] = nil
	d.Anchor = head
	return nil
}

// pushChain lists the occupied spaces a push from `from` moves, nearest first,
// and what lies past the last one: a space index or offPit.
func pushChain(d *PushfightData, from int, dir [2]int) ([]int, int, error) {
	var chain []int
	at := pfStep(from, dir)
	for at >= 0 && d.Board[at] != nil {
		if at == d.Anchor {
			return nil, 0, Illegal("the anchored piece can't be pushed")
		}
		chain = append(chain, at)
		at = pfStep(at, dir)
	}
	if len(chain) == 0 {
		return nil, 0, Illegal("there is nothing to push")
	}
	if at == offRail {
		return nil, 0, Illegal("the rail blocks that push")
	}
	return chain, at, nil
}

func canPush(d *PushfightData, seat int) bool {
	for space, pc := range d.Board {
		if pc == nil || pc.Owner != seat || pc.Kind != KindPusher {
			continue
		}
		for _, dir := range pfDirections {
			if _, _, err := pushChain(d, space, dir); err == nil {
				return true
			}
		}
	}
	return false
}

// pfStep returns the space one step from `from`, offRail past a long side or
// offPit past a short end or into a cut-out.
func pfStep(from int, dir [2]int) int {
	row, col := from/pfCols+dir[0], from%pfCols+dir[1]
	if col < 0 || col >= pfCols {
		return offRail
	}
	if row < 0 || row >= pfRows {
		return offPit
	}
	next := row*pfCols + col
	if pfCutouts[next] {
		return offPit
	}
	return next
}

// reachable reports whether a piece can slide from one space to another
// through empty spaces.
func reachable(board []*Piece, from, to int) bool {
	if to < 0 || to >= pfSpaces || pfCutouts[to] || board[to] != nil {
		return false
	}
	seen := map[int]bool{from: true}
	queue := []int{from}
	for len(queue) > 0 {
		at := queue[0]
		queue = queue[1:]
		for _, dir := range pfDirections {
			next := pfStep(at, dir)
			if next < 0 || seen[next] || board[next] != nil {
				continue
			}
			if next == to {
				return true
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	return false
}

func (*Pushfight) CheckTerminal(st State) Terminal {
	d, ok := st.Data.(*PushfightData)
	if !ok || d.Loser == nil {
		return Terminal{}
	}
	return Terminal{Ended: true, Winner: 1 - *d.Loser, Reason: d.Result}
}

// PrepareRematch swaps colours and clears the board.
func (p *Pushfight) PrepareRematch(st State) State {
	next := resetForRematch(st, p.ClockSettings(st.Settings))
	rotateSeats(&next)
	next.Data = newPushfightData()
	return next
}
