// Package game runs one match: it wraps a ruleset with the lifecycle
// waiting -> pregame -> playing -> ended (-> pregame on rematch), owns the
// turn clock and hands every transition to the lobby as a state snapshot.
package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/gameroom/internal/clock"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/rating"
	"github.com/jason-s-yu/gameroom/internal/ruleset"
)

const (
	DefaultPregameDelay = 1500 * time.Millisecond

	ratingTimeout  = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// UpdateKind says what an Update reports.
type UpdateKind string

const (
	UpdateState   UpdateKind = "state"
	UpdateRematch UpdateKind = "rematch"
	UpdateExit    UpdateKind = "exit"
	UpdateClosed  UpdateKind = "closed"
)

// Update is handed to the Notify callback after every transition. State is a
// private copy and is never touched by the session again.
type Update struct {
	MatchID uuid.UUID
	Kind    UpdateKind
	State   ruleset.State
	// Names lists who asked for a rematch, or who left for UpdateExit.
	Names []string
	Actor uuid.UUID
}

// NotifyFunc receives updates while the session lock is held. It must not
// block or call back into the session.
type NotifyFunc func(Update)

// RatingResolver persists the result of a finished match.
type RatingResolver interface {
	ResolveRanking(ctx context.Context, game string, placements []rating.Placement) ([]rating.Change, error)
}

// ActionLog receives every accepted transition, best effort.
type ActionLog interface {
	PublishMatchAction(ctx context.Context, action models.MatchAction) error
}

// Options wires a session to the rest of the service. Everything is optional.
type Options struct {
	PregameDelay time.Duration
	Ratings      RatingResolver
	Actions      ActionLog
	Notify       NotifyFunc
	Logger       *logrus.Logger
	Now          func() time.Time
}

// Session is one match.
type Session struct {
	ID        uuid.UUID
	Game      string
	Host      uuid.UUID
	CreatedAt time.Time

	mu    sync.Mutex
	rules ruleset.Ruleset
	state ruleset.State
	clock *clock.Clock

	// gen invalidates pending timer callbacks; every transition that could
	// strand one bumps it.
	gen         uint64
	pregame     *time.Timer
	exited      map[uuid.UUID]bool
	closed      bool
	actionIndex int

	opts   Options
	logger *logrus.Entry
}

// Summary is the lobby listing entry for a session.
type Summary struct {
	ID        uuid.UUID           `json:"id"`
	Game      string              `json:"game"`
	Host      ruleset.Participant `json:"host"`
	Settings  ruleset.Settings    `json:"settings"`
	Seats     int                 `json:"seats"`
	Open      int                 `json:"open"`
	Status    ruleset.Status      `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
}

// View is the state as one recipient sees it.
type View struct {
	ruleset.State
	MyIndex int `json:"myIndex"`
}

// New creates a waiting session with host seated.
func New(rules ruleset.Ruleset, settings ruleset.Settings, host ruleset.Participant, opts Options) (*Session, error) {
	settings.Host = host
	st, err := rules.InitialState(settings)
	if err != nil {
		return nil, err
	}
	if opts.PregameDelay <= 0 {
		opts.PregameDelay = DefaultPregameDelay
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	id, _ := uuid.NewRandom()
	s := &Session{
		ID:        id,
		Game:      rules.Name(),
		Host:      host.ID,
		CreatedAt: opts.Now(),
		rules:     rules,
		state:     st,
		clock:     clock.New(rules.ClockSettings(st.Settings)).WithNow(opts.Now),
		exited:    make(map[uuid.UUID]bool),
		opts:      opts,
	}
	s.logger = opts.Logger.WithFields(logrus.Fields{"match": id, "game": s.Game})
	s.logAction(host.ID, "match_create", map[string]interface{}{"settings": st.Settings})
	return s, nil
}

// AddPlayer seats p, or refreshes p's seat on reconnect. Filling the last seat
// starts the pregame countdown.
func (s *Session) AddPlayer(p ruleset.Participant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, &ruleset.IllegalMove{Err: ruleset.ErrEnded}
	}
	next, seated, err := s.rules.AddPlayer(s.state, p)
	if err != nil {
		return false, err
	}
	s.state = next
	if seated {
		s.logger.WithField("user", p.ID).Info("player seated")
		s.logAction(p.ID, "player_join", nil)
	}
	if seated && s.state.Status == ruleset.StatusWaiting && s.state.Full() {
		s.enterPregame()
	}
	s.publish()
	return seated, nil
}

// enterPregame arms the settling delay. Assumes lock is held.
func (s *Session) enterPregame() {
	s.state.Status = ruleset.StatusPregame
	s.gen++
	gen := s.gen
	if s.pregame != nil {
		s.pregame.Stop()
	}
	s.pregame = time.AfterFunc(s.opts.PregameDelay, func() {
		s.startPlaying(gen)
	})
	s.logger.Info("pregame started")
	s.logAction(uuid.Nil, "match_pregame", nil)
}

func (s *Session) startPlaying(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state.Status != ruleset.StatusPregame {
		s.logger.Debug("stale pregame timer ignored")
		return
	}
	s.pregame = nil
	s.state = s.rules.Begin(s.state)
	s.state.Status = ruleset.StatusPlaying
	s.startTurn()
	s.logger.Info("match started")
	s.logAction(uuid.Nil, "match_start", nil)
	s.publish()
}

// startTurn puts the seat whose turn it is on the clock. Assumes lock is held.
func (s *Session) startTurn() {
	seat := s.rules.Turn(s.state)
	if seat < 0 {
		return
	}
	s.gen++
	gen := s.gen
	s.clock.Start(&s.state.Players[seat].Clock, func() {
		s.expire(gen, seat)
	})
}

// expire is the clock callback. A move or a forfeit that got the lock first
// has bumped gen, which turns this into a no-op.
func (s *Session) expire(gen uint64, seat int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state.Status != ruleset.StatusPlaying || s.rules.Turn(s.state) != seat {
		s.logger.WithField("seat", seat).Debug("stale expiry ignored")
		return
	}
	s.timeout(seat)
}

// timeout applies a clock loss to seat. Assumes lock is held.
func (s *Session) timeout(seat int) {
	s.clock.Stop(&s.state.Players[seat].Clock)
	s.logger.WithField("seat", seat).Info("clock expired")
	s.logAction(s.userAt(seat), "player_timeout", nil)
	s.state = s.rules.OnExpire(s.state, seat)
	s.finish()
}

// PlayMove applies a move for participant id. A rejected move leaves the
// state exactly as it was.
func (s *Session) PlayMove(id uuid.UUID, move json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.state.SeatOf(id)
	if seat < 0 {
		return &ruleset.IllegalMove{Err: ruleset.ErrNotSeated}
	}
	switch s.state.Status {
	case ruleset.StatusPlaying:
	case ruleset.StatusEnded:
		return &ruleset.IllegalMove{Err: ruleset.ErrEnded}
	default:
		return &ruleset.IllegalMove{Err: ruleset.ErrNotActive}
	}
	if !s.rules.CanMove(s.state, seat) {
		return &ruleset.IllegalMove{Err: ruleset.ErrNotYourTurn}
	}

	// an expiry that lost the race for the lock still counts
	running := s.state.Running()
	if running >= 0 {
		left := s.clock.TimeRemaining(s.state.Players[running].Clock)
		if !left.Unlimited && left.Main <= 0 && left.Reserve <= 0 {
			s.timeout(running)
			return &ruleset.IllegalMove{Err: ruleset.ErrEnded}
		}
	}

	next, err := s.rules.ApplyMove(s.state, seat, move)
	if err != nil {
		return err
	}
	if term := s.rules.CheckTerminal(next); term.Ended {
		next = ruleset.EndWith(next, term.Winner, term.Reason)
	}

	turn := s.rules.Turn(next)
	restart := running != turn || running == seat
	if running >= 0 && restart {
		s.clock.Stop(&next.Players[running].Clock)
	}
	s.state = next
	s.logAction(id, "player_move", map[string]interface{}{"seat": seat, "move": move})

	if s.state.Status == ruleset.StatusEnded {
		s.finish()
		return nil
	}
	if restart {
		s.startTurn()
	}
	s.publish()
	return nil
}

// RemovePlayer takes id out of the match. Before the match starts this frees
// the seat; during pregame or play it is a forfeit.
func (s *Session) RemovePlayer(id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.state.SeatOf(id)
	if seat < 0 {
		return &ruleset.IllegalMove{Err: ruleset.ErrNotSeated}
	}
	switch s.state.Status {
	case ruleset.StatusWaiting:
		s.state = s.state.Clone()
		s.state.Players[seat].User = nil
		s.state.Players[seat].Connected = false
		s.logAction(id, "player_leave", nil)
		s.publish()
		return nil
	case ruleset.StatusEnded:
		return nil
	}

	if s.pregame != nil {
		s.pregame.Stop()
		s.pregame = nil
	}
	if running := s.state.Running(); running >= 0 {
		s.clock.Stop(&s.state.Players[running].Clock)
	}
	s.logger.WithFields(logrus.Fields{"seat": seat, "reason": reason}).Info("player removed")
	s.logAction(id, "player_forfeit", map[string]interface{}{"reason": reason})
	s.state = ruleset.Forfeit(s.state, seat, reason)
	s.finish()
	return nil
}

// finish settles an ended match: clocks off, ratings written, update sent.
// Assumes lock is held.
func (s *Session) finish() {
	s.gen++
	s.clock.Cancel()
	for i := range s.state.Players {
		if s.state.Players[i].Clock.Running() {
			s.clock.Stop(&s.state.Players[i].Clock)
		}
	}

	if s.opts.Ratings != nil && len(s.state.Ranking) > 0 {
		placements := make([]rating.Placement, 0, len(s.state.Ranking))
		for _, p := range s.state.Ranking {
			if u := s.state.Players[p.Seat].User; u != nil {
				placements = append(placements, rating.Placement{ID: u.ID, Rank: p.Rank})
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), ratingTimeout)
		changes, err := s.opts.Ratings.ResolveRanking(ctx, s.Game, placements)
		cancel()
		if err != nil {
			s.logger.WithError(err).Error("failed to resolve ratings")
		}
		s.state.RatingChanges = changes
		for _, c := range changes {
			if seat := s.state.SeatOf(c.ID); seat >= 0 {
				s.state.Players[seat].User.Rating = c.NewRating
			}
		}
	}

	fields := logrus.Fields{"reason": s.state.Reason}
	if s.state.Winner != nil {
		fields["winner"] = *s.state.Winner
	}
	s.logger.WithFields(fields).Info("match ended")
	s.logAction(uuid.Nil, "match_end", map[string]interface{}{"reason": s.state.Reason, "winner": s.state.Winner})
	s.publish()
}

// RequestRematch records id's consent. Once every seat agrees the match goes
// back to pregame; the returned bool reports that.
func (s *Session) RequestRematch(id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.state.SeatOf(id)
	if seat < 0 {
		return false, &ruleset.IllegalMove{Err: ruleset.ErrNotSeated}
	}
	if s.state.Status != ruleset.StatusEnded {
		return false, &ruleset.IllegalMove{Err: ruleset.ErrNotEnded}
	}
	if len(s.exited) > 0 || s.closed {
		return false, ruleset.Illegal("your opponent has left")
	}

	s.state = s.state.Clone()
	s.state.Players[seat].Rematch = true
	names := make([]string, 0, len(s.state.Players))
	all := true
	for _, p := range s.state.Players {
		if p.Rematch {
			names = append(names, p.User.Name)
		} else {
			all = false
		}
	}
	s.notify(Update{Kind: UpdateRematch, Names: names, Actor: id})

	if !all {
		return false, nil
	}
	s.state = s.rules.PrepareRematch(s.state)
	s.enterPregame()
	s.logger.Info("rematch accepted")
	s.publish()
	return true, nil
}

// RequestExit records that id has left an ended match. The returned bool is
// true once every seat has left and the session is closed.
func (s *Session) RequestExit(id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.state.SeatOf(id)
	if seat < 0 {
		return false, &ruleset.IllegalMove{Err: ruleset.ErrNotSeated}
	}
	if s.state.Status != ruleset.StatusEnded {
		return false, &ruleset.IllegalMove{Err: ruleset.ErrNotEnded}
	}
	if s.closed {
		return true, nil
	}
	if !s.exited[id] {
		s.exited[id] = true
		s.state = s.state.Clone()
		s.state.Players[seat].Connected = false
		s.state.Players[seat].Rematch = false
		s.logAction(id, "player_exit", nil)
		s.notify(Update{Kind: UpdateExit, Names: []string{s.state.Players[seat].User.Name}, Actor: id})
	}
	if len(s.exited) < len(s.state.Players) {
		return false, nil
	}
	s.closed = true
	s.gen++
	s.clock.Cancel()
	s.logger.Info("match closed")
	s.notify(Update{Kind: UpdateClosed})
	return true, nil
}

// SetConnected flags a seat's transport state without touching the game.
func (s *Session) SetConnected(id uuid.UUID, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.state.SeatOf(id)
	if seat < 0 || s.state.Players[seat].Connected == connected {
		return
	}
	s.state = s.state.Clone()
	s.state.Players[seat].Connected = connected
	s.publish()
}

// CancelWaiting closes the session if nobody has joined it yet. It reports
// false once the seats have filled, so a cancel cannot beat a join that
// already got the lock.
func (s *Session) CancelWaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state.Status != ruleset.StatusWaiting {
		return false
	}
	s.closed = true
	s.gen++
	s.logger.Info("match cancelled")
	s.logAction(s.Host, "match_cancel", nil)
	return true
}

// Cancel stops every timer and closes the session whatever its status; used
// on shutdown.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.closed = true
	if s.pregame != nil {
		s.pregame.Stop()
		s.pregame = nil
	}
	s.clock.Cancel()
}

// Snapshot returns the current state with running clocks charged up to now.
func (s *Session) Snapshot() ruleset.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() ruleset.State {
	st := s.state.Clone()
	for i := range st.Players {
		st.Players[i].Clock = s.clock.Live(st.Players[i].Clock)
	}
	return st
}

// ViewFor redacts st for the participant id. Non-participants see no private data.
func (s *Session) ViewFor(st ruleset.State, id uuid.UUID) View {
	seat := st.SeatOf(id)
	return View{State: s.rules.SanitizeForViewer(st, seat), MyIndex: seat}
}

// Status is the current lifecycle status.
func (s *Session) Status() ruleset.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status
}

// Closed reports whether the session has been closed or cancelled.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Participants lists the seated participants in seat order.
func (s *Session) Participants() []ruleset.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ruleset.Participant, 0, len(s.state.Players))
	for _, p := range s.state.Players {
		if p.User != nil {
			out = append(out, *p.User)
		}
	}
	return out
}

// Summary describes the session for lobby listings.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		ID:        s.ID,
		Game:      s.Game,
		Settings:  s.state.Settings,
		Seats:     len(s.state.Players),
		Status:    s.state.Status,
		CreatedAt: s.CreatedAt,
	}
	for _, p := range s.state.Players {
		if p.User == nil {
			sum.Open++
			continue
		}
		if p.User.ID == s.Host {
			sum.Host = *p.User
		}
	}
	return sum
}

func (s *Session) userAt(seat int) uuid.UUID {
	if u := s.state.Players[seat].User; u != nil {
		return u.ID
	}
	return uuid.Nil
}

// publish sends the current state. Assumes lock is held.
func (s *Session) publish() {
	s.notify(Update{Kind: UpdateState, State: s.snapshot()})
}

func (s *Session) notify(u Update) {
	if s.opts.Notify == nil {
		return
	}
	u.MatchID = s.ID
	if u.Kind != UpdateState {
		u.State = s.snapshot()
	}
	s.opts.Notify(u)
}

// logAction queues the transition for the historian. Assumes lock is held.
func (s *Session) logAction(actor uuid.UUID, actionType string, payload map[string]interface{}) {
	s.actionIndex++
	if s.opts.Actions == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	rec := models.MatchAction{
		MatchID:       s.ID,
		Game:          s.Game,
		ActionIndex:   s.actionIndex,
		ActorUserID:   actor,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     s.opts.Now().UnixMilli(),
	}
	go func(rec models.MatchAction) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.opts.Actions.PublishMatchAction(ctx, rec); err != nil {
			s.logger.WithError(err).WithField("action", rec.ActionIndex).Warn("failed to publish match action")
		}
	}(rec)
}
