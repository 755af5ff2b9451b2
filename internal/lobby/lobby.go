// Package lobby is the matchmaking layer: it keeps the open and active
// sessions for every game type, routes participant requests to them and fans
// session updates out to the right transports.
package lobby

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/gameroom/internal/game"
	"github.com/jason-s-yu/gameroom/internal/registry"
	"github.com/jason-s-yu/gameroom/internal/ruleset"
)

const maxChatLength = 500

var (
	ErrNoMatch     = errors.New("you are not in a game")
	ErrHoldsMatch  = errors.New("you are already in a game")
	ErrNoOpenGame  = errors.New("you have no open game")
	ErrUnknownGame = errors.New("that game no longer exists")
)

// Options wires the lobby to the services shared by every session.
type Options struct {
	Ratings      game.RatingResolver
	Actions      game.ActionLog
	PregameDelay time.Duration
	Logger       *logrus.Logger
}

// Lobby owns the open sessions (seats left) and the active ones (full,
// running or ended but not yet closed).
type Lobby struct {
	// mu serializes create and cancel so a participant can never host two games.
	mu sync.Mutex

	open     *game.Store
	active   *game.Store
	registry *registry.Registry

	opts   Options
	logger *logrus.Logger
}

// New builds a lobby on top of reg and installs itself as reg's eviction hook.
func New(reg *registry.Registry, opts Options) *Lobby {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	l := &Lobby{
		open:     game.NewStore(),
		active:   game.NewStore(),
		registry: reg,
		opts:     opts,
		logger:   opts.Logger,
	}
	reg.OnEvict(l.evicted)
	return l
}

// Connect admits a transport for p browsing tag's lobby. A participant that
// already has a live transport gets the old one told to go away; one that
// still holds a match gets its current view.
func (l *Lobby) Connect(t registry.Transport, p registry.Participant, tag string) registry.Participant {
	p, old := l.registry.Admit(t, p)
	if old != nil && old != t {
		old.Send(EventForceDisconnect, struct{}{})
		old.Close("connected from another location")
	}
	l.registry.Associate(p.ID, registry.Lobby(tag))
	p.LobbyTag = tag

	t.Send(EventGameList, ruleset.Catalogue())
	t.Send(EventAvailableGames, l.ListOpen(tag, p.ID))

	if p.MatchID == uuid.Nil {
		return p
	}
	s := l.find(p.MatchID)
	if s == nil {
		l.registry.Associate(p.ID, registry.NoMatch())
		p.MatchID = uuid.Nil
		return p
	}
	s.SetConnected(p.ID, true)
	t.Send(EventUpdateGameState, s.ViewFor(s.Snapshot(), p.ID))
	return p
}

// Disconnect starts id's grace period if t is still its transport.
func (l *Lobby) Disconnect(id uuid.UUID, t registry.Transport) {
	if !l.registry.MarkDisconnected(id, t) {
		return
	}
	p, ok := l.registry.Get(id)
	if !ok || p.MatchID == uuid.Nil {
		return
	}
	if s := l.find(p.MatchID); s != nil {
		s.SetConnected(id, false)
	}
}

// evicted runs once a participant's grace period is over.
func (l *Lobby) evicted(p registry.Participant) {
	if p.MatchID == uuid.Nil {
		return
	}
	log := l.logger.WithFields(logrus.Fields{"user": p.ID, "match": p.MatchID})
	if s, ok := l.open.Get(p.MatchID); ok {
		if s.Host == p.ID {
			l.cancel(s)
			return
		}
		if err := s.RemovePlayer(p.ID, ruleset.ReasonDisconnect); err != nil {
			log.WithError(err).Debug("evicted participant was not seated")
		}
		return
	}
	s, ok := l.active.Get(p.MatchID)
	if !ok {
		return
	}
	var err error
	if s.Status() == ruleset.StatusEnded {
		_, err = s.RequestExit(p.ID)
	} else {
		err = s.RemovePlayer(p.ID, ruleset.ReasonDisconnect)
	}
	if err != nil {
		log.WithError(err).Warn("failed to release evicted participant")
	}
}

// CreateGame opens a new session hosted by id.
func (l *Lobby) CreateGame(id uuid.UUID, settings ruleset.Settings) (game.Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.registry.Get(id)
	if !ok {
		return game.Summary{}, ruleset.Illegal("you are not connected")
	}
	if p.MatchID != uuid.Nil {
		return game.Summary{}, &ruleset.IllegalMove{Err: ErrHoldsMatch}
	}
	if settings.Game == "" {
		settings.Game = p.LobbyTag
	}
	rules, err := ruleset.New(settings.Game)
	if err != nil {
		return game.Summary{}, err
	}
	if err := rules.VerifySettings(settings); err != nil {
		return game.Summary{}, err
	}

	var s *game.Session
	s, err = game.New(rules, settings, participantOf(p), game.Options{
		PregameDelay: l.opts.PregameDelay,
		Ratings:      l.opts.Ratings,
		Actions:      l.opts.Actions,
		Logger:       l.logger,
		Notify: func(u game.Update) {
			l.deliver(s, u)
		},
	})
	if err != nil {
		return game.Summary{}, err
	}
	l.open.Add(s)
	l.registry.Associate(id, registry.Match(s.ID))

	sum := s.Summary()
	sent := l.registry.Broadcast(s.Game, id, EventAvailableNew, sum)
	l.logger.WithFields(logrus.Fields{"match": s.ID, "game": s.Game, "host": id, "notified": sent}).Info("game created")
	return sum, nil
}

// ListOpen lists the sessions of tag still waiting for players, oldest
// first, leaving out the ones requester hosts.
func (l *Lobby) ListOpen(tag string, requester uuid.UUID) []game.Summary {
	out := make([]game.Summary, 0)
	for _, s := range l.open.List(tag) {
		if s.Host == requester {
			continue
		}
		sum := s.Summary()
		if sum.Status != ruleset.StatusWaiting {
			continue
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b game.Summary) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// JoinGame seats id in an open session. Losing a race for the last seat
// comes back as ErrFull. Joining the match one already holds re-seats.
func (l *Lobby) JoinGame(id, matchID uuid.UUID) error {
	p, ok := l.registry.Get(id)
	if !ok {
		return ruleset.Illegal("you are not connected")
	}
	if p.MatchID != uuid.Nil && p.MatchID != matchID {
		return &ruleset.IllegalMove{Err: ErrHoldsMatch}
	}
	s, ok := l.open.Get(matchID)
	if !ok {
		if s, ok = l.active.Get(matchID); !ok {
			return &ruleset.IllegalMove{Err: ErrUnknownGame}
		}
		if p.MatchID != matchID {
			l.retract(id, matchID)
			return &ruleset.IllegalMove{Err: ruleset.ErrFull}
		}
	}

	// associate first so the pregame update already finds id in the match
	l.registry.Associate(id, registry.Match(matchID))
	if _, err := s.AddPlayer(participantOf(p)); err != nil {
		if p.MatchID != matchID {
			l.registry.Associate(id, registry.NoMatch())
			// the promotion broadcast skipped id while it was associated
			if _, open := l.open.Get(matchID); !open {
				l.retract(id, matchID)
			}
		}
		return err
	}
	l.logger.WithFields(logrus.Fields{"match": matchID, "user": id}).Info("player joined")
	return nil
}

// CancelGame withdraws id's open game. It fails once somebody has joined.
func (l *Lobby) CancelGame(id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.open.HostedBy(id)
	if s == nil {
		return &ruleset.IllegalMove{Err: ErrNoOpenGame}
	}
	if !l.cancel(s) {
		return ruleset.Illegal("this game has already started")
	}
	return nil
}

// retract takes a listing that is no longer joinable off one participant's screen.
func (l *Lobby) retract(id, matchID uuid.UUID) {
	l.registry.Send(id, EventCancelGame, CancelPayload{ID: matchID})
}

func (l *Lobby) cancel(s *game.Session) bool {
	if !s.CancelWaiting() {
		return false
	}
	l.open.Remove(s.ID)
	for _, u := range s.Participants() {
		l.registry.Associate(u.ID, registry.NoMatch())
	}
	l.registry.Broadcast(s.Game, uuid.Nil, EventCancelGame, CancelPayload{ID: s.ID})
	l.logger.WithFields(logrus.Fields{"match": s.ID, "game": s.Game}).Info("game cancelled")
	return true
}

// PlayMove forwards a move to id's match.
func (l *Lobby) PlayMove(id uuid.UUID, move json.RawMessage) error {
	s, err := l.matchOf(id)
	if err != nil {
		return err
	}
	return s.PlayMove(id, move)
}

// RequestRematch records id's consent in its ended match.
func (l *Lobby) RequestRematch(id uuid.UUID) error {
	s, err := l.matchOf(id)
	if err != nil {
		return err
	}
	_, err = s.RequestRematch(id)
	return err
}

// RequestExit takes id out of its match. From an open game this gives up the
// seat, or cancels the game for the host; from an ended match it records the
// exit and frees id to join another game.
func (l *Lobby) RequestExit(id uuid.UUID) error {
	s, err := l.matchOf(id)
	if err != nil {
		return err
	}
	if _, open := l.open.Get(s.ID); open {
		if s.Host == id {
			return l.CancelGame(id)
		}
		if err := s.RemovePlayer(id, ruleset.ReasonForfeit); err != nil {
			return err
		}
		l.registry.Associate(id, registry.NoMatch())
		return nil
	}
	_, err = s.RequestExit(id)
	return err
}

// Forfeit concedes id's running match.
func (l *Lobby) Forfeit(id uuid.UUID) error {
	s, err := l.matchOf(id)
	if err != nil {
		return err
	}
	if s.Status() == ruleset.StatusWaiting {
		return &ruleset.IllegalMove{Err: ruleset.ErrNotActive}
	}
	return s.RemovePlayer(id, ruleset.ReasonForfeit)
}

// Chat relays a message to id's match, or to everyone browsing id's lobby.
func (l *Lobby) Chat(id uuid.UUID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ruleset.Invalid("message is empty")
	}
	if utf8.RuneCountInString(message) > maxChatLength {
		return ruleset.Invalid("message is longer than %d characters", maxChatLength)
	}
	p, ok := l.registry.Get(id)
	if !ok {
		return ruleset.Illegal("you are not connected")
	}
	payload := ChatPayload{User: p.Name, Message: message}

	if p.MatchID != uuid.Nil {
		if s := l.find(p.MatchID); s != nil {
			for _, u := range s.Participants() {
				l.registry.Send(u.ID, EventChatMatch, payload)
			}
			return nil
		}
	}
	l.registry.Broadcast(p.LobbyTag, uuid.Nil, EventChatLobby, payload)
	return nil
}

// Find returns the session with id, open or active.
func (l *Lobby) Find(id uuid.UUID) (*game.Session, bool) {
	s := l.find(id)
	return s, s != nil
}

// Counts reports the number of open and active sessions.
func (l *Lobby) Counts() (open, active int) {
	return l.open.Len(), l.active.Len()
}

// Close cancels every session; used on shutdown.
func (l *Lobby) Close() {
	for _, s := range append(l.open.List(""), l.active.List("")...) {
		s.Cancel()
		l.open.Remove(s.ID)
		l.active.Remove(s.ID)
	}
}

func (l *Lobby) find(id uuid.UUID) *game.Session {
	if s, ok := l.open.Get(id); ok {
		return s
	}
	if s, ok := l.active.Get(id); ok {
		return s
	}
	return nil
}

func (l *Lobby) matchOf(id uuid.UUID) (*game.Session, error) {
	p, ok := l.registry.Get(id)
	if !ok || p.MatchID == uuid.Nil {
		return nil, &ruleset.IllegalMove{Err: ErrNoMatch}
	}
	s := l.find(p.MatchID)
	if s == nil {
		return nil, &ruleset.IllegalMove{Err: ErrUnknownGame}
	}
	return s, nil
}

// deliver fans one session update out. It runs under the session lock, so it
// only touches the stores and the registry, never the session itself beyond
// the lock-free ViewFor.
func (l *Lobby) deliver(s *game.Session, u game.Update) {
	seated := seatedIDs(u.State)

	switch u.Kind {
	case game.UpdateState:
		if u.State.Status != ruleset.StatusWaiting {
			l.promote(s)
		}
		for _, c := range u.State.RatingChanges {
			l.registry.SetRating(c.ID, c.NewRating)
		}
		for _, id := range seated {
			l.registry.Send(id, EventUpdateGameState, s.ViewFor(u.State, id))
		}
	case game.UpdateRematch:
		for _, id := range seated {
			l.registry.Send(id, EventRematchRequest, RematchPayload{Players: u.Names})
		}
	case game.UpdateExit:
		l.registry.Associate(u.Actor, registry.NoMatch())
		for _, id := range seated {
			if id != u.Actor && len(u.Names) > 0 {
				l.registry.Send(id, EventUserExit, ExitPayload{Name: u.Names[0]})
			}
		}
	case game.UpdateClosed:
		l.active.Remove(s.ID)
		l.logger.WithField("match", s.ID).Info("game retired")
	}
}

// promote moves a filled session from the open set to the active set and
// takes its listing down.
func (l *Lobby) promote(s *game.Session) {
	if _, ok := l.open.Get(s.ID); !ok {
		return
	}
	l.active.Add(s)
	l.open.Remove(s.ID)
	l.registry.Broadcast(s.Game, uuid.Nil, EventCancelGame, CancelPayload{ID: s.ID})
	l.logger.WithField("match", s.ID).Debug("game promoted to active")
}

func seatedIDs(st ruleset.State) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(st.Players))
	for _, p := range st.Players {
		if p.User != nil {
			out = append(out, p.User.ID)
		}
	}
	return out
}

func participantOf(p registry.Participant) ruleset.Participant {
	return ruleset.Participant{ID: p.ID, Name: p.Name, Rating: p.Rating}
}
