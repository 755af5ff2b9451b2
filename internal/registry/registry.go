// Package registry tracks connected participants: their live transport, which
// game lobby they are browsing, which match they hold, and the grace period
// that runs after their transport drops.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultGrace is how long a dropped participant may take to reconnect.
const DefaultGrace = 3 * time.Minute

// Transport is one live connection. Send must not block.
type Transport interface {
	Send(event string, payload any) bool
	Close(reason string)
}

// Participant is a snapshot of a connected participant.
type Participant struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Rating   int       `json:"rating"`
	LobbyTag string    `json:"lobbyTag,omitempty"`
	// MatchID is uuid.Nil when the participant holds no match.
	MatchID        uuid.UUID `json:"matchId"`
	Connected      bool      `json:"connected"`
	LastDisconnect time.Time `json:"lastDisconnect,omitempty"`
}

// Association updates a participant's lobby and match. Nil fields are left as is.
type Association struct {
	LobbyTag *string
	MatchID  *uuid.UUID
}

// Lobby and Match build single-field associations.
func Lobby(tag string) Association   { return Association{LobbyTag: &tag} }
func Match(id uuid.UUID) Association { return Association{MatchID: &id} }

// NoMatch clears the participant's match.
func NoMatch() Association { return Match(uuid.Nil) }

type entry struct {
	Participant
	transport Transport
	grace     *time.Timer
	// graceGen invalidates a grace timer that fires after a reconnect won the lock.
	graceGen uint64
}

// EvictFunc is called, outside the registry lock, for a participant whose grace
// period ran out.
type EvictFunc func(p Participant)

// Registry owns every ConnectedParticipant.
type Registry struct {
	mu           sync.Mutex
	participants map[uuid.UUID]*entry

	grace   time.Duration
	onEvict EvictFunc
	now     func() time.Time
	logger  *logrus.Logger
}

// New creates a registry. A zero grace means DefaultGrace.
func New(grace time.Duration, logger *logrus.Logger) *Registry {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		participants: make(map[uuid.UUID]*entry),
		grace:        grace,
		now:          time.Now,
		logger:       logger,
	}
}

// OnEvict sets the eviction callback. Call before any participant is admitted.
func (r *Registry) OnEvict(fn EvictFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// Admit registers a transport for p. If p is already known this is a
// reconnect: the grace timer is cancelled, lobby and match are kept, and the
// replaced transport (if still live) is returned so the caller can retire it.
func (r *Registry) Admit(t Transport, p Participant) (Participant, Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.participants[p.ID]; ok {
		old := r.reconnect(e, t)
		e.Name = p.Name
		r.logger.WithField("user", p.ID).Info("participant reconnected")
		return e.Participant, old
	}
	e := &entry{Participant: p, transport: t}
	e.Connected = true
	e.MatchID = uuid.Nil
	r.participants[p.ID] = e
	r.logger.WithField("user", p.ID).Info("participant admitted")
	return e.Participant, nil
}

// Reconnect swaps in a new transport for a known participant.
func (r *Registry) Reconnect(id uuid.UUID, t Transport) (Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.participants[id]
	if !ok {
		return nil, false
	}
	return r.reconnect(e, t), true
}

// reconnect assumes lock is held.
func (r *Registry) reconnect(e *entry, t Transport) Transport {
	e.graceGen++
	if e.grace != nil {
		e.grace.Stop()
		e.grace = nil
	}
	old := e.transport
	e.transport = t
	e.Connected = true
	return old
}

// Associate updates where a participant is.
func (r *Registry) Associate(id uuid.UUID, a Association) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.participants[id]
	if !ok {
		return false
	}
	if a.LobbyTag != nil {
		e.LobbyTag = *a.LobbyTag
	}
	if a.MatchID != nil {
		e.MatchID = *a.MatchID
	}
	return true
}

// SetRating refreshes the cached rating snapshot.
func (r *Registry) SetRating(id uuid.UUID, rating int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.participants[id]; ok {
		e.Rating = rating
	}
}

// MarkDisconnected starts the grace period for id, but only if t is still the
// participant's current transport; a transport replaced by a newer connection
// closing late is ignored.
func (r *Registry) MarkDisconnected(id uuid.UUID, t Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[id]
	if !ok || e.transport != t {
		return false
	}
	e.transport = nil
	e.Connected = false
	e.LastDisconnect = r.now()
	e.graceGen++
	gen := e.graceGen
	if e.grace != nil {
		e.grace.Stop()
	}
	e.grace = time.AfterFunc(r.grace, func() {
		r.expireGrace(id, gen)
	})
	r.logger.WithFields(logrus.Fields{"user": id, "grace": r.grace}).Info("participant disconnected")
	return true
}

func (r *Registry) expireGrace(id uuid.UUID, gen uint64) {
	r.mu.Lock()
	e, ok := r.participants[id]
	if !ok || e.graceGen != gen || e.Connected {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.Evict(id)
}

// Evict removes id now and runs the eviction callback.
func (r *Registry) Evict(id uuid.UUID) {
	r.mu.Lock()
	e, ok := r.participants[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.participants, id)
	if e.grace != nil {
		e.grace.Stop()
	}
	snap := e.Participant
	onEvict := r.onEvict
	r.mu.Unlock()

	r.logger.WithField("user", id).Info("participant evicted")
	if onEvict != nil {
		onEvict(snap)
	}
}

// Get returns a snapshot of id.
func (r *Registry) Get(id uuid.UUID) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return e.Participant, true
}

// Send delivers one event to id if connected.
func (r *Registry) Send(id uuid.UUID, event string, payload any) bool {
	r.mu.Lock()
	e, ok := r.participants[id]
	var t Transport
	if ok {
		t = e.transport
	}
	r.mu.Unlock()
	if t == nil {
		return false
	}
	return t.Send(event, payload)
}

// Browsing lists the connected participants looking at tag's lobby without a match.
func (r *Registry) Browsing(tag string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Participant
	for _, e := range r.participants {
		if e.Connected && e.LobbyTag == tag && e.MatchID == uuid.Nil {
			out = append(out, e.Participant)
		}
	}
	return out
}

// Broadcast sends an event to everyone browsing tag except skip. The recipient
// list is snapshotted before any send.
func (r *Registry) Broadcast(tag string, skip uuid.UUID, event string, payload any) int {
	sent := 0
	for _, p := range r.Browsing(tag) {
		if p.ID == skip {
			continue
		}
		if r.Send(p.ID, event, payload) {
			sent++
		}
	}
	return sent
}

// Len is the number of known participants, connected or in grace.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}
