package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/gameroom/internal/lobby"
	"github.com/jason-s-yu/gameroom/internal/middleware"
	"github.com/jason-s-yu/gameroom/internal/registry"
	"github.com/jason-s-yu/gameroom/internal/ruleset"
)

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "gameroom"

const (
	outBuffer    = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pingTimeout  = 15 * time.Second
)

// Envelope is one websocket message in either direction. Inbound messages
// may carry an id that the matching ack echoes back.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Ack answers an inbound message.
type Ack struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

const (
	ackOK   = "OK"
	ackFail = "fail"
)

// wsTransport is the registry's handle on one websocket. Send never blocks:
// a full buffer drops the message.
type wsTransport struct {
	user   uuid.UUID
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	reason string
	logger *logrus.Entry
}

func newTransport(user uuid.UUID, logger *logrus.Logger) *wsTransport {
	return &wsTransport{
		user:   user,
		out:    make(chan []byte, outBuffer),
		done:   make(chan struct{}),
		logger: logger.WithField("user", user),
	}
}

func (t *wsTransport) Send(event string, payload any) bool {
	data, err := json.Marshal(outbound{Type: event, Payload: payload})
	if err != nil {
		t.logger.WithError(err).WithField("event", event).Error("failed to marshal outbound event")
		return false
	}
	return t.enqueue(data, event)
}

func (t *wsTransport) enqueue(data []byte, event string) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.out <- data:
		return true
	default:
		t.logger.WithField("event", event).Warn("outbound buffer full, dropping message")
		return false
	}
}

func (t *wsTransport) Close(reason string) {
	t.once.Do(func() {
		t.reason = reason
		close(t.done)
	})
}

func (t *wsTransport) ack(id string, payload any, err error) {
	a := Ack{Type: "ack", ID: id, Status: ackOK, Payload: payload}
	if err != nil {
		a.Status = ackFail
		a.Message = err.Error()
		a.Payload = nil
	}
	data, merr := json.Marshal(a)
	if merr != nil {
		t.logger.WithError(merr).Error("failed to marshal ack")
		return
	}
	t.enqueue(data, "ack")
}

// ServeWS upgrades a participant into the lobby of the game named in the URL.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	tag := strings.ToLower(chi.URLParam(r, "game"))
	if !ruleset.Known(tag) {
		http.Error(w, "unknown game", http.StatusNotFound)
		return
	}
	ident, err := s.identify(w, r)
	if err != nil {
		s.Logger.WithError(err).Error("failed to identify participant")
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}
	name, rating := s.profile(r.Context(), ident, tag)

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: originHosts(s.Origins),
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the gameroom subprotocol")
		return
	}
	middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	t := newTransport(ident.ID, s.Logger)
	go s.writePump(ctx, c, t)

	s.Lobby.Connect(t, registry.Participant{ID: ident.ID, Name: name, Rating: rating}, tag)
	err = s.readPump(ctx, c, t)
	cancel()

	s.Lobby.Disconnect(ident.ID, t)
	t.Close("read loop ended")
	middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, err)
}

// originHosts strips the scheme from origin patterns; the websocket origin
// check matches hosts only.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		hosts = append(hosts, o)
	}
	return hosts
}

// readPump decodes inbound envelopes until the socket closes.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, t *wsTransport) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			t.logger.Warnf("ignoring non-text message type %d", typ)
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.ack("", nil, ruleset.Invalid("invalid JSON format"))
			continue
		}
		payload, err := s.dispatch(t.user, env)
		if err != nil {
			t.logger.WithError(err).WithField("event", env.Type).Debug("request rejected")
		}
		t.ack(env.ID, payload, err)
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

type createRequest struct {
	Settings ruleset.Settings `json:"settings"`
}

type joinRequest struct {
	MatchID uuid.UUID `json:"matchId"`
}

// dispatch routes one inbound event to the lobby.
func (s *Server) dispatch(user uuid.UUID, env Envelope) (any, error) {
	switch env.Type {
	case lobby.EventChatMessage:
		var req chatRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			return nil, err
		}
		return nil, s.Lobby.Chat(user, req.Message)
	case lobby.EventCreateGame:
		var req createRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			return nil, err
		}
		return s.Lobby.CreateGame(user, req.Settings)
	case lobby.EventCancelGame:
		return nil, s.Lobby.CancelGame(user)
	case lobby.EventJoinGame:
		var req joinRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			return nil, err
		}
		if req.MatchID == uuid.Nil {
			return nil, ruleset.Invalid("matchId is required")
		}
		return nil, s.Lobby.JoinGame(user, req.MatchID)
	case lobby.EventPlayMove:
		return nil, s.Lobby.PlayMove(user, env.Payload)
	case lobby.EventRequestExit:
		return nil, s.Lobby.RequestExit(user)
	case lobby.EventRequestRematch:
		return nil, s.Lobby.RequestRematch(user)
	case lobby.EventForfeit:
		return nil, s.Lobby.Forfeit(user)
	}
	return nil, ruleset.Invalid("unknown message type %q", env.Type)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ruleset.Invalid("malformed payload: %v", err)
	}
	return nil
}

// writePump drains the transport onto the socket and keeps it alive with
// pings. A closed transport flushes what is queued and closes the socket.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, t *wsTransport) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(data []byte) bool {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := c.Write(writeCtx, websocket.MessageText, data); err != nil {
			t.logger.WithError(err).Warn("failed to write to websocket")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			if ctx.Err() != nil {
				return
			}
		flush:
			for {
				select {
				case data := <-t.out:
					if !write(data) {
						return
					}
				default:
					break flush
				}
			}
			c.Close(ReplacedError, t.reason)
			return
		case data := <-t.out:
			if !write(data) {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				t.logger.WithError(err).Warn("ping failed, assuming disconnect")
				return
			}
		}
	}
}
