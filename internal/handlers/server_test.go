package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/jason-s-yu/gameroom/internal/database"
	"github.com/jason-s-yu/gameroom/internal/game"
	"github.com/jason-s-yu/gameroom/internal/lobby"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/rating"
	"github.com/jason-s-yu/gameroom/internal/registry"
	"github.com/jason-s-yu/gameroom/internal/ruleset"
)

type fakeUsers map[uuid.UUID]*models.User

func (f fakeUsers) FindUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, rating.ErrUserNotFound
	}
	return u, nil
}

func (f fakeUsers) CreateUser(_ context.Context, u *models.User) error {
	for _, existing := range f {
		if existing.Username == u.Username {
			return database.ErrUsernameTaken
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	f[u.ID] = u
	return nil
}

type nopTransport struct{}

func (nopTransport) Send(string, any) bool { return true }
func (nopTransport) Close(string)          {}

func newTestServer(t *testing.T, users fakeUsers) (*httptest.Server, *Server) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	reg := registry.New(time.Minute, logger)
	l := lobby.New(reg, lobby.Options{PregameDelay: 10 * time.Millisecond, Logger: logger})
	iss, err := auth.NewIssuer(time.Hour)
	require.NoError(t, err)

	srv := &Server{Lobby: l, Auth: iss, Users: users, Logger: logger}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	t.Cleanup(l.Close)
	return ts, srv
}

// message is any outbound frame: events and acks share the envelope.
type message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	t *testing.T
	c *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server, srv *Server, id auth.Identity) *client {
	token, err := srv.Auth.Issue(id)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/get10?token=" + token

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return &client{t: t, c: c}
}

func (c *client) send(typ, id string, payload any) {
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(c.t, wsjson.Write(ctx, c.c, Envelope{Type: typ, ID: id, Payload: raw}))
}

// await reads until a frame matches, skipping everything else.
func (c *client) await(match func(message) bool) message {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var m message
		require.NoError(c.t, wsjson.Read(ctx, c.c, &m))
		if match(m) {
			return m
		}
	}
}

func (c *client) awaitType(typ string) message {
	return c.await(func(m message) bool { return m.Type == typ })
}

func (c *client) awaitAck(id string) message {
	return c.await(func(m message) bool { return m.Type == "ack" && m.ID == id })
}

func (c *client) awaitStatus(status ruleset.Status) game.View {
	var v game.View
	c.await(func(m message) bool {
		if m.Type != lobby.EventUpdateGameState {
			return false
		}
		var head struct {
			Status  ruleset.Status `json:"status"`
			MyIndex int            `json:"myIndex"`
		}
		require.NoError(c.t, json.Unmarshal(m.Payload, &head))
		v.Status, v.MyIndex = head.Status, head.MyIndex
		return head.Status == status
	})
	return v
}

func TestWebsocketMatchFlow(t *testing.T) {
	ts, srv := newTestServer(t, fakeUsers{})
	ann := dial(t, ts, srv, auth.Identity{ID: uuid.New(), Name: "ann", Guest: true})
	ann.awaitType(lobby.EventGameList)
	ann.awaitType(lobby.EventAvailableGames)
	bob := dial(t, ts, srv, auth.Identity{ID: uuid.New(), Name: "bob", Guest: true})
	bob.awaitType(lobby.EventAvailableGames)

	ann.send(lobby.EventCreateGame, "1", map[string]any{
		"settings": map[string]any{"game": "get10", "timer": "off", "go": "first"},
	})
	ack := ann.awaitAck("1")
	require.Equal(t, ackOK, ack.Status, ack.Message)
	var sum game.Summary
	require.NoError(t, json.Unmarshal(ack.Payload, &sum))
	assert.Equal(t, "ann", sum.Host.Name)

	listing := bob.awaitType(lobby.EventAvailableNew)
	var announced game.Summary
	require.NoError(t, json.Unmarshal(listing.Payload, &announced))
	assert.Equal(t, sum.ID, announced.ID)

	bob.send(lobby.EventJoinGame, "2", map[string]any{"matchId": sum.ID})
	require.Equal(t, ackOK, bob.awaitAck("2").Status)

	assert.Equal(t, 0, ann.awaitStatus(ruleset.StatusPlaying).MyIndex)
	assert.Equal(t, 1, bob.awaitStatus(ruleset.StatusPlaying).MyIndex)

	bob.send(lobby.EventPlayMove, "3", map[string]any{"value": 1})
	rejected := bob.awaitAck("3")
	assert.Equal(t, ackFail, rejected.Status)
	assert.Equal(t, ruleset.ErrNotYourTurn.Error(), rejected.Message)

	ann.send(lobby.EventPlayMove, "4", map[string]any{"value": 2})
	assert.Equal(t, ackOK, ann.awaitAck("4").Status)

	ann.send(lobby.EventChatMessage, "5", map[string]any{"message": "good luck"})
	chat := bob.awaitType(lobby.EventChatMatch)
	var line lobby.ChatPayload
	require.NoError(t, json.Unmarshal(chat.Payload, &line))
	assert.Equal(t, lobby.ChatPayload{User: "ann", Message: "good luck"}, line)

	ann.send("dance", "6", nil)
	assert.Equal(t, ackFail, ann.awaitAck("6").Status)
}

func TestWebsocketUsesStoredProfile(t *testing.T) {
	id := uuid.New()
	users := fakeUsers{id: {ID: id, Username: "carol", Ratings: []models.Rating{{Game: "get10", Rating: 1500, Games: 30}}}}
	ts, srv := newTestServer(t, users)
	carol := dial(t, ts, srv, auth.Identity{ID: id, Name: "ignored"})

	carol.send(lobby.EventCreateGame, "1", map[string]any{
		"settings": map[string]any{"timer": "off", "go": "random"},
	})
	ack := carol.awaitAck("1")
	require.Equal(t, ackOK, ack.Status, ack.Message)
	var sum game.Summary
	require.NoError(t, json.Unmarshal(ack.Payload, &sum))
	assert.Equal(t, "carol", sum.Host.Name)
	assert.Equal(t, 1500, sum.Host.Rating)
	assert.Equal(t, ruleset.NameGet10, sum.Game)
}

func TestSecondSocketForcesFirstOut(t *testing.T) {
	ts, srv := newTestServer(t, fakeUsers{})
	id := auth.Identity{ID: uuid.New(), Name: "ann", Guest: true}
	first := dial(t, ts, srv, id)
	first.awaitType(lobby.EventAvailableGames)
	dial(t, ts, srv, id)

	first.awaitType(lobby.EventForceDisconnect)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := first.c.Read(ctx)
	assert.Equal(t, ReplacedError, websocket.CloseStatus(err))
}

func TestWebsocketRejects(t *testing.T) {
	ts, _ := newTestServer(t, fakeUsers{})
	base := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, base+"/ws/chess", &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	c, _, err := websocket.Dial(ctx, base+"/ws/get10", nil)
	require.NoError(t, err)
	_, _, err = c.Read(ctx)
	assert.Equal(t, BadSubprotocolError, websocket.CloseStatus(err))
}

func TestHealthAndCatalogue(t *testing.T) {
	ts, _ := newTestServer(t, fakeUsers{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	resp2, err := http.Get(ts.URL + "/games")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var cats []ruleset.Category
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&cats))
	assert.Len(t, cats, 3)
	for _, c := range cats {
		for _, g := range c.Games {
			assert.Equal(t, 2, g.Size, g.Name)
		}
	}
}

func TestOpenListingHidesOwnGame(t *testing.T) {
	_, srv := newTestServer(t, fakeUsers{})
	host := auth.Identity{ID: uuid.New(), Name: "ann", Guest: true}
	srv.Lobby.Connect(nopTransport{}, registry.Participant{ID: host.ID, Name: host.Name}, "get10")
	_, err := srv.Lobby.CreateGame(host.ID, ruleset.Settings{Game: "get10", Timer: "off", Go: "first"})
	require.NoError(t, err)

	list := func(path, token string) (int, []game.Summary) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		srv.Routes().ServeHTTP(w, req)
		var out []game.Summary
		if w.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		}
		return w.Code, out
	}

	code, open := list("/games/get10/open", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, open, 1)

	token, err := srv.Auth.Issue(host)
	require.NoError(t, err)
	_, open = list("/games/get10/open", token)
	assert.Empty(t, open)

	code, _ = list("/games/chess/open", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateGuest(t *testing.T) {
	ts, srv := newTestServer(t, fakeUsers{})

	resp, err := http.Post(ts.URL+"/session/guest", "application/json", bytes.NewBufferString(`{"name":" ann "}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	id, err := srv.Auth.Authenticate(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "ann", id.Name)
	assert.True(t, id.Guest)

	bad, err := http.Post(ts.URL+"/session/guest", "application/json", bytes.NewBufferString(`{"name":"`+strings.Repeat("x", 40)+`"}`))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestUserRatings(t *testing.T) {
	id := uuid.New()
	users := fakeUsers{id: {ID: id, Username: "carol", Ratings: []models.Rating{{Game: "cribbage", Rating: 1310, Games: 4}}}}
	ts, _ := newTestServer(t, users)

	resp, err := http.Get(ts.URL + "/users/" + id.String() + "/ratings")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ratings []models.Rating
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ratings))
	assert.Equal(t, users[id].Ratings, ratings)

	missing, err := http.Get(ts.URL + "/users/" + uuid.NewString() + "/ratings")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	bad, err := http.Get(ts.URL + "/users/nope/ratings")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestCreateUserClaimsGuest(t *testing.T) {
	users := fakeUsers{}
	ts, srv := newTestServer(t, users)
	guest, guestToken, err := srv.Auth.IssueGuest("ann")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/users", bytes.NewBufferString(`{"username":"ann"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+guestToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		ID    uuid.UUID `json:"id"`
		Token string    `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, guest.ID, body.ID)
	require.Contains(t, users, guest.ID)

	id, err := srv.Auth.Authenticate(body.Token)
	require.NoError(t, err)
	assert.False(t, id.Guest)
	assert.Equal(t, "ann", id.Name)

	dup, err := http.Post(ts.URL+"/users", "application/json", bytes.NewBufferString(`{"username":"ann"}`))
	require.NoError(t, err)
	defer dup.Body.Close()
	assert.Equal(t, http.StatusConflict, dup.StatusCode)

	bad, err := http.Post(ts.URL+"/users", "application/json", bytes.NewBufferString(`{"username":"a b"}`))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestServer(t, fakeUsers{})
	srv.Origins = []string{"https://play.example.com"}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/session/guest", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://play.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://play.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	other, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer other.Body.Close()
	assert.Empty(t, other.Header.Get("Access-Control-Allow-Origin"))
}

func TestOriginHosts(t *testing.T) {
	assert.Equal(t, []string{"play.example.com", "*.example.org", "localhost:3000"},
		originHosts([]string{"https://play.example.com", "https://*.example.org", "localhost:3000"}))
}
