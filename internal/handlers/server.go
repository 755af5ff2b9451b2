// Package handlers exposes the lobby over HTTP: a small REST surface for
// listings, ratings and guest sessions, and the websocket event channel every
// participant plays through.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/jason-s-yu/gameroom/internal/database"
	"github.com/jason-s-yu/gameroom/internal/lobby"
	"github.com/jason-s-yu/gameroom/internal/middleware"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/rating"
	"github.com/jason-s-yu/gameroom/internal/ruleset"
)

const (
	defaultGuestName = "Guest"
	requestTimeout   = 10 * time.Second
)

var validate = validator.New()

// UserStore is the part of the user store the handlers use.
type UserStore interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

// Server holds what every handler needs.
type Server struct {
	Lobby  *lobby.Lobby
	Auth   *auth.Issuer
	Users  UserStore
	Logger *logrus.Logger
	// Origins are the cross-origin patterns accepted besides same-host, for
	// both CORS and the websocket upgrade.
	Origins []string
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(s.Logger))
	if len(s.Origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.Origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		r.Get("/healthz", s.Health)
		r.Get("/games", s.ListGames)
		r.Get("/games/{game}/open", s.ListOpen)
		r.Get("/users/{id}/ratings", s.UserRatings)
		r.Post("/session/guest", s.CreateGuest)
		r.Post("/users", s.CreateUser)
	})
	r.Get("/ws/{game}", s.ServeWS)
	return r
}

// Health reports liveness and the session counts.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	open, active := s.Lobby.Counts()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "open": open, "active": active})
}

// ListGames returns the game catalogue.
func (s *Server) ListGames(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ruleset.Catalogue())
}

// ListOpen returns the open sessions of one game. A valid token hides the
// caller's own listing.
func (s *Server) ListOpen(w http.ResponseWriter, r *http.Request) {
	tag := strings.ToLower(chi.URLParam(r, "game"))
	if !ruleset.Known(tag) {
		writeError(w, http.StatusNotFound, "unknown game")
		return
	}
	requester := uuid.Nil
	if token := tokenFromRequest(r); token != "" {
		if id, err := s.Auth.Authenticate(token); err == nil {
			requester = id.ID
		}
	}
	writeJSON(w, http.StatusOK, s.Lobby.ListOpen(tag, requester))
}

// UserRatings returns a user's per-game ratings.
func (s *Server) UserRatings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	u, err := s.Users.FindUser(r.Context(), id)
	if errors.Is(err, rating.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.Logger.WithError(err).WithField("user", id).Error("failed to load user")
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	ratings := u.Ratings
	if ratings == nil {
		ratings = []models.Rating{}
	}
	writeJSON(w, http.StatusOK, ratings)
}

type guestRequest struct {
	Name string `json:"name" validate:"omitempty,max=24,printascii"`
}

// CreateGuest issues a guest identity and sets its token cookie.
func (s *Server) CreateGuest(w http.ResponseWriter, r *http.Request) {
	var req guestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid guest payload")
			return
		}
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid name")
		return
	}
	if req.Name == "" {
		req.Name = defaultGuestName
	}
	id, token, err := s.Auth.IssueGuest(req.Name)
	if err != nil {
		s.Logger.WithError(err).Error("failed to issue guest token")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	setTokenCookie(w, token)
	writeJSON(w, http.StatusCreated, map[string]any{"id": id.ID, "name": id.Name, "token": token})
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=24,alphanum"`
}

// CreateUser registers a rated user. A caller holding a guest token keeps the
// guest's id, so a match in progress carries over.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid username")
		return
	}

	user := &models.User{Username: req.Username}
	if token := tokenFromRequest(r); token != "" {
		if id, err := s.Auth.Authenticate(token); err == nil && id.Guest {
			user.ID = id.ID
		}
	}
	err := s.Users.CreateUser(r.Context(), user)
	if errors.Is(err, database.ErrUsernameTaken) {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}
	if err != nil {
		s.Logger.WithError(err).Error("failed to create user")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	token, err := s.Auth.Issue(auth.Identity{ID: user.ID, Name: user.Username})
	if err != nil {
		s.Logger.WithError(err).Error("failed to issue token")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	setTokenCookie(w, token)
	writeJSON(w, http.StatusCreated, map[string]any{"id": user.ID, "name": user.Username, "token": token})
}

// identify resolves the caller, creating a guest when no valid token is
// presented, the way a first visit to the lobby works.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) (auth.Identity, error) {
	if token := tokenFromRequest(r); token != "" {
		id, err := s.Auth.Authenticate(token)
		if err == nil {
			return id, nil
		}
		s.Logger.WithError(err).Debug("discarding invalid token")
	}
	id, token, err := s.Auth.IssueGuest(defaultGuestName)
	if err != nil {
		return auth.Identity{}, err
	}
	setTokenCookie(w, token)
	return id, nil
}

// profile loads the display name and rating for tag. Guests and users
// without a record play at the default rating.
func (s *Server) profile(ctx context.Context, id auth.Identity, tag string) (string, int) {
	name := id.Name
	if name == "" {
		name = defaultGuestName
	}
	if s.Users == nil || id.Guest {
		return name, models.DefaultRating
	}
	u, err := s.Users.FindUser(ctx, id.ID)
	if err != nil {
		if !errors.Is(err, rating.ErrUserNotFound) {
			s.Logger.WithError(err).WithField("user", id.ID).Warn("failed to load rating")
		}
		return name, models.DefaultRating
	}
	if u.Username != "" {
		name = u.Username
	}
	r, _ := u.RatingFor(tag)
	return name, r.Rating
}
