// Package handlers exposes the REST endpoints and the role websockets
// through which consoles reach a session.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/auth"
	"github.com/boardroomhq/boardroom/internal/engine"
	"github.com/boardroomhq/boardroom/internal/middleware"
	"github.com/boardroomhq/boardroom/internal/models"
)

// Store is the slice of the datastore the HTTP layer reads directly. The
// engine owns every write.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetTeamByName(ctx context.Context, sessionID uuid.UUID, name string) (*models.Team, error)
}

// Server wires the REST and websocket endpoints to the session manager.
type Server struct {
	store   Store
	manager *engine.Manager
	logger  *logrus.Logger
}

func NewServer(store Store, manager *engine.Manager, logger *logrus.Logger) *Server {
	return &Server{store: store, manager: manager, logger: logger}
}

// Routes builds the full handler chain: mux, request logging, CORS.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /api/login", s.handleTeamLogin)
	mux.HandleFunc("GET /api/session/{id}/status", s.handleSessionStatus)
	mux.HandleFunc("GET /api/session/{id}/team/view", s.handleTeamView)

	mux.HandleFunc("GET /ws/session/{id}/host", s.socketHandler(models.RoleHost))
	mux.HandleFunc("GET /ws/session/{id}/display", s.socketHandler(models.RoleDisplay))
	mux.HandleFunc("GET /ws/session/{id}/team", s.socketHandler(models.RoleTeam))

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return c.Handler(middleware.LogRequests(s.logger)(mux))
}

// sessionIDFromPath parses the {id} segment of the matched route.
func sessionIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed session id: %w", err)
	}
	return id, nil
}

// requestToken pulls the bearer token from the Authorization header, the
// auth_token cookie, or a token query parameter. Browser websockets cannot
// set headers, so the fallbacks matter for the socket routes.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("auth_token"); err == nil {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// authenticate verifies the request token and checks it was issued for this
// session in the wanted role.
func (s *Server) authenticate(r *http.Request, sessionID uuid.UUID, want models.Role) (*auth.Claims, error) {
	token := requestToken(r)
	if token == "" {
		return nil, fmt.Errorf("missing token")
	}
	claims, err := auth.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	if claims.SessionID != sessionID {
		return nil, fmt.Errorf("token is for another session")
	}
	if claims.Role != want {
		return nil, fmt.Errorf("token role %s cannot use this endpoint", claims.Role)
	}
	return claims, nil
}
