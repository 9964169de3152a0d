package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/boardroomhq/boardroom/internal/auth"
	"github.com/boardroomhq/boardroom/internal/models"
)

type loginRequest struct {
	SessionID string `json:"session_id"`
	TeamName  string `json:"team_name"`
	Passcode  string `json:"passcode"`
}

type loginResponse struct {
	Token    string    `json:"token"`
	TeamID   uuid.UUID `json:"team_id"`
	TeamName string    `json:"team_name"`
}

// handleTeamLogin exchanges (session id, team name, passcode) for a
// team-role token. The token is returned in the body and as an HttpOnly
// cookie so both device flows work.
//
// Host and display tokens are minted at setup time, not here.
func (s *Server) handleTeamLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		http.Error(w, "malformed session id", http.StatusBadRequest)
		return
	}

	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}

	// One generic refusal for a wrong name or a wrong passcode.
	team, err := s.store.GetTeamByName(r.Context(), sessionID, req.TeamName)
	if err != nil {
		s.logger.Warnf("login failed for session %s team %q: %v", sessionID, req.TeamName, err)
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}
	ok, err := auth.VerifyPasscode(req.Passcode, team.PasscodeHash)
	if err != nil || !ok {
		s.logger.Warnf("login failed for session %s team %q: bad passcode", sessionID, req.TeamName)
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}

	token, err := auth.CreateToken(team.ID.String(), sessionID, models.RoleTeam)
	if err != nil {
		s.logger.Errorf("failed to sign team token: %v", err)
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:    token,
		TeamID:   team.ID,
		TeamName: team.Name,
	})
}
