package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/boardroomhq/boardroom/internal/models"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionStatus is the operator view of one session's connections and
// submission progress.
type sessionStatus struct {
	SessionID          uuid.UUID `json:"session_id"`
	PhaseID            string    `json:"phase_id"`
	SlideIndex         int       `json:"slide_index"`
	Completed          bool      `json:"completed"`
	DecisionActive     bool      `json:"decision_active"`
	SubmittedCount     int       `json:"submitted_count"`
	TotalTeams         int       `json:"total_teams"`
	HostConnections    int       `json:"host_connections"`
	DisplayConnections int       `json:"display_connections"`
	DisplayConnected   bool      `json:"display_connected"`
	TeamConnections    int       `json:"team_connections"`
	ConnectedTeams     int       `json:"connected_teams"`
}

// handleSessionStatus reports connection and submission health for one
// session. Host tokens only.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.authenticate(r, sessionID, models.RoleHost); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	rt, err := s.manager.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	snap := rt.Engine.Snapshot(models.RoleHost)
	hosts, displays, teams := rt.Hub.Counts()

	writeJSON(w, http.StatusOK, sessionStatus{
		SessionID:          sessionID,
		PhaseID:            snap.PhaseID,
		SlideIndex:         snap.SlideIndex,
		Completed:          snap.Completed,
		DecisionActive:     snap.DecisionActive,
		SubmittedCount:     snap.SubmittedCount,
		TotalTeams:         snap.TotalTeams,
		HostConnections:    hosts,
		DisplayConnections: displays,
		DisplayConnected:   rt.Hub.DisplayConnected(),
		TeamConnections:    teams,
		ConnectedTeams:     len(rt.Hub.ConnectedTeamIDs()),
	})
}

// handleTeamView returns the submitting surface for the calling team:
// options, budget, its own submission. Team devices poll it when a state
// update says a decision window is open.
func (s *Server) handleTeamView(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	claims, err := s.authenticate(r, sessionID, models.RoleTeam)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	teamID, err := uuid.Parse(claims.Subject)
	if err != nil {
		http.Error(w, "malformed team token", http.StatusForbidden)
		return
	}

	rt, err := s.manager.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := rt.Engine.TeamView(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
