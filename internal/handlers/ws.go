package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/boardroomhq/boardroom/internal/broadcast"
	"github.com/boardroomhq/boardroom/internal/engine"
	"github.com/boardroomhq/boardroom/internal/middleware"
	"github.com/boardroomhq/boardroom/internal/models"
	"github.com/boardroomhq/boardroom/internal/store"
)

// errUnsupportedMessage rejects a message type the sender's role does not
// carry.
var errUnsupportedMessage = errors.New("unsupported message type")

// clientMessage is the envelope consoles send. Only Type is always present;
// the other fields are read per message type.
type clientMessage struct {
	Type        string   `json:"type"`
	PhaseID     string   `json:"phase_id,omitempty"`
	SlideID     string   `json:"slide_id,omitempty"`
	TeamID      string   `json:"team_id,omitempty"`
	Selection   []string `json:"selection,omitempty"`
	PositionSec float64  `json:"position_sec,omitempty"`
	DurationSec float64  `json:"duration_sec,omitempty"`
	Text        string   `json:"text,omitempty"`
}

// socketHandler upgrades a console connection for one role. The token is
// checked before the upgrade so a bad credential gets a real HTTP status
// instead of a half-open socket.
func (s *Server) socketHandler(role models.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := sessionIDFromPath(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		claims, err := s.authenticate(r, sessionID, role)
		if err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}

		var teamID uuid.UUID
		if role == models.RoleTeam {
			teamID, err = uuid.Parse(claims.Subject)
			if err != nil {
				http.Error(w, "malformed team token", http.StatusForbidden)
				return
			}
		}

		rt, err := s.manager.Get(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"console"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			s.logger.Warnf("websocket accept failed for session %s: %v", sessionID, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler exit")

		if c.Subprotocol() != "console" {
			c.Close(websocket.StatusPolicyViolation, "client must speak the console subprotocol")
			return
		}

		client := &broadcast.Client{Conn: c, Role: role, TeamID: teamID}
		rt.Hub.Register(client)
		middleware.LogSocketConnect(s.logger, r.RemoteAddr, r.URL.Path, string(role))

		// The new console renders from the current state without waiting
		// for the next transition.
		rt.Hub.SendTo(client, broadcast.NewMessage(broadcast.TypeStateUpdate, rt.Engine.Snapshot(role)))

		err = s.readPump(r.Context(), c, rt, client)

		rt.Hub.Unregister(client)
		middleware.LogSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, string(role), err)
	}
}

// readPump reads console messages until the connection drops. A nil return
// is a clean closure; anything else is reported by the caller.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, rt *engine.Runtime, client *broadcast.Client) error {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			rt.Hub.SendTo(client, broadcast.NewError("BAD_MESSAGE", "message is not valid JSON"))
			continue
		}

		if err := s.dispatch(ctx, rt, client, msg); err != nil {
			code, _ := classify(err)
			rt.Hub.SendTo(client, broadcast.NewError(code, err.Error()))
		}
	}
}

// dispatch routes one console message. Liveness and snapshot requests are
// common to every role; the rest is role-gated.
func (s *Server) dispatch(ctx context.Context, rt *engine.Runtime, client *broadcast.Client, msg clientMessage) error {
	switch msg.Type {
	case broadcast.TypePong:
		rt.Hub.MarkPong(client)
		return nil
	case broadcast.TypeConsumerReady:
		rt.Hub.SendTo(client, broadcast.NewMessage(broadcast.TypeStateUpdate, rt.Engine.Snapshot(client.Role)))
		return nil
	}

	switch client.Role {
	case models.RoleHost:
		return s.dispatchHost(ctx, rt, msg)
	case models.RoleDisplay:
		return s.dispatchDisplay(ctx, rt, msg)
	case models.RoleTeam:
		return s.dispatchTeam(ctx, rt, client, msg)
	}
	return fmt.Errorf("%w: %s", errUnsupportedMessage, msg.Type)
}

func (s *Server) dispatchHost(ctx context.Context, rt *engine.Runtime, msg clientMessage) error {
	switch msg.Type {
	case broadcast.TypeSelectPhase:
		return rt.Engine.SelectPhase(ctx, msg.PhaseID)
	case broadcast.TypeNextSlide:
		return rt.Engine.NextSlide(ctx)
	case broadcast.TypePreviousSlide:
		return rt.Engine.PreviousSlide(ctx)
	case broadcast.TypeTogglePlay:
		return rt.Engine.TogglePlay(ctx)
	case broadcast.TypeClearAlert:
		return rt.Engine.ClearAlert(ctx)
	case broadcast.TypeResetDecision:
		teamID, err := uuid.Parse(msg.TeamID)
		if err != nil {
			return engine.Validationf("malformed team id %q", msg.TeamID)
		}
		return rt.Engine.ResetTeamDecision(ctx, teamID, msg.PhaseID)
	case broadcast.TypeRetryEffects:
		return rt.Engine.RetryPhaseEffects(ctx, msg.PhaseID)
	case broadcast.TypeUpdateNotes:
		return rt.Engine.UpdateSlideNotes(ctx, msg.SlideID, msg.Text)
	case broadcast.TypeEndSession:
		return rt.Engine.EndSession(ctx)
	}
	return fmt.Errorf("%w: %s", errUnsupportedMessage, msg.Type)
}

func (s *Server) dispatchDisplay(ctx context.Context, rt *engine.Runtime, msg clientMessage) error {
	switch msg.Type {
	case broadcast.TypeMediaEnded:
		rt.Engine.HandleMediaEnded(ctx, msg.SlideID)
		return nil
	case broadcast.TypeMediaPosition:
		rt.Engine.HandleMediaPosition(msg.SlideID, msg.PositionSec)
		return nil
	case broadcast.TypeMediaDuration:
		return rt.Engine.ReportMediaDuration(ctx, msg.SlideID, msg.DurationSec)
	}
	return fmt.Errorf("%w: %s", errUnsupportedMessage, msg.Type)
}

func (s *Server) dispatchTeam(ctx context.Context, rt *engine.Runtime, client *broadcast.Client, msg clientMessage) error {
	switch msg.Type {
	case broadcast.TypeSubmitDecision:
		err := rt.Engine.SubmitDecision(ctx, client.TeamID, msg.Selection)
		if errors.Is(err, store.ErrDuplicateSubmission) {
			// The engine already answered with an authoritative
			// DECISION_RECEIVED; a second frame would just confuse the
			// device.
			return nil
		}
		return err
	}
	return fmt.Errorf("%w: %s", errUnsupportedMessage, msg.Type)
}
