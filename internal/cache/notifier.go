package cache

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DecisionEvent is published whenever a team decision is recorded or reset.
// Consumers refresh submission counts from the store rather than trusting
// the event, so duplicate or dropped deliveries only delay a refresh.
type DecisionEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	TeamID    uuid.UUID `json:"team_id"`
	PhaseID   string    `json:"phase_id"`
	Reset     bool      `json:"reset,omitempty"`
}

// DecisionNotifier fans decision events out to session runtimes over Redis
// pub/sub. With a single server process this is a loopback, but it keeps the
// submission path identical when the websocket tier is scaled out.
type DecisionNotifier struct {
	client *redis.Client
}

func NewDecisionNotifier(client *redis.Client) *DecisionNotifier {
	return &DecisionNotifier{client: client}
}

func decisionChannel(sessionID uuid.UUID) string {
	return "boardroom:decisions:" + sessionID.String()
}

// Publish sends one decision event on the session's channel.
func (n *DecisionNotifier) Publish(ctx context.Context, ev DecisionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, decisionChannel(ev.SessionID), data).Err()
}

// Subscribe returns a channel of decision events for a session. The
// subscription lives until ctx is canceled, after which the channel closes.
func (n *DecisionNotifier) Subscribe(ctx context.Context, sessionID uuid.UUID) <-chan DecisionEvent {
	sub := n.client.Subscribe(ctx, decisionChannel(sessionID))
	out := make(chan DecisionEvent, 16)

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev DecisionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logrus.Warnf("notifier: invalid decision event: %v", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
