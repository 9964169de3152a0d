package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/models"
)

// writeTimeout bounds every websocket write so one dead client cannot stall
// the fan-out goroutine.
const writeTimeout = 3 * time.Second

// Client is one registered websocket connection.
type Client struct {
	Conn   *websocket.Conn
	Role   models.Role
	TeamID uuid.UUID

	// lastPong is guarded by the hub mutex.
	lastPong time.Time
}

// Hub is the per-session connection registry. Sends are asynchronous: the
// engine may call Broadcast while holding its own lock, so the hub only
// snapshots its client set under its mutex and writes from a goroutine.
type Hub struct {
	sessionID uuid.UUID
	clock     clockwork.Clock

	mu      sync.Mutex
	clients map[*Client]bool

	// window is the pong age beyond which the display counts as
	// disconnected; zero until RunLiveness starts.
	window time.Duration

	displayWasLive bool
}

func NewHub(sessionID uuid.UUID, clock clockwork.Clock) *Hub {
	return &Hub{
		sessionID: sessionID,
		clock:     clock,
		clients:   make(map[*Client]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.lastPong = h.clock.Now()
	h.clients[c] = true
}

// Unregister removes a connection. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// MarkPong records a liveness reply.
func (h *Hub) MarkPong(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		c.lastPong = h.clock.Now()
	}
}

// Broadcast sends a message to every connection.
func (h *Hub) Broadcast(msg Message) {
	h.send(msg, func(*Client) bool { return true })
}

// SendToRole sends a message to every connection with the given role.
func (h *Hub) SendToRole(role models.Role, msg Message) {
	h.send(msg, func(c *Client) bool { return c.Role == role })
}

// SendToTeam sends a message to every device of one team.
func (h *Hub) SendToTeam(teamID uuid.UUID, msg Message) {
	h.send(msg, func(c *Client) bool { return c.Role == models.RoleTeam && c.TeamID == teamID })
}

// SendTo sends a message to a single connection.
func (h *Hub) SendTo(c *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logrus.Errorf("hub %s: marshal %s: %v", h.sessionID, msg.Type, err)
		return
	}
	h.write([]*Client{c}, data)
}

func (h *Hub) send(msg Message, match func(*Client) bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		logrus.Errorf("hub %s: marshal %s: %v", h.sessionID, msg.Type, err)
		return
	}

	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	h.write(targets, data)
}

// write delivers pre-marshaled bytes asynchronously with a per-client
// timeout. Write failures are logged; the reader side notices the broken
// connection and unregisters it.
func (h *Hub) write(targets []*Client, data []byte) {
	if len(targets) == 0 {
		return
	}
	go func() {
		for _, c := range targets {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.Conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logrus.Warnf("hub %s: write to %s client failed: %v", h.sessionID, c.Role, err)
			}
		}
	}()
}

// DisplayConnected reports whether a display is registered and still inside
// the pong window. Before RunLiveness starts, registration alone counts.
func (h *Hub) DisplayConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.displayLiveLocked()
}

func (h *Hub) displayLiveLocked() bool {
	now := h.clock.Now()
	for c := range h.clients {
		if c.Role != models.RoleDisplay {
			continue
		}
		if h.window <= 0 || now.Sub(c.lastPong) <= h.window {
			return true
		}
	}
	return false
}

// ConnectedTeamIDs returns the set of team ids with at least one live device.
func (h *Hub) ConnectedTeamIDs() map[uuid.UUID]bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[uuid.UUID]bool)
	for c := range h.clients {
		if c.Role == models.RoleTeam && c.TeamID != uuid.Nil {
			out[c.TeamID] = true
		}
	}
	return out
}

// Counts returns how many connections each role has.
func (h *Hub) Counts() (hosts, displays, teams int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		switch c.Role {
		case models.RoleHost:
			hosts++
		case models.RoleDisplay:
			displays++
		case models.RoleTeam:
			teams++
		}
	}
	return hosts, displays, teams
}

// RunLiveness pings every client each interval and watches the display's
// pong age. A silent display is only marked disconnected in the status view;
// no connection is closed and the game does not pause. Blocks until ctx is
// canceled.
func (h *Hub) RunLiveness(ctx context.Context, interval, window time.Duration) {
	h.mu.Lock()
	h.window = window
	h.mu.Unlock()

	ticker := h.clock.NewTicker(interval)
	defer ticker.Stop()

	ping, err := json.Marshal(Message{Type: TypePing})
	if err != nil {
		logrus.Errorf("hub %s: marshal ping: %v", h.sessionID, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.mu.Lock()
			targets := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			live := h.displayLiveLocked()
			wasLive := h.displayWasLive
			h.displayWasLive = live
			h.mu.Unlock()

			if wasLive && !live {
				logrus.Warnf("hub %s: display stopped answering pings", h.sessionID)
			}
			h.write(targets, ping)
		}
	}
}

// Shutdown sends a final message to every client and closes the
// connections. Writes are synchronous here so the farewell lands before the
// close frame.
func (h *Hub) Shutdown(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logrus.Errorf("hub %s: marshal %s: %v", h.sessionID, msg.Type, err)
		data = nil
	}

	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, c := range targets {
		if data != nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := c.Conn.Write(ctx, websocket.MessageText, data); err != nil {
				logrus.Warnf("hub %s: farewell write failed: %v", h.sessionID, err)
			}
			cancel()
		}
		_ = c.Conn.Close(websocket.StatusNormalClosure, "session ended")
	}
}
