package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types carried over the hub.
const (
	EventIfaceStatus     = "iface_status"
	EventInviteCreated   = "invite_created"
	EventInviteRedeemed  = "invite_redeemed"
	EventEndpointUpdated = "endpoint_updated"
)

// Event is the envelope exchanged with agents and observers.
type Event struct {
	Type    string    `json:"type"`
	Node    string    `json:"node,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// allNodes subscribes an observer to every node.
const allNodes = "*"

const writeWait = 5 * time.Second

// conn serializes writes; gorilla connections allow one writer at a time.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Hub keeps agent connections keyed by node name and fans their events
// out to observers.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	agents   map[string]*conn
	subs     map[string]map[*conn]struct{}
	log      *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		agents: map[string]*conn{},
		subs:   map[string]map[*conn]struct{}{},
		log:    log.With("component", "hub"),
	}
}

// HandleAgent upgrades an agent connection; expects ?node=name.
func (h *Hub) HandleAgent(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	if node == "" {
		http.Error(w, "node required", http.StatusBadRequest)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("agent upgrade failed", "node", node, "err", err)
		return
	}
	c := &conn{ws: ws}
	h.mu.Lock()
	if old, ok := h.agents[node]; ok {
		_ = old.ws.Close()
	}
	h.agents[node] = c
	h.mu.Unlock()
	h.log.Info("agent connected", "node", node)
	go h.agentLoop(node, c)
}

func (h *Hub) agentLoop(node string, c *conn) {
	defer func() {
		_ = c.ws.Close()
		h.mu.Lock()
		if h.agents[node] == c {
			delete(h.agents, node)
		}
		h.mu.Unlock()
		h.log.Info("agent disconnected", "node", node)
	}()
	for {
		var e Event
		if err := c.ws.ReadJSON(&e); err != nil {
			return
		}
		e.Node = node
		if e.Time.IsZero() {
			e.Time = time.Now()
		}
		h.log.Debug("agent event", "node", node, "type", e.Type)
		h.Publish(e)
	}
}

// HandleEvents subscribes an observer; ?node=name, or all nodes when absent.
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	if node == "" {
		node = allNodes
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}
	h.mu.Lock()
	if h.subs[node] == nil {
		h.subs[node] = map[*conn]struct{}{}
	}
	h.subs[node][c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("observer connected", "node", node)
	go h.observerLoop(node, c)
}

func (h *Hub) observerLoop(node string, c *conn) {
	defer h.drop(node, c)
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			return
		}
	}
}

// Publish delivers e to observers of e.Node and of every node.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.RLock()
	var targets []*conn
	for c := range h.subs[allNodes] {
		targets = append(targets, c)
	}
	if e.Node != "" {
		for c := range h.subs[e.Node] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		if err := c.send(e); err != nil {
			go h.dropAll(c)
		}
	}
}

// Connected lists the nodes with a live agent connection.
func (h *Hub) Connected() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.agents))
	for n := range h.agents {
		out = append(out, n)
	}
	return out
}

func (h *Hub) drop(node string, c *conn) {
	_ = c.ws.Close()
	h.mu.Lock()
	if subs, ok := h.subs[node]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subs, node)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) dropAll(c *conn) {
	h.mu.RLock()
	var nodes []string
	for n, subs := range h.subs {
		if _, ok := subs[c]; ok {
			nodes = append(nodes, n)
		}
	}
	h.mu.RUnlock()
	for _, n := range nodes {
		h.drop(n, c)
	}
}
