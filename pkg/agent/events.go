package agent

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"wgnet/pkg/iface"
)

const (
	eventsPath     = "/api/v1/ws/agent"
	reconnectDelay = 5 * time.Second
	writeWait      = 5 * time.Second
)

// statusMessage matches the coordinator hub's event envelope.
type statusMessage struct {
	Type    string        `json:"type"`
	Time    time.Time     `json:"time"`
	Payload statusPayload `json:"payload"`
}

type statusPayload struct {
	Op string `json:"op"`
	iface.Status
}

// Events streams interface status to the coordinator over a websocket,
// reconnecting after a fixed delay. Messages queued while disconnected are
// dropped once the buffer is full.
type Events struct {
	endpoint string
	header   http.Header
	dialer   *websocket.Dialer
	queue    chan statusMessage
	delay    time.Duration
	log      *slog.Logger
}

// NewEvents targets the hub of the coordinator at server, a host:port or URL.
func NewEvents(server, node, token string, log *slog.Logger) (*Events, error) {
	base := server
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	u.Scheme = "ws"
	if strings.HasPrefix(base, "https://") {
		u.Scheme = "wss"
	}
	u.Path = eventsPath
	q := u.Query()
	q.Set("node", node)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Events{
		endpoint: u.String(),
		header:   header,
		dialer:   websocket.DefaultDialer,
		queue:    make(chan statusMessage, 200),
		delay:    reconnectDelay,
		log:      log.With("component", "events"),
	}, nil
}

// Report implements Reporter. It never blocks.
func (e *Events) Report(op string, st iface.Status) {
	msg := statusMessage{Type: "iface_status", Time: time.Now(), Payload: statusPayload{Op: op, Status: st}}
	select {
	case e.queue <- msg:
	default:
		e.log.Debug("event queue full, dropping", "iface", st.Name)
	}
}

// Run keeps a connection open until ctx is done.
func (e *Events) Run(ctx context.Context) {
	for {
		conn, resp, err := e.dialer.DialContext(ctx, e.endpoint, e.header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			e.log.Warn("events dial failed", "url", e.endpoint, "status", status, "err", err)
		} else {
			e.log.Info("events connected", "url", e.endpoint)
			e.pump(ctx, conn)
			e.log.Info("events disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.delay):
		}
	}
}

// pump writes queued messages until the connection or ctx ends.
func (e *Events) pump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-closed:
			return
		case msg := <-e.queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				e.log.Warn("events send failed", "err", err)
				return
			}
		}
	}
}
