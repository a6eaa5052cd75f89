// Package wsbridge is a reference ClientTransport implementation over
// github.com/coder/websocket: it is the Client Sync Endpoint that
// notifier.ClientTransport's doc comment describes as an "external
// collaborator". internal/notifier and internal/poller depend only on
// the ClientTransport/ClientLister interfaces; this package is the
// concrete bridge that the admin server wires in so those interfaces
// have something real driving them.
package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/notifier"
	"github.com/vibestack/cdc-core/internal/registry"
	"github.com/vibestack/cdc-core/internal/wal"
	"github.com/vibestack/cdc-core/pkg/lsn"
)

// streamFrame is the wire envelope pushed to each connected client: the
// batch of changes plus the confirmed LSN they were delivered at, so a
// client can ack how far it has caught up.
type streamFrame struct {
	Changes []wal.TableChange `json:"changes"`
	LastLSN string            `json:"last_lsn"`
}

// sendTimeout bounds how long one client's write may block the
// dispatch loop before it is dropped.
const sendTimeout = 5 * time.Second

// Hub tracks live CDC client connections and doubles as both a
// poller.ClientLister (for the poller) and the registry's external
// sync endpoint (touches cdc_clients on connect/disconnect).
type Hub struct {
	registry *registry.Registry
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[string]*clientConn
}

// NewHub builds a Hub bound to the client registry it reports
// liveness into.
func NewHub(reg *registry.Registry, logger zerolog.Logger) *Hub {
	return &Hub{
		registry: reg,
		logger:   logger.With().Str("component", "ws-bridge").Logger(),
		conns:    make(map[string]*clientConn),
	}
}

// clientConn adapts one websocket connection to notifier.ClientTransport.
type clientConn struct {
	id   string
	conn *websocket.Conn
}

func (c *clientConn) ClientID() string { return c.id }

func (c *clientConn) Send(ctx context.Context, changes []wal.TableChange, lastLSN lsn.LSN) error {
	data, err := json.Marshal(streamFrame{Changes: changes, LastLSN: lsn.Format(lastLSN)})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Active returns a ClientTransport for every currently connected
// client, satisfying poller.ClientLister.
func (h *Hub) Active(ctx context.Context) []notifier.ClientTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]notifier.ClientTransport, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// HandleStream upgrades the request to a websocket and registers the
// connection as an active client until it disconnects. The client id
// is taken from the "client_id" query parameter, or minted fresh if
// absent; either way it is echoed back in the first frame so the
// caller can tag its own writes for echo suppression.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = registry.NewClientID()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Err(err).Msg("ws accept")
		return
	}

	c := &clientConn{id: clientID, conn: conn}
	h.add(c)
	defer h.remove(c)

	if err := h.registry.Touch(r.Context(), clientID, true); err != nil {
		h.logger.Err(err).Str("client_id", clientID).Msg("register client")
	}

	welcome, _ := json.Marshal(map[string]string{"client_id": clientID})
	writeCtx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	_ = conn.Write(writeCtx, websocket.MessageText, welcome)
	cancel()

	for {
		_, _, err := conn.Read(r.Context())
		if err != nil {
			return
		}
	}
}

func (h *Hub) add(c *clientConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.logger.Debug().Str("client_id", c.id).Int("clients", len(h.conns)).Msg("client connected")
}

func (h *Hub) remove(c *clientConn) {
	h.mu.Lock()
	if existing, ok := h.conns[c.id]; ok && existing == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
	c.conn.Close(websocket.StatusNormalClosure, "")

	// The request context is already cancelled by the time the
	// handler returns, so deregistration gets its own bounded one.
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := h.registry.Touch(ctx, c.id, false); err != nil {
		h.logger.Err(err).Str("client_id", c.id).Msg("deregister client")
	}
}
