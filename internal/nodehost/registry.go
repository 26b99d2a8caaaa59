package nodehost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNodeNotFound is returned when an operation names an unknown node ID.
var ErrNodeNotFound = errors.New("nodehost: node not found")

// Authenticator decides whether a connecting node's token is recognized, and
// whether it should be auto-paired or left pending an operator's approval.
type Authenticator interface {
	Authenticate(nodeID, token string) (paired bool, err error)
}

// StaticTokenAuthenticator pairs any node presenting one of a fixed set of
// tokens, rejecting everything else. Suitable for small fleets of
// pre-provisioned headless nodes (sensors, home automation bridges) where
// full mutual-TLS or TOFU pairing is overkill.
type StaticTokenAuthenticator struct {
	tokens map[string]struct{}
}

// NewStaticTokenAuthenticator builds an authenticator from a fixed token list.
func NewStaticTokenAuthenticator(tokens []string) *StaticTokenAuthenticator {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return &StaticTokenAuthenticator{tokens: set}
}

// Authenticate implements Authenticator.
func (a *StaticTokenAuthenticator) Authenticate(_, token string) (bool, error) {
	if _, ok := a.tokens[token]; ok {
		return true, nil
	}
	return false, fmt.Errorf("unrecognized node token")
}

// nodeConn is the gateway-side bookkeeping for one connected node.
type nodeConn struct {
	id           string
	displayName  string
	platform     string
	hostname     string
	capabilities []Capability
	connectedAt  time.Time
	paired       bool

	conn *websocket.Conn
	mu   sync.Mutex

	pending map[string]chan InvokeResult
}

// Registry is the gateway-side acceptor for nodehost.Host connections: it
// upgrades inbound HTTP requests to WebSocket, runs the CONNECT handshake,
// and lets callers invoke capabilities on paired nodes.
type Registry struct {
	logger   *slog.Logger
	auth     Authenticator
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	nodes map[string]*nodeConn
}

// NewRegistry creates a Registry. If auth is nil, every node is rejected.
func NewRegistry(auth Authenticator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "nodehost_registry"),
		auth:   auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		nodes: make(map[string]*nodeConn),
	}
}

// ServeHTTP upgrades the connection and runs the node's lifetime in the
// calling goroutine until the socket closes.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	r.handleConn(req.Context(), conn)
}

func (r *Registry) handleConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		r.logger.Warn("failed to read connect frame", "error", err)
		return
	}
	if first.Type != MsgConnect {
		_ = conn.WriteJSON(NewConnectRejectMessage(first.NodeID, "expected CONNECT frame"))
		return
	}

	displayName, platform, hostname, token, caps, err := first.DecodeConnect()
	if err != nil {
		_ = conn.WriteJSON(NewConnectRejectMessage(first.NodeID, "malformed connect payload"))
		return
	}

	var paired bool
	if r.auth == nil {
		_ = conn.WriteJSON(NewConnectRejectMessage(first.NodeID, "pairing disabled"))
		return
	}
	paired, err = r.auth.Authenticate(first.NodeID, token)
	if err != nil {
		_ = conn.WriteJSON(NewConnectRejectMessage(first.NodeID, "authentication failed"))
		return
	}

	nc := &nodeConn{
		id:           first.NodeID,
		displayName:  displayName,
		platform:     platform,
		hostname:     hostname,
		capabilities: caps,
		connectedAt:  time.Now(),
		paired:       paired,
		conn:         conn,
		pending:      make(map[string]chan InvokeResult),
	}

	r.mu.Lock()
	r.nodes[nc.id] = nc
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.nodes, nc.id)
		r.mu.Unlock()
	}()

	if err := conn.WriteJSON(NewConnectAckMessage(nc.id, paired)); err != nil {
		return
	}
	r.logger.Info("node connected", "node_id", nc.id, "display_name", displayName, "paired", paired)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			r.logger.Info("node disconnected", "node_id", nc.id, "error", err)
			return
		}
		switch msg.Type {
		case MsgPing:
			_ = conn.WriteJSON(NewPongMessage(nc.id))
		case MsgInvokeResult:
			res, err := msg.DecodeInvokeResult()
			if err != nil {
				continue
			}
			nc.mu.Lock()
			ch, ok := nc.pending[res.InvokeID]
			if ok {
				delete(nc.pending, res.InvokeID)
			}
			nc.mu.Unlock()
			if ok {
				ch <- res
			}
		case MsgDisconnect:
			return
		}
	}
}

// Invoke sends a capability invocation to a connected, paired node and waits
// for its result or ctx's deadline, whichever comes first.
func (r *Registry) Invoke(ctx context.Context, nodeID string, inv Invoke) (InvokeResult, error) {
	r.mu.RLock()
	nc, ok := r.nodes[nodeID]
	r.mu.RUnlock()
	if !ok {
		return InvokeResult{}, ErrNodeNotFound
	}
	if !nc.paired {
		return InvokeResult{}, fmt.Errorf("nodehost: node %s is not paired", nodeID)
	}
	if inv.ID == "" {
		inv = Invoke{ID: fmt.Sprintf("%s-%d", nodeID, time.Now().UnixNano()), Command: inv.Command, Params: inv.Params, TimeoutMS: inv.TimeoutMS, IdempotencyKey: inv.IdempotencyKey}
	}

	result := make(chan InvokeResult, 1)
	nc.mu.Lock()
	nc.pending[inv.ID] = result
	nc.mu.Unlock()
	defer func() {
		nc.mu.Lock()
		delete(nc.pending, inv.ID)
		nc.mu.Unlock()
	}()

	nc.mu.Lock()
	err := nc.conn.WriteJSON(NewInvokeMessage(nodeID, inv))
	nc.mu.Unlock()
	if err != nil {
		return InvokeResult{}, fmt.Errorf("nodehost: send invoke: %w", err)
	}

	select {
	case res := <-result:
		return res, nil
	case <-ctx.Done():
		return InvokeResult{}, ctx.Err()
	}
}

// ListNodes returns a snapshot of connected nodes' identity and capabilities.
func (r *Registry) ListNodes() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeInfo, 0, len(r.nodes))
	for _, nc := range r.nodes {
		out = append(out, NodeInfo{
			ID:           nc.id,
			DisplayName:  nc.displayName,
			Platform:     nc.platform,
			Hostname:     nc.hostname,
			Capabilities: nc.capabilities,
			Paired:       nc.paired,
			ConnectedAt:  nc.connectedAt,
		})
	}
	return out
}

// NodeInfo is a read-only snapshot of a connected node's identity.
type NodeInfo struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	Platform     string       `json:"platform"`
	Hostname     string       `json:"hostname"`
	Capabilities []Capability `json:"capabilities"`
	Paired       bool         `json:"paired"`
	ConnectedAt  time.Time    `json:"connected_at"`
}
