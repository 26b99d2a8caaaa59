package nodehost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when an operation requires an active connection.
var ErrNotConnected = errors.New("nodehost: not connected to gateway")

// Config configures a Host's identity and connection parameters.
type Config struct {
	GatewayURL  string
	Token       string
	DisplayName string
	NodeID      string

	// ConfigPath persists NodeID/pairing state across restarts. Empty disables persistence.
	ConfigPath string

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	Approvals *ExecApprovalManager
}

func (c *Config) setDefaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 60 * time.Second
	}
}

type persistedNodeConfig struct {
	NodeID string `json:"node_id"`
}

// Host is the remote side of the node protocol: it dials out to a gateway,
// announces its capabilities, and executes INVOKE frames under the node's
// local exec approval gate.
type Host struct {
	cfg          Config
	logger       *slog.Logger
	approvals    *ExecApprovalManager
	capabilities []Capability

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	paired    bool
	running   bool

	stop chan struct{}
	done chan struct{}
}

// New builds a Host. If cfg.Approvals is nil, a deny-by-default manager with
// the default safe/deny pattern sets is created (unpersisted).
func New(cfg Config, logger *slog.Logger) (*Host, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nodehost")

	if cfg.ConfigPath != "" {
		if id, err := loadNodeID(cfg.ConfigPath); err == nil && id != "" && cfg.NodeID == "" {
			cfg.NodeID = id
		}
	}
	if cfg.NodeID == "" {
		cfg.NodeID = randomNodeID()
		if cfg.ConfigPath != "" {
			if err := saveNodeID(cfg.ConfigPath, cfg.NodeID); err != nil {
				logger.Warn("failed to persist node id", "error", err)
			}
		}
	}

	approvalsMgr := cfg.Approvals
	if approvalsMgr == nil {
		var err error
		approvalsMgr, err = NewExecApprovalManager(DefaultApprovalManagerConfig(""))
		if err != nil {
			return nil, err
		}
	}

	return &Host{
		cfg:       cfg,
		logger:    logger,
		approvals: approvalsMgr,
		capabilities: []Capability{
			CapabilitySystemRun,
			CapabilitySystemWhich,
		},
	}, nil
}

// IsConnected reports whether the node currently has an open WebSocket to the gateway.
func (h *Host) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// IsPaired reports whether the gateway has approved this node.
func (h *Host) IsPaired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paired
}

// Start connects to the gateway and blocks, reconnecting with exponential
// backoff on failure, until Stop is called or ctx is canceled.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return errors.New("nodehost: already running")
	}
	h.running = true
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	h.mu.Unlock()

	defer close(h.done)

	delay := h.cfg.ReconnectDelay
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		default:
		}

		if err := h.connect(ctx); err != nil {
			h.logger.Warn("connect failed", "error", err, "attempt", attempt)
			attempt++
			wait := delay
			if max := h.cfg.MaxReconnectDelay; wait > max {
				wait = max
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			case <-h.stop:
				return nil
			}
			delay *= 2
			if delay > h.cfg.MaxReconnectDelay {
				delay = h.cfg.MaxReconnectDelay
			}
			continue
		}

		// Reset backoff after a successful connect.
		attempt = 0
		delay = h.cfg.ReconnectDelay

		h.runLoop(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		default:
		}
	}
}

// Stop disconnects from the gateway and ends the reconnect loop.
func (h *Host) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stop := h.stop
	done := h.done
	h.mu.Unlock()

	h.disconnect()
	if stop != nil {
		close(stop)
	}
	if done != nil {
		<-done
	}
}

func (h *Host) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, h.cfg.GatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	hostname, _ := os.Hostname()
	connectMsg := NewConnectMessage(h.cfg.NodeID, h.cfg.DisplayName, h.capabilities, runtime.GOOS, hostname, h.cfg.Token)
	if err := conn.WriteJSON(connectMsg); err != nil {
		conn.Close()
		return fmt.Errorf("send connect: %w", err)
	}

	var ack Message
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("read connect response: %w", err)
	}

	switch ack.Type {
	case MsgConnectAck:
		paired, _ := ack.DecodeConnectAck()
		h.mu.Lock()
		h.conn = conn
		h.connected = true
		h.paired = paired
		h.mu.Unlock()
		if paired {
			h.logger.Info("node approved and paired", "node_id", h.cfg.NodeID)
		} else {
			h.logger.Info("node connected, awaiting pairing approval", "node_id", h.cfg.NodeID)
		}
		return nil
	case MsgConnectReject:
		reason, _ := ack.DecodeConnectReject()
		conn.Close()
		return fmt.Errorf("connect rejected: %s", reason)
	default:
		conn.Close()
		return fmt.Errorf("unexpected response type: %s", ack.Type)
	}
}

func (h *Host) disconnect() {
	h.mu.Lock()
	conn := h.conn
	h.conn = nil
	h.connected = false
	h.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.WriteJSON(NewDisconnectMessage(h.cfg.NodeID))
	_ = conn.Close()
}

func (h *Host) runLoop(ctx context.Context) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			h.logger.Info("websocket closed by gateway", "error", err)
			break
		}
		if err := h.handleMessage(ctx, conn, msg); err != nil {
			h.logger.Error("error handling message", "type", msg.Type, "error", err)
		}
	}

	h.mu.Lock()
	h.conn = nil
	h.connected = false
	h.paired = false
	h.mu.Unlock()
}

func (h *Host) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	switch msg.Type {
	case MsgPing:
		return conn.WriteJSON(NewPongMessage(h.cfg.NodeID))

	case MsgConnectAck:
		paired, err := msg.DecodeConnectAck()
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.paired = paired
		h.mu.Unlock()
		return nil

	case MsgInvoke:
		inv, err := msg.DecodeInvoke()
		if err != nil {
			return err
		}
		result := h.handleInvoke(ctx, inv)
		return conn.WriteJSON(NewInvokeResultMessage(h.cfg.NodeID, result))

	case MsgDisconnect:
		h.logger.Info("gateway requested disconnect")
		go h.Stop()
		return nil

	default:
		return nil
	}
}

func (h *Host) handleInvoke(ctx context.Context, inv Invoke) InvokeResult {
	start := time.Now()

	var result InvokeResult
	switch inv.Command {
	case "system.run":
		result = h.execSystemRun(ctx, inv)
	case "system.which":
		result = h.execSystemWhich(inv)
	default:
		result = InvokeResult{
			InvokeID:  inv.ID,
			Success:   false,
			Error:     fmt.Sprintf("unknown command: %s", inv.Command),
			ErrorCode: ErrCodeCapabilityUnsupported,
		}
	}

	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

func (h *Host) execSystemRun(ctx context.Context, inv Invoke) InvokeResult {
	command, _ := inv.Params["command"].(string)
	if command == "" {
		return InvokeResult{InvokeID: inv.ID, Success: false, Error: "no command provided"}
	}

	approval := h.approvals.CheckApproval(command)
	if !approval.Allowed {
		return InvokeResult{
			InvokeID:  inv.ID,
			Success:   false,
			Error:     fmt.Sprintf("command not approved: %s", approval.Reason),
			ErrorCode: ErrCodeExecDenied,
		}
	}

	timeoutMS := inv.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = 60000
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	shell := "/bin/sh"
	shellFlag := "-c"
	if runtime.GOOS == "windows" {
		shell = "cmd.exe"
		shellFlag = "/c"
	}
	cmd := exec.CommandContext(runCtx, shell, shellFlag, command)

	if cwd, ok := inv.Params["cwd"].(string); ok && cwd != "" {
		cmd.Dir = cwd
	}
	if env, ok := inv.Params["env"].(map[string]any); ok && len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return InvokeResult{
			InvokeID:  inv.ID,
			Success:   false,
			Error:     fmt.Sprintf("command timed out after %dms", timeoutMS),
			ErrorCode: ErrCodeTimeout,
		}
	}

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return InvokeResult{InvokeID: inv.ID, Success: false, Error: err.Error()}
	}

	success := exitCode == 0
	result := InvokeResult{
		InvokeID: inv.ID,
		Success:  success,
		Result: map[string]any{
			"stdout":    stdout.String(),
			"stderr":    stderr.String(),
			"exit_code": exitCode,
		},
	}
	if !success {
		result.Error = stderr.String()
	}
	return result
}

func (h *Host) execSystemWhich(inv Invoke) InvokeResult {
	command, _ := inv.Params["command"].(string)
	if command == "" {
		return InvokeResult{InvokeID: inv.ID, Success: false, Error: "no command provided"}
	}
	path, err := exec.LookPath(command)
	exists := err == nil
	return InvokeResult{
		InvokeID: inv.ID,
		Success:  true,
		Result: map[string]any{
			"exists": exists,
			"path":   path,
		},
	}
}

func loadNodeID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var cfg persistedNodeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", err
	}
	return cfg.NodeID, nil
}

func saveNodeID(path, nodeID string) error {
	data, err := json.MarshalIndent(persistedNodeConfig{NodeID: nodeID}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func randomNodeID() string {
	return "node-" + uuid.NewString()
}
