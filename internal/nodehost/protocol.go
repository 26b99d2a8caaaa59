// Package nodehost implements the remote-node side of the node protocol: a
// process that dials out to the gateway, advertises a fixed set of execution
// capabilities, and executes gateway-issued invocations under a node-local
// exec approval gate.
package nodehost

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a node as tracked by the gateway side.
type Status string

const (
	StatusPending      Status = "pending"
	StatusPaired       Status = "paired"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// MessageType enumerates the frames exchanged between a node and the gateway.
type MessageType string

const (
	MsgConnect       MessageType = "connect"
	MsgConnectAck    MessageType = "connect_ack"
	MsgConnectReject MessageType = "connect_reject"
	MsgDisconnect    MessageType = "disconnect"
	MsgPing          MessageType = "ping"
	MsgPong          MessageType = "pong"
	MsgInvoke        MessageType = "invoke"
	MsgInvokeResult  MessageType = "invoke_result"
	MsgStatus        MessageType = "status"
	MsgCapabilities  MessageType = "capabilities"
)

// Error codes returned in InvokeResult.ErrorCode.
const (
	ErrCodePermissionDenied     = "PERMISSION_DENIED"
	ErrCodeCommandNotFound      = "COMMAND_NOT_FOUND"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeNodeUnavailable      = "NODE_UNAVAILABLE"
	ErrCodeNodeNotPaired        = "NODE_NOT_PAIRED"
	ErrCodeInvalidToken          = "INVALID_TOKEN"
	ErrCodeCapabilityUnsupported = "CAPABILITY_NOT_SUPPORTED"
	ErrCodeExecApprovalRequired  = "EXEC_APPROVAL_REQUIRED"
	ErrCodeExecDenied            = "EXEC_DENIED"
)

// Capability is a command namespace a node advertises to the gateway, such as
// "system.run" or "system.which".
type Capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Version     string         `json:"version"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

var (
	// CapabilitySystemRun lets the gateway execute shell commands on the node.
	CapabilitySystemRun = Capability{Name: "system.run", Description: "Execute shell commands", Version: "1.0"}
	// CapabilitySystemWhich lets the gateway check whether a command exists on the node.
	CapabilitySystemWhich = Capability{Name: "system.which", Description: "Check if a command exists", Version: "1.0"}
	// CapabilitySystemNotify lets the gateway send a system notification from the node. Not yet implemented.
	CapabilitySystemNotify = Capability{Name: "system.notify", Description: "Send system notifications", Version: "1.0"}
)

// Invoke is a command invocation request sent from the gateway to a node.
type Invoke struct {
	ID             string         `json:"id"`
	Command        string         `json:"command"`
	Params         map[string]any `json:"params,omitempty"`
	TimeoutMS      int            `json:"timeout_ms"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// InvokeResult is the outcome of executing an Invoke on a node.
type InvokeResult struct {
	InvokeID   string `json:"invoke_id"`
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Message is the envelope used for every frame exchanged between a node and
// the gateway: a tagged union discriminated on Type, with a raw JSON payload
// decoded according to that type.
type Message struct {
	Type      MessageType     `json:"type"`
	NodeID    string          `json:"node_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	MessageID string          `json:"message_id"`
}

func newMessage(typ MessageType, nodeID string, payload any) Message {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return Message{
		Type:      typ,
		NodeID:    nodeID,
		Payload:   raw,
		Timestamp: time.Now(),
		MessageID: uuid.NewString(),
	}
}

type connectPayload struct {
	DisplayName  string       `json:"display_name"`
	Capabilities []Capability `json:"capabilities"`
	Platform     string       `json:"platform"`
	Hostname     string       `json:"hostname"`
	Token        string       `json:"token"`
}

type connectAckPayload struct {
	Paired bool `json:"paired"`
}

type connectRejectPayload struct {
	Reason string `json:"reason"`
}

// NewConnectMessage builds a CONNECT frame for a node announcing itself.
func NewConnectMessage(nodeID, displayName string, caps []Capability, platform, hostname, token string) Message {
	return newMessage(MsgConnect, nodeID, connectPayload{
		DisplayName:  displayName,
		Capabilities: caps,
		Platform:     platform,
		Hostname:     hostname,
		Token:        token,
	})
}

// NewConnectAckMessage builds a CONNECT_ACK frame.
func NewConnectAckMessage(nodeID string, paired bool) Message {
	return newMessage(MsgConnectAck, nodeID, connectAckPayload{Paired: paired})
}

// NewConnectRejectMessage builds a CONNECT_REJECT frame.
func NewConnectRejectMessage(nodeID, reason string) Message {
	return newMessage(MsgConnectReject, nodeID, connectRejectPayload{Reason: reason})
}

// NewDisconnectMessage builds a DISCONNECT frame.
func NewDisconnectMessage(nodeID string) Message {
	return newMessage(MsgDisconnect, nodeID, nil)
}

// NewInvokeMessage builds an INVOKE frame carrying inv.
func NewInvokeMessage(nodeID string, inv Invoke) Message {
	return newMessage(MsgInvoke, nodeID, inv)
}

// NewInvokeResultMessage builds an INVOKE_RESULT frame carrying res.
func NewInvokeResultMessage(nodeID string, res InvokeResult) Message {
	return newMessage(MsgInvokeResult, nodeID, res)
}

// NewPingMessage builds a PING frame.
func NewPingMessage(nodeID string) Message {
	return newMessage(MsgPing, nodeID, nil)
}

// NewPongMessage builds a PONG frame.
func NewPongMessage(nodeID string) Message {
	return newMessage(MsgPong, nodeID, nil)
}

// DecodeConnect extracts the payload of a CONNECT message.
func (m Message) DecodeConnect() (displayName, platform, hostname, token string, caps []Capability, err error) {
	var p connectPayload
	if len(m.Payload) > 0 {
		if err = json.Unmarshal(m.Payload, &p); err != nil {
			return
		}
	}
	return p.DisplayName, p.Platform, p.Hostname, p.Token, p.Capabilities, nil
}

// DecodeConnectAck extracts the payload of a CONNECT_ACK message.
func (m Message) DecodeConnectAck() (paired bool, err error) {
	var p connectAckPayload
	if len(m.Payload) > 0 {
		err = json.Unmarshal(m.Payload, &p)
	}
	return p.Paired, err
}

// DecodeConnectReject extracts the payload of a CONNECT_REJECT message.
func (m Message) DecodeConnectReject() (reason string, err error) {
	var p connectRejectPayload
	if len(m.Payload) > 0 {
		err = json.Unmarshal(m.Payload, &p)
	}
	return p.Reason, err
}

// DecodeInvoke extracts the payload of an INVOKE message.
func (m Message) DecodeInvoke() (Invoke, error) {
	var inv Invoke
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &inv); err != nil {
			return Invoke{}, err
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.TimeoutMS == 0 {
		inv.TimeoutMS = 30000
	}
	return inv, nil
}

// DecodeInvokeResult extracts the payload of an INVOKE_RESULT message.
func (m Message) DecodeInvokeResult() (InvokeResult, error) {
	var res InvokeResult
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &res); err != nil {
			return InvokeResult{}, err
		}
	}
	return res, nil
}
