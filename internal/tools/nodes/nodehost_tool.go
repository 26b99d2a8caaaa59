package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nodeweave/conduit/internal/agent"
	"github.com/nodeweave/conduit/internal/nodehost"
)

// NodeHostTool exposes the lightweight JSON/WebSocket node fleet
// (internal/nodehost) to the agent loop: listing connected headless nodes
// and invoking one of their fixed capabilities (system.run, system.which).
type NodeHostTool struct {
	registry *nodehost.Registry
}

// NewNodeHostTool creates a tool backed by registry.
func NewNodeHostTool(registry *nodehost.Registry) *NodeHostTool {
	return &NodeHostTool{registry: registry}
}

func (t *NodeHostTool) Name() string { return "node_host" }

func (t *NodeHostTool) Description() string {
	return "List connected lightweight nodes and invoke a capability (system.run, system.which) on one of them."
}

func (t *NodeHostTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "Action: list, invoke.",
			},
			"node_id": map[string]any{
				"type":        "string",
				"description": "Node identifier (invoke action).",
			},
			"command": map[string]any{
				"type":        "string",
				"description": "Capability to invoke, e.g. system.run or system.which (invoke action).",
			},
			"params": map[string]any{
				"type":        "object",
				"description": "Parameters for the command (invoke action).",
			},
			"timeout_ms": map[string]any{
				"type":        "number",
				"description": "Override invocation timeout in milliseconds (invoke action).",
			},
		},
		"required": []string{"action"},
	}
	raw, _ := json.Marshal(schema)
	return raw
}

type nodeHostInput struct {
	Action    string         `json:"action"`
	NodeID    string         `json:"node_id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params"`
	TimeoutMS int            `json:"timeout_ms"`
}

// Execute implements agent.Tool.
func (t *NodeHostTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	if t.registry == nil {
		return nil, fmt.Errorf("node_host: registry not configured")
	}

	var in nodeHostInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("node_host: invalid input: %w", err)
		}
	}

	switch in.Action {
	case "", "list":
		nodes := t.registry.ListNodes()
		out, err := json.Marshal(nodes)
		if err != nil {
			return nil, err
		}
		return &agent.ToolResult{Content: string(out)}, nil

	case "invoke":
		if in.NodeID == "" || in.Command == "" {
			return nil, fmt.Errorf("node_host: invoke requires node_id and command")
		}
		timeoutMS := in.TimeoutMS
		if timeoutMS <= 0 {
			timeoutMS = 30000
		}
		invokeCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()

		result, err := t.registry.Invoke(invokeCtx, in.NodeID, nodehost.Invoke{
			Command:   in.Command,
			Params:    in.Params,
			TimeoutMS: timeoutMS,
		})
		if err != nil {
			return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
		}
		out, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		return &agent.ToolResult{Content: string(out), IsError: !result.Success}, nil

	default:
		return nil, fmt.Errorf("node_host: unknown action %q", in.Action)
	}
}
