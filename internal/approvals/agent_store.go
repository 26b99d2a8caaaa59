package approvals

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nodeweave/conduit/internal/agent"
)

// AgentStore adapts Manager to agent.ApprovalStore, giving tool-call approval
// requests raised by agent.ApprovalChecker a durable home with the same
// expiry sweep, listener fan-out, and WaitForDecision primitive used for
// node invocation approvals.
type AgentStore struct {
	mgr *Manager
}

// NewAgentStore wraps mgr as an agent.ApprovalStore.
func NewAgentStore(mgr *Manager) *AgentStore {
	return &AgentStore{mgr: mgr}
}

// Create implements agent.ApprovalStore.
func (s *AgentStore) Create(_ context.Context, req *agent.ApprovalRequest) error {
	args := map[string]any{
		"agent_id":     req.AgentID,
		"session_id":   req.SessionID,
		"tool_call_id": req.ToolCallID,
	}
	if len(req.Input) > 0 {
		var decoded any
		if err := json.Unmarshal(req.Input, &decoded); err == nil {
			args["input"] = decoded
		}
	}
	s.mgr.Put(Request{
		ID:        req.ID,
		Tool:      req.ToolName,
		Args:      args,
		Requester: req.AgentID,
		Reason:    req.Reason,
		Status:    StatusPending,
		CreatedAt: req.CreatedAt,
		ExpiresAt: req.ExpiresAt,
	})
	return nil
}

// Get implements agent.ApprovalStore.
func (s *AgentStore) Get(_ context.Context, id string) (*agent.ApprovalRequest, error) {
	r, err := s.mgr.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toAgentRequest(r), nil
}

// Update implements agent.ApprovalStore, translating a decided
// agent.ApprovalRequest into an Approve/Deny call against the Manager.
func (s *AgentStore) Update(_ context.Context, req *agent.ApprovalRequest) error {
	switch req.Decision {
	case agent.ApprovalAllowed:
		return s.mgr.Approve(req.ID, req.DecidedBy, "")
	case agent.ApprovalDenied:
		return s.mgr.Deny(req.ID, req.DecidedBy, "")
	default:
		return nil
	}
}

// ListPending implements agent.ApprovalStore.
func (s *AgentStore) ListPending(_ context.Context, agentID string) ([]*agent.ApprovalRequest, error) {
	var out []*agent.ApprovalRequest
	for _, r := range s.mgr.Pending() {
		if agentID != "" && r.Requester != agentID {
			continue
		}
		out = append(out, toAgentRequest(r))
	}
	return out, nil
}

// Prune implements agent.ApprovalStore. The Manager's own background sweep
// already purges decided requests older than its PurgeAfter, so this is a no-op.
func (s *AgentStore) Prune(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func toAgentRequest(r Request) *agent.ApprovalRequest {
	decision := agent.ApprovalPending
	switch r.Status {
	case StatusApproved:
		decision = agent.ApprovalAllowed
	case StatusDenied, StatusExpired:
		decision = agent.ApprovalDenied
	}
	toolCallID, _ := r.Args["tool_call_id"].(string)
	sessionID, _ := r.Args["session_id"].(string)
	return &agent.ApprovalRequest{
		ID:         r.ID,
		ToolCallID: toolCallID,
		ToolName:   r.Tool,
		AgentID:    r.Requester,
		SessionID:  sessionID,
		Reason:     r.Reason,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		Decision:   decision,
		DecidedAt:  r.DecidedAt,
		DecidedBy:  r.DecidedBy,
	}
}
