// Package modelprofile evaluates and tracks model capability profiles:
// how well a given model performs at tool calling, instruction following,
// reasoning, and related axes, and what guardrails the tiered router and
// agent loop should apply when routing work to it.
package modelprofile

import (
	"strings"
	"time"
)

// ProfileVersion is bumped whenever the scoring methodology changes enough
// that old profiles should be treated as stale.
const ProfileVersion = "1.0"

// Task is a unit of work a model might be routed to perform.
type Task string

const (
	TaskCoding        Task = "coding"
	TaskCodeReview    Task = "code_review"
	TaskAnalysis      Task = "analysis"
	TaskResearch      Task = "research"
	TaskSummarization Task = "summarization"
	TaskPlanning      Task = "planning"
	TaskToolUse       Task = "tool_use"
	TaskConversation  Task = "conversation"
	TaskCreative      Task = "creative"
)

// Role is a position within a swarm or agent-loop delegation.
type Role string

const (
	RoleArchitect Role = "architect"
	RoleLeadDev   Role = "lead_dev"
	RoleSeniorDev Role = "senior_dev"
	RoleJuniorDev Role = "junior_dev"
	RoleQAEngineer Role = "qa_engineer"
	RoleAuditor   Role = "auditor"
	RoleResearcher Role = "researcher"
)

// capabilityWeights names which CapabilityScores fields matter for a task,
// and how much.
type capabilityWeights map[string]float64

// taskCapabilityMap mirrors nanobot's TASK_CAPABILITY_MAP: for each task,
// the capability axes that should dominate suitability scoring.
var taskCapabilityMap = map[Task]capabilityWeights{
	TaskCoding:        {"code_generation": 0.5, "instruction_following": 0.2, "reasoning_depth": 0.2, "tool_calling_accuracy": 0.1},
	TaskCodeReview:    {"code_generation": 0.3, "reasoning_depth": 0.4, "hallucination_resistance": 0.3},
	TaskAnalysis:      {"reasoning_depth": 0.5, "context_utilization": 0.3, "hallucination_resistance": 0.2},
	TaskResearch:      {"hallucination_resistance": 0.4, "reasoning_depth": 0.3, "context_utilization": 0.3},
	TaskSummarization: {"context_utilization": 0.5, "instruction_following": 0.3, "long_context_handling": 0.2},
	TaskPlanning:      {"reasoning_depth": 0.4, "instruction_following": 0.3, "structured_output": 0.3},
	TaskToolUse:       {"tool_calling_accuracy": 0.6, "instruction_following": 0.4},
	TaskConversation:  {"instruction_following": 0.5, "hallucination_resistance": 0.5},
	TaskCreative:      {"reasoning_depth": 0.3, "instruction_following": 0.7},
}

type roleRequirement struct {
	required []string
	preferred []string
	weights  capabilityWeights
}

// roleCapabilityMap mirrors nanobot's ROLE_CAPABILITY_MAP.
var roleCapabilityMap = map[Role]roleRequirement{
	RoleArchitect: {
		required:  []string{"reasoning_depth", "instruction_following"},
		preferred: []string{"context_utilization"},
		weights:   capabilityWeights{"reasoning_depth": 0.5, "instruction_following": 0.3, "context_utilization": 0.2},
	},
	RoleLeadDev: {
		required:  []string{"code_generation", "reasoning_depth"},
		preferred: []string{"tool_calling_accuracy"},
		weights:   capabilityWeights{"code_generation": 0.4, "reasoning_depth": 0.35, "tool_calling_accuracy": 0.25},
	},
	RoleSeniorDev: {
		required:  []string{"code_generation", "tool_calling_accuracy"},
		weights:   capabilityWeights{"code_generation": 0.5, "tool_calling_accuracy": 0.5},
	},
	RoleJuniorDev: {
		required:  []string{"instruction_following"},
		weights:   capabilityWeights{"instruction_following": 0.6, "code_generation": 0.4},
	},
	RoleQAEngineer: {
		required:  []string{"hallucination_resistance", "reasoning_depth"},
		weights:   capabilityWeights{"hallucination_resistance": 0.5, "reasoning_depth": 0.5},
	},
	RoleAuditor: {
		required:  []string{"hallucination_resistance"},
		preferred: []string{"reasoning_depth"},
		weights:   capabilityWeights{"hallucination_resistance": 0.6, "reasoning_depth": 0.4},
	},
	RoleResearcher: {
		required:  []string{"hallucination_resistance", "context_utilization"},
		weights:   capabilityWeights{"hallucination_resistance": 0.4, "context_utilization": 0.3, "reasoning_depth": 0.3},
	},
}

// CapabilityScores captures how a model performed across eight fixed axes,
// each scaled 0.0 (worst observed) to 1.0 (best observed).
type CapabilityScores struct {
	ToolCallingAccuracy      float64 `json:"tool_calling_accuracy"`
	InstructionFollowing     float64 `json:"instruction_following"`
	ContextUtilization       float64 `json:"context_utilization"`
	CodeGeneration           float64 `json:"code_generation"`
	ReasoningDepth           float64 `json:"reasoning_depth"`
	HallucinationResistance float64 `json:"hallucination_resistance"`
	StructuredOutput         float64 `json:"structured_output"`
	LongContextHandling      float64 `json:"long_context_handling"`
}

// field returns a capability by its taskCapabilityMap/roleCapabilityMap key.
func (c CapabilityScores) field(name string) float64 {
	switch name {
	case "tool_calling_accuracy":
		return c.ToolCallingAccuracy
	case "instruction_following":
		return c.InstructionFollowing
	case "context_utilization":
		return c.ContextUtilization
	case "code_generation":
		return c.CodeGeneration
	case "reasoning_depth":
		return c.ReasoningDepth
	case "hallucination_resistance":
		return c.HallucinationResistance
	case "structured_output":
		return c.StructuredOutput
	case "long_context_handling":
		return c.LongContextHandling
	default:
		return 0
	}
}

// WeightedAverage computes a weighted average across the named axes.
func (c CapabilityScores) WeightedAverage(weights map[string]float64) float64 {
	var sum, total float64
	for name, w := range weights {
		sum += c.field(name) * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// Overall is the unweighted mean across all eight axes.
func (c CapabilityScores) Overall() float64 {
	return (c.ToolCallingAccuracy + c.InstructionFollowing + c.ContextUtilization +
		c.CodeGeneration + c.ReasoningDepth + c.HallucinationResistance +
		c.StructuredOutput + c.LongContextHandling) / 8
}

// GuardrailRecommendations are operational knobs the agent loop and tiered
// router should apply when dispatching work to a model.
type GuardrailRecommendations struct {
	NeedsStructuredOutput   bool    `json:"needs_structured_output"`
	NeedsExplicitFormat     bool    `json:"needs_explicit_format"`
	NeedsToolExamples       bool    `json:"needs_tool_examples"`
	MaxReliableContext      int     `json:"max_reliable_context"`
	RecommendedTemperature  float64 `json:"recommended_temperature"`
	ToolCallRetryLimit      int     `json:"tool_call_retry_limit"`
	NeedsStepByStep         bool    `json:"needs_step_by_step"`
	AvoidParallelTools      bool    `json:"avoid_parallel_tools"`
}

// RuntimeStats accumulates live operational data for a model, distinct
// from the point-in-time interview scores in CapabilityScores.
type RuntimeStats struct {
	TotalCalls          int64            `json:"total_calls"`
	SuccessfulCalls     int64            `json:"successful_calls"`
	ToolCallSuccesses   int64            `json:"tool_call_successes"`
	ToolCallFailures    int64            `json:"tool_call_failures"`
	TotalTokensUsed     int64            `json:"total_tokens_used"`
	AverageLatencyMS    float64          `json:"average_latency_ms"`
	CommonErrors        map[string]int64 `json:"common_errors,omitempty"`
}

// SuccessRate returns SuccessfulCalls/TotalCalls, or 1.0 with no history.
func (r *RuntimeStats) SuccessRate() float64 {
	if r.TotalCalls == 0 {
		return 1.0
	}
	return float64(r.SuccessfulCalls) / float64(r.TotalCalls)
}

// ToolAccuracy returns the tool-call success ratio, or 1.0 with no history.
func (r *RuntimeStats) ToolAccuracy() float64 {
	total := r.ToolCallSuccesses + r.ToolCallFailures
	if total == 0 {
		return 1.0
	}
	return float64(r.ToolCallSuccesses) / float64(total)
}

// RecordCall folds one completed call's outcome into the running stats,
// updating AverageLatencyMS with an exponential moving average (alpha 0.1)
// so recent latency dominates without discarding history entirely.
func (r *RuntimeStats) RecordCall(success bool, latencyMS float64, tokensUsed int64, toolCallOK *bool, errCategory string) {
	r.TotalCalls++
	if success {
		r.SuccessfulCalls++
	}
	r.TotalTokensUsed += tokensUsed

	if r.TotalCalls == 1 {
		r.AverageLatencyMS = latencyMS
	} else {
		r.AverageLatencyMS = 0.9*r.AverageLatencyMS + 0.1*latencyMS
	}

	if toolCallOK != nil {
		if *toolCallOK {
			r.ToolCallSuccesses++
		} else {
			r.ToolCallFailures++
		}
	}

	if !success && errCategory != "" {
		if r.CommonErrors == nil {
			r.CommonErrors = make(map[string]int64)
		}
		r.CommonErrors[errCategory]++
	}
}

// Profile is a model's full capability and operational record.
type Profile struct {
	ModelID          string           `json:"model_id"`
	ProfileVersion   string           `json:"profile_version"`
	InterviewedAt    time.Time        `json:"interviewed_at"`
	InterviewerModel string           `json:"interviewer_model"`
	Capabilities     CapabilityScores `json:"capabilities"`
	Strengths        []string         `json:"strengths,omitempty"`
	Weaknesses       []string         `json:"weaknesses,omitempty"`
	OptimalTasks     []string         `json:"optimal_tasks,omitempty"`
	AvoidTasks       []string         `json:"avoid_tasks,omitempty"`
	Guardrails       GuardrailRecommendations `json:"guardrails"`
	RuntimeStats     RuntimeStats     `json:"runtime_stats"`
	InterviewNotes   string           `json:"interview_notes,omitempty"`
}

// OverallScore blends capability scores (70%) with live runtime success
// rate (30%) once enough calls have accumulated to trust it; with fewer
// than 10 calls the capability score alone is used.
func (p *Profile) OverallScore() float64 {
	capScore := p.Capabilities.Overall()
	if p.RuntimeStats.TotalCalls < 10 {
		return capScore
	}
	return capScore*0.7 + p.RuntimeStats.SuccessRate()*0.3
}

// RoleSuitability scores how well this profile fits a role: 0 if any
// required capability is below 0.5, otherwise the role's weighted average.
func (p *Profile) RoleSuitability(role Role) float64 {
	req, ok := roleCapabilityMap[role]
	if !ok {
		return 0
	}
	for _, name := range req.required {
		if p.Capabilities.field(name) < 0.5 {
			return 0
		}
	}
	return p.Capabilities.WeightedAverage(req.weights)
}

// IsSuitableForTask reports whether this model clears threshold for task,
// using the task's weighted capability average.
func (p *Profile) IsSuitableForTask(task Task, threshold float64) bool {
	weights, ok := taskCapabilityMap[task]
	if !ok {
		return p.OverallScore() >= threshold
	}
	return p.Capabilities.WeightedAverage(weights) >= threshold
}

// GuardrailPrompt renders the guardrail recommendations as instruction text
// to prepend to a system prompt when dispatching work to this model.
func (p *Profile) GuardrailPrompt() string {
	var lines []string
	if p.Guardrails.NeedsStructuredOutput {
		lines = append(lines, "Respond using the exact structured format requested; do not add commentary outside it.")
	}
	if p.Guardrails.NeedsExplicitFormat {
		lines = append(lines, "Follow formatting instructions literally and completely.")
	}
	if p.Guardrails.NeedsToolExamples {
		lines = append(lines, "Before calling a tool, review the provided example call shape carefully.")
	}
	if p.Guardrails.NeedsStepByStep {
		lines = append(lines, "Work through the problem step by step before producing a final answer.")
	}
	if p.Guardrails.AvoidParallelTools {
		lines = append(lines, "Call tools one at a time; do not issue parallel tool calls.")
	}
	return strings.Join(lines, "\n")
}

// IsStale reports whether this profile should be re-interviewed: version
// mismatch, or older than maxAge with enough runtime history to have
// drifted from its interview-time scores.
func (p *Profile) IsStale(maxAge time.Duration, now time.Time) bool {
	if p.ProfileVersion != ProfileVersion {
		return true
	}
	if now.Sub(p.InterviewedAt) > maxAge {
		return true
	}
	if p.RuntimeStats.TotalCalls > 200 && p.RuntimeStats.SuccessRate() < p.Capabilities.Overall()-0.25 {
		return true
	}
	return false
}
