package modelprofile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Category is a grouping of interview tests against one capability axis.
type Category string

const (
	CategoryToolCalling  Category = "tool_calling"
	CategoryInstruction  Category = "instruction"
	CategoryContext      Category = "context"
	CategoryCode         Category = "code"
	CategoryReasoning    Category = "reasoning"
	CategoryHallucination Category = "hallucination"
)

// Validation names how a TestCase's response should be scored.
type Validation string

const (
	ValidationExact       Validation = "exact"
	ValidationContains    Validation = "contains"
	ValidationNotContains Validation = "not_contains"
	ValidationJSONValid   Validation = "json_valid"
	ValidationToolCall    Validation = "tool_call"
	ValidationEvaluator   Validation = "evaluator"
	ValidationRegex       Validation = "regex"
)

// TestCase is one standardized probe run against a candidate model.
type TestCase struct {
	ID               string
	Name             string
	Category         Category
	Prompt           string
	SystemPrompt     string
	ExpectedBehavior string
	Validation       Validation
	Expected         any
	MaxTokens        int
	Timeout          time.Duration
	Weight           float64
}

// TestResult is the scored outcome of running one TestCase.
type TestResult struct {
	TestID          string
	Passed          bool
	Score           float64
	ActualOutput    string
	Notes           string
	Err             string
	ToolCallsMade   []ToolCallMade
	ExecutionTime   time.Duration
}

// ToolCallMade records one tool invocation the candidate model attempted
// during a test.
type ToolCallMade struct {
	Name      string
	Arguments map[string]any
}

// Provider is the narrow surface the interviewer needs from an LLM
// provider: a single non-streaming completion call. Implementations adapt
// the richer agent/providers.Provider interface.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// CompletionRequest is the interviewer's provider-agnostic request shape.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Message is a single chat turn.
type Message struct {
	Role    string
	Content string
}

// CompletionResponse is the interviewer's provider-agnostic response shape.
type CompletionResponse struct {
	Content   string
	ToolCalls []ToolCallMade
}

// defaultTestSuite returns the standardized probes run during an
// interview, one or more per capability category.
func defaultTestSuite() []TestCase {
	return []TestCase{
		{
			ID: "tool_calling/basic", Name: "Basic tool call", Category: CategoryToolCalling,
			Prompt:           "What is the weather in Boston? Use the get_weather tool.",
			ExpectedBehavior: "Calls get_weather with location=Boston",
			Validation:       ValidationToolCall,
			Expected:         map[string]any{"name": "get_weather", "args_contain": map[string]any{"location": "Boston"}},
			MaxTokens:        300, Timeout: 20 * time.Second, Weight: 1.0,
		},
		{
			ID: "instruction/format", Name: "Strict output format", Category: CategoryInstruction,
			Prompt:           "Reply with exactly the word DONE and nothing else.",
			ExpectedBehavior: "Replies with exactly 'DONE'",
			Validation:       ValidationExact,
			Expected:         "DONE",
			MaxTokens:        20, Timeout: 15 * time.Second, Weight: 1.0,
		},
		{
			ID: "instruction/json", Name: "Structured JSON output", Category: CategoryInstruction,
			Prompt:           "Return a JSON object with keys \"a\" and \"b\" set to 1 and 2. Output JSON only.",
			ExpectedBehavior: "Returns valid JSON",
			Validation:       ValidationJSONValid,
			MaxTokens:        100, Timeout: 15 * time.Second, Weight: 0.8,
		},
		{
			ID: "context/long_recall", Name: "Long context recall", Category: CategoryContext,
			Prompt:           "What was the secret code mentioned earlier?",
			SystemPrompt:     "You will be given a long document with an embedded secret code. Recall it precisely when asked.",
			ExpectedBehavior: "Recalls the embedded code verbatim",
			Validation:       ValidationContains,
			Expected:         "ALPHA-7742",
			MaxTokens:        200, Timeout: 25 * time.Second, Weight: 1.0,
		},
		{
			ID: "code/generation", Name: "Small function generation", Category: CategoryCode,
			Prompt:           "Write a function that returns true if an integer is prime. Respond with code only.",
			ExpectedBehavior: "Produces a correct, idiomatic primality check",
			Validation:       ValidationEvaluator,
			MaxTokens:        400, Timeout: 25 * time.Second, Weight: 1.0,
		},
		{
			ID: "reasoning/multi_step", Name: "Multi-step arithmetic reasoning", Category: CategoryReasoning,
			Prompt:           "A train travels 60 miles in 1.5 hours, then 90 miles in 1 hour. What is its average speed for the whole trip? Show your reasoning, then give the final number.",
			ExpectedBehavior: "Computes total distance / total time correctly (60 mph)",
			Validation:       ValidationContains,
			Expected:         "60",
			MaxTokens:        400, Timeout: 25 * time.Second, Weight: 1.0,
		},
		{
			ID: "hallucination/unknown_fact", Name: "Refuses to fabricate", Category: CategoryHallucination,
			Prompt:           "What was the exact attendance figure at the 1850 World Handball Congress?",
			ExpectedBehavior: "Declines to fabricate a precise figure it cannot know",
			Validation:       ValidationNotContains,
			Expected:         "attendees",
			MaxTokens:        200, Timeout: 20 * time.Second, Weight: 1.0,
		},
	}
}

// QuickTestSuite returns the subset of defaultTestSuite used for a fast
// assessment instead of a full interview.
func QuickTestSuite() []TestCase {
	full := defaultTestSuite()
	quick := make([]TestCase, 0, 3)
	wanted := map[string]bool{"tool_calling/basic": true, "instruction/format": true, "reasoning/multi_step": true}
	for _, t := range full {
		if wanted[t.ID] {
			quick = append(quick, t)
		}
	}
	return quick
}

// Interviewer runs the standardized test suite against a candidate model
// and synthesizes the results into a Profile, mirroring nanobot's
// ModelInterviewer but folded into this codebase's provider/logging idiom.
type Interviewer struct {
	provider         Provider
	interviewerModel string
	logger           *slog.Logger
}

// DefaultInterviewerModel is used when none is supplied, matching
// nanobot's high-reasoning default interviewer.
const DefaultInterviewerModel = "claude-opus-4-5"

// NewInterviewer creates an Interviewer. interviewerModel may be "" to use
// DefaultInterviewerModel.
func NewInterviewer(provider Provider, interviewerModel string, logger *slog.Logger) *Interviewer {
	if interviewerModel == "" {
		interviewerModel = DefaultInterviewerModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interviewer{provider: provider, interviewerModel: interviewerModel, logger: logger.With("component", "interviewer")}
}

// ProgressFunc is invoked after each test completes.
type ProgressFunc func(done, total int, testName string)

// Interview runs the full standardized suite against modelID and returns
// its synthesized Profile.
func (in *Interviewer) Interview(ctx context.Context, modelID string, progress ProgressFunc) (*Profile, error) {
	return in.run(ctx, modelID, defaultTestSuite(), progress, false)
}

// QuickAssessment runs a reduced suite for a fast capability estimate.
func (in *Interviewer) QuickAssessment(ctx context.Context, modelID string, progress ProgressFunc) (*Profile, error) {
	return in.run(ctx, modelID, QuickTestSuite(), progress, true)
}

func (in *Interviewer) run(ctx context.Context, modelID string, tests []TestCase, progress ProgressFunc, quick bool) (*Profile, error) {
	in.logger.Info("starting interview", "model", modelID, "interviewer", in.interviewerModel, "test_count", len(tests), "quick", quick)

	results := make([]TestResult, 0, len(tests))
	for i, test := range tests {
		if progress != nil {
			progress(i+1, len(tests), test.Name)
		}
		result := in.runTest(ctx, modelID, test)
		results = append(results, result)
		in.logger.Debug("test complete", "test", test.ID, "passed", result.Passed, "score", result.Score)
	}

	profile := in.synthesize(ctx, modelID, tests, results)
	in.logger.Info("interview complete", "model", modelID, "overall_score", profile.OverallScore())
	return profile, nil
}

func (in *Interviewer) runTest(ctx context.Context, modelID string, test TestCase) TestResult {
	start := time.Now()

	timeout := test.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	testCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var messages []Message
	if test.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: test.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: test.Prompt})

	resp, err := in.provider.Complete(testCtx, CompletionRequest{
		Model: modelID, Messages: messages, MaxTokens: test.MaxTokens, Temperature: 0.7,
	})
	elapsed := time.Since(start)
	if err != nil {
		if testCtx.Err() != nil {
			return TestResult{TestID: test.ID, Score: 0, Notes: "test timed out", Err: "timeout", ExecutionTime: timeout}
		}
		return TestResult{TestID: test.ID, Score: 0, Notes: fmt.Sprintf("error: %v", err), Err: err.Error(), ExecutionTime: elapsed}
	}

	score, notes, passed := in.validate(ctx, test, resp)
	output := resp.Content
	if len(output) > 1000 {
		output = output[:1000]
	}
	return TestResult{
		TestID: test.ID, Passed: passed, Score: score, ActualOutput: output, Notes: notes,
		ToolCallsMade: resp.ToolCalls, ExecutionTime: elapsed,
	}
}

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

func (in *Interviewer) validate(ctx context.Context, test TestCase, resp CompletionResponse) (score float64, notes string, passed bool) {
	output := resp.Content
	switch test.Validation {
	case ValidationExact:
		expected, _ := test.Expected.(string)
		passed = strings.TrimSpace(output) == expected
		return boolScore(passed), matchNotes(passed, "exact match"), passed

	case ValidationContains:
		expected, _ := test.Expected.(string)
		passed = strings.Contains(strings.ToLower(output), strings.ToLower(expected))
		return boolScore(passed), fmt.Sprintf("contains %q: %v", expected, passed), passed

	case ValidationNotContains:
		expected, _ := test.Expected.(string)
		passed = !strings.Contains(strings.ToLower(output), strings.ToLower(expected))
		return boolScore(passed), fmt.Sprintf("avoided %q: %v", expected, passed), passed

	case ValidationJSONValid:
		candidate := output
		if m := jsonObjectPattern.FindString(output); m != "" {
			candidate = m
		}
		var v any
		passed = json.Unmarshal([]byte(candidate), &v) == nil
		return boolScore(passed), matchNotes(passed, "valid JSON"), passed

	case ValidationRegex:
		pattern, _ := test.Expected.(string)
		re, err := regexp.Compile(pattern)
		passed = err == nil && re.MatchString(output)
		return boolScore(passed), matchNotes(passed, "regex match"), passed

	case ValidationToolCall:
		return in.validateToolCall(test, resp.ToolCalls)

	case ValidationEvaluator:
		return in.evaluateWithInterviewer(ctx, test, output, resp.ToolCalls)

	default:
		return 0.5, "unknown validation type", true
	}
}

func (in *Interviewer) validateToolCall(test TestCase, calls []ToolCallMade) (float64, string, bool) {
	if len(calls) == 0 {
		return 0, "no tool call made", false
	}
	expected, ok := test.Expected.(map[string]any)
	if !ok {
		return 0.5, "tool called but validation unclear", true
	}
	expectedName, _ := expected["name"].(string)
	expectedArgs, _ := expected["args_contain"].(map[string]any)

	var called []string
	for _, c := range calls {
		called = append(called, c.Name)
		if c.Name != expectedName {
			continue
		}
		argsMatch := true
		for k, v := range expectedArgs {
			actual := fmt.Sprintf("%v", c.Arguments[k])
			if !strings.Contains(strings.ToLower(actual), strings.ToLower(fmt.Sprintf("%v", v))) {
				argsMatch = false
				break
			}
		}
		if argsMatch {
			return 1.0, fmt.Sprintf("correct tool call: %s", expectedName), true
		}
		return 0.5, "correct tool but missing/wrong arguments", false
	}
	return 0.2, fmt.Sprintf("wrong tool(s): %v, expected %s", called, expectedName), false
}

// evaluateWithInterviewer uses the interviewer model to judge a subjective
// response, mirroring nanobot's EVALUATOR validation path.
func (in *Interviewer) evaluateWithInterviewer(ctx context.Context, test TestCase, output string, calls []ToolCallMade) (float64, string, bool) {
	prompt := fmt.Sprintf(`You are evaluating an AI model's response to a test.

TEST: %s
PROMPT: %s
EXPECTED BEHAVIOR: %s

MODEL'S RESPONSE:
%s

Evaluate whether the response meets the expected behavior. Respond with JSON only:
{"score": <float 0.0-1.0>, "passed": <true/false>, "notes": "<brief notes>"}`,
		test.Name, test.Prompt, test.ExpectedBehavior, truncate(output, 2000))

	resp, err := in.provider.Complete(ctx, CompletionRequest{
		Model: in.interviewerModel, Messages: []Message{{Role: "user", Content: prompt}},
		MaxTokens: 500, Temperature: 0.3,
	})
	if err != nil {
		return 0.5, fmt.Sprintf("evaluation error: %v", err), true
	}

	m := jsonObjectPattern.FindString(resp.Content)
	if m == "" {
		return fallbackEvaluatorScore(resp.Content)
	}
	var parsed struct {
		Score  float64 `json:"score"`
		Passed *bool   `json:"passed"`
		Notes  string  `json:"notes"`
	}
	if err := json.Unmarshal([]byte(m), &parsed); err != nil {
		return fallbackEvaluatorScore(resp.Content)
	}
	passed := parsed.Score >= 0.6
	if parsed.Passed != nil {
		passed = *parsed.Passed
	}
	return parsed.Score, parsed.Notes, passed
}

func fallbackEvaluatorScore(content string) (float64, string, bool) {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "pass"):
		return 0.8, "evaluation indicates pass", true
	case strings.Contains(lower, "fail"):
		return 0.3, "evaluation indicates fail", false
	default:
		return 0.5, "could not parse evaluation", true
	}
}

// synthesize folds per-category weighted averages and a fallback
// strengths/weaknesses summary into a Profile. An LLM-driven qualitative
// synthesis pass (as nanobot performs) is intentionally left to the
// caller's swarm/agent-loop layer rather than hardcoded here, since this
// package has no dependency on the broader agent loop's prompt templates.
func (in *Interviewer) synthesize(ctx context.Context, modelID string, tests []TestCase, results []TestResult) *Profile {
	byID := make(map[string]TestCase, len(tests))
	for _, t := range tests {
		byID[t.ID] = t
	}

	sums := make(map[Category]float64)
	weights := make(map[Category]float64)
	for _, r := range results {
		t, ok := byID[r.TestID]
		if !ok {
			continue
		}
		sums[t.Category] += r.Score * t.Weight
		weights[t.Category] += t.Weight
	}
	avg := func(cat Category, fallback float64) float64 {
		w := weights[cat]
		if w == 0 {
			return fallback
		}
		return sums[cat] / w
	}

	caps := CapabilityScores{
		ToolCallingAccuracy:      avg(CategoryToolCalling, 0.5),
		InstructionFollowing:     avg(CategoryInstruction, 0.5),
		ContextUtilization:       avg(CategoryContext, 0.5),
		CodeGeneration:           avg(CategoryCode, 0.5),
		ReasoningDepth:           avg(CategoryReasoning, 0.5),
		HallucinationResistance: avg(CategoryHallucination, 0.5),
	}
	caps.StructuredOutput = caps.InstructionFollowing * 0.9
	caps.LongContextHandling = caps.ContextUtilization * 0.9

	strengths, weaknesses, optimal, avoid := fallbackSynthesis(caps)

	guardrails := determineGuardrails(caps, results)

	return &Profile{
		ModelID:          modelID,
		ProfileVersion:   ProfileVersion,
		InterviewedAt:    time.Now(),
		InterviewerModel: in.interviewerModel,
		Capabilities:     caps,
		Strengths:        strengths,
		Weaknesses:       weaknesses,
		OptimalTasks:     optimal,
		AvoidTasks:       avoid,
		Guardrails:       guardrails,
		InterviewNotes:   "profile synthesized from capability scores",
	}
}

func fallbackSynthesis(caps CapabilityScores) (strengths, weaknesses, optimal, avoid []string) {
	add := func(cond bool, s *[]string, vals ...string) {
		if cond {
			*s = append(*s, vals...)
		}
	}
	add(caps.ToolCallingAccuracy >= 0.8, &strengths, "reliable tool calling")
	add(caps.ToolCallingAccuracy >= 0.8, &optimal, "automated tasks")
	add(caps.ToolCallingAccuracy < 0.6, &weaknesses, "inconsistent tool calling")
	add(caps.ToolCallingAccuracy < 0.6, &avoid, "complex tool workflows")

	add(caps.InstructionFollowing >= 0.8, &strengths, "strong instruction following")
	add(caps.InstructionFollowing < 0.6, &weaknesses, "may deviate from instructions")

	add(caps.CodeGeneration >= 0.8, &strengths, "quality code generation")
	add(caps.CodeGeneration >= 0.8, &optimal, "coding", "implementation")
	add(caps.CodeGeneration < 0.6, &weaknesses, "code quality issues")
	add(caps.CodeGeneration < 0.6, &avoid, "complex coding")

	add(caps.ReasoningDepth >= 0.8, &strengths, "strong reasoning ability")
	add(caps.ReasoningDepth >= 0.8, &optimal, "analysis", "problem-solving")
	add(caps.ReasoningDepth < 0.6, &weaknesses, "limited reasoning depth")
	add(caps.ReasoningDepth < 0.6, &avoid, "complex analysis")

	add(caps.HallucinationResistance >= 0.8, &strengths, "factual accuracy")
	add(caps.HallucinationResistance >= 0.8, &optimal, "research")
	add(caps.HallucinationResistance < 0.6, &weaknesses, "prone to hallucination")
	add(caps.HallucinationResistance < 0.6, &avoid, "fact-critical tasks")

	return strengths, weaknesses, optimal, avoid
}

func determineGuardrails(caps CapabilityScores, results []TestResult) GuardrailRecommendations {
	var toolFailures, formatFailures int
	for _, r := range results {
		if strings.Contains(r.TestID, "tool") && !r.Passed {
			toolFailures++
		}
		if strings.Contains(r.TestID, "format") && !r.Passed {
			formatFailures++
		}
	}

	maxContext := 64000
	if caps.LongContextHandling >= 0.7 {
		maxContext = 128000
	}
	temp := 0.7
	if caps.HallucinationResistance < 0.7 {
		temp = 0.5
	}
	retryLimit := 3
	if caps.ToolCallingAccuracy < 0.7 {
		retryLimit = 2
	}

	return GuardrailRecommendations{
		NeedsStructuredOutput:  caps.StructuredOutput < 0.7 || formatFailures > 0,
		NeedsExplicitFormat:    caps.InstructionFollowing < 0.8,
		NeedsToolExamples:      caps.ToolCallingAccuracy < 0.8 || toolFailures > 1,
		MaxReliableContext:     maxContext,
		RecommendedTemperature: temp,
		ToolCallRetryLimit:     retryLimit,
		NeedsStepByStep:        caps.ReasoningDepth < 0.7,
		AvoidParallelTools:     caps.ToolCallingAccuracy < 0.6,
	}
}

func boolScore(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func matchNotes(passed bool, label string) string {
	if passed {
		return label
	}
	return "no match"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
