package modelprofile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// defaultMaxAge is how long an interview is trusted before IsStale flags it
// for re-interview on staleness grounds alone.
const defaultMaxAge = 30 * 24 * time.Hour

// Registry persists and serves model profiles, mirroring the JSON-file
// backed store nanobot's ModelRegistry uses, adapted to Go's sync.RWMutex
// registry idiom used throughout this codebase (see routing.Router).
type Registry struct {
	mu          sync.RWMutex
	storagePath string
	profiles    map[string]*Profile
	logger      *slog.Logger

	callsSinceFlush int
	flushEvery      int
}

// NewRegistry loads any profiles already persisted at storagePath.
func NewRegistry(storagePath string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		storagePath: storagePath,
		profiles:    make(map[string]*Profile),
		logger:      logger.With("component", "modelprofile_registry"),
		flushEvery:  100,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	if r.storagePath == "" {
		return nil
	}
	raw, err := os.ReadFile(r.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("modelprofile: read registry: %w", err)
	}
	var stored map[string]*Profile
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("modelprofile: parse registry: %w", err)
	}
	r.profiles = stored
	return nil
}

func (r *Registry) saveLocked() error {
	if r.storagePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.storagePath), 0o755); err != nil {
		return fmt.Errorf("modelprofile: mkdir: %w", err)
	}
	raw, err := json.MarshalIndent(r.profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("modelprofile: marshal registry: %w", err)
	}
	if err := os.WriteFile(r.storagePath, raw, 0o644); err != nil {
		return fmt.Errorf("modelprofile: write registry: %w", err)
	}
	return nil
}

// GetProfile returns the profile for modelID, or nil if not yet interviewed.
func (r *Registry) GetProfile(modelID string) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles[modelID]
}

// SaveProfile stores (or replaces) a profile and persists the registry.
func (r *Registry) SaveProfile(p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ModelID] = p
	return r.saveLocked()
}

// DeleteProfile removes a profile by model id.
func (r *Registry) DeleteProfile(modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[modelID]; !ok {
		return fmt.Errorf("modelprofile: no profile for %q", modelID)
	}
	delete(r.profiles, modelID)
	return r.saveLocked()
}

// ListProfiles returns all known model ids, sorted.
func (r *Registry) ListProfiles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetAllProfiles returns a snapshot of every profile.
func (r *Registry) GetAllProfiles() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// GetBestModelForTask returns the highest-OverallScore-among-suitable-models
// model id for task, or "" if none clear the threshold.
func (r *Registry) GetBestModelForTask(task Task, threshold float64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best string
	var bestScore float64 = -1
	weights, hasWeights := taskCapabilityMap[task]
	for id, p := range r.profiles {
		var score float64
		if hasWeights {
			score = p.Capabilities.WeightedAverage(weights)
		} else {
			score = p.OverallScore()
		}
		if score < threshold {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = id
		}
	}
	return best
}

// GetModelsByCapability returns model ids whose named capability axis is
// at or above minScore, best first.
func (r *Registry) GetModelsByCapability(capability string, minScore float64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	var matches []scored
	for id, p := range r.profiles {
		s := p.Capabilities.field(capability)
		if s >= minScore {
			matches = append(matches, scored{id, s})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.id
	}
	return out
}

// GetRoleRecommendations returns model ids suitable for role, best first.
func (r *Registry) GetRoleRecommendations(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	var matches []scored
	for id, p := range r.profiles {
		if s := p.RoleSuitability(role); s > 0 {
			matches = append(matches, scored{id, s})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.id
	}
	return out
}

// GetModelForRoleWithFallback returns the best match for role, falling back
// to the best match by the role's dominant weighted capability if nothing
// clears RoleSuitability's required-axis gate.
func (r *Registry) GetModelForRoleWithFallback(role Role) (string, bool) {
	recs := r.GetRoleRecommendations(role)
	if len(recs) > 0 {
		return recs[0], true
	}

	req, ok := roleCapabilityMap[role]
	if !ok {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best string
	var bestScore float64 = -1
	for id, p := range r.profiles {
		score := p.Capabilities.WeightedAverage(req.weights)
		if score > bestScore {
			bestScore = score
			best = id
		}
	}
	return best, best != ""
}

// NeedsReinterview reports whether modelID's profile is stale or missing.
func (r *Registry) NeedsReinterview(modelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[modelID]
	if !ok {
		return true
	}
	return p.IsStale(defaultMaxAge, time.Now())
}

// GetStaleProfiles returns every model id whose profile is stale, a batch
// companion to NeedsReinterview used by the periodic re-assessment sweep.
func (r *Registry) GetStaleProfiles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var stale []string
	for id, p := range r.profiles {
		if p.IsStale(defaultMaxAge, now) {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// UpdateRuntimeStats folds one call's outcome into modelID's runtime stats,
// flushing to disk every flushEvery updates rather than on every call.
func (r *Registry) UpdateRuntimeStats(modelID string, success bool, latencyMS float64, tokensUsed int64, toolCallOK *bool, errCategory string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[modelID]
	if !ok {
		return fmt.Errorf("modelprofile: no profile for %q", modelID)
	}
	p.RuntimeStats.RecordCall(success, latencyMS, tokensUsed, toolCallOK, errCategory)

	r.callsSinceFlush++
	if r.callsSinceFlush >= r.flushEvery {
		r.callsSinceFlush = 0
		return r.saveLocked()
	}
	return nil
}

// Flush forces a persist regardless of the write-through counter.
func (r *Registry) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

// Comparison is the result of CompareModels.
type Comparison struct {
	ModelID       string  `json:"model_id"`
	OverallScore  float64 `json:"overall_score"`
	SuccessRate   float64 `json:"success_rate"`
	ToolAccuracy  float64 `json:"tool_accuracy"`
}

// CompareModels returns a ranked comparison of the named models, best
// OverallScore first. Unknown model ids are skipped.
func (r *Registry) CompareModels(modelIDs []string) []Comparison {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Comparison
	for _, id := range modelIDs {
		p, ok := r.profiles[id]
		if !ok {
			continue
		}
		out = append(out, Comparison{
			ModelID:      id,
			OverallScore: p.OverallScore(),
			SuccessRate:  p.RuntimeStats.SuccessRate(),
			ToolAccuracy: p.RuntimeStats.ToolAccuracy(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OverallScore > out[j].OverallScore })
	return out
}

// FormatComparison renders CompareModels' result as a plain-text table for
// operator-facing CLI/log output.
func FormatComparison(cmp []Comparison) string {
	out := fmt.Sprintf("%-30s %10s %10s %10s\n", "model", "overall", "success", "tool_acc")
	for _, c := range cmp {
		out += fmt.Sprintf("%-30s %10.2f %10.2f %10.2f\n", c.ModelID, c.OverallScore, c.SuccessRate, c.ToolAccuracy)
	}
	return out
}

// FormatSummary renders a human-readable one-profile summary, mirroring
// nanobot's ModelProfile.format_summary.
func (p *Profile) FormatSummary() string {
	return fmt.Sprintf(
		"%s (v%s, interviewed %s)\n  overall=%.2f tool_calling=%.2f reasoning=%.2f code=%.2f\n  strengths=%v\n  weaknesses=%v\n  optimal_tasks=%v",
		p.ModelID, p.ProfileVersion, p.InterviewedAt.Format(time.RFC3339),
		p.OverallScore(), p.Capabilities.ToolCallingAccuracy, p.Capabilities.ReasoningDepth, p.Capabilities.CodeGeneration,
		p.Strengths, p.Weaknesses, p.OptimalTasks,
	)
}
