// Package evolution implements the self-organizing memory lifecycle:
// promotion of frequently accessed entries, decay of unused ones,
// archival of stale entries, and tag/vector cross-referencing.
package evolution

import (
	"context"
	"log/slog"
	"time"

	"github.com/nodeweave/conduit/internal/memory"
)

// Config tunes the evolution thresholds. Field names and defaults mirror
// the original implementation's class constants.
type Config struct {
	PromotionAccessThreshold int
	PromotionWindow          time.Duration
	PromotionBoost           float64

	DecayInactive time.Duration
	DecayAmount   float64

	ArchiveInactive      time.Duration
	ArchiveFastInactive  time.Duration
	ArchiveMinImportance float64

	ConsolidationThreshold float64
}

// DefaultConfig returns the thresholds used when no override is supplied.
func DefaultConfig() Config {
	return Config{
		PromotionAccessThreshold: 3,
		PromotionWindow:          7 * 24 * time.Hour,
		PromotionBoost:           0.1,
		DecayInactive:            30 * 24 * time.Hour,
		DecayAmount:              0.1,
		ArchiveInactive:          90 * 24 * time.Hour,
		ArchiveFastInactive:      30 * 24 * time.Hour,
		ArchiveMinImportance:     0.1,
		ConsolidationThreshold:   0.85,
	}
}

// Similarity is the narrow surface the consolidation/cross-reference
// passes need from a vector backend: find near-duplicate content.
type Similarity interface {
	FindSimilar(ctx context.Context, content string, k int, threshold float64) ([]memory.Entry, []float64, error)
}

// Report summarizes one evolution cycle's effects.
type Report struct {
	Timestamp      time.Time
	Promoted       []string
	Decayed        []string
	Archived       []string
	Consolidated   int
	CrossRefsAdded int
	Duration       time.Duration
}

// Engine runs the evolution cycle against a memory.FileStore, optionally
// consulting a Similarity backend for vector-based cross-referencing and
// consolidation.
type Engine struct {
	store      *memory.FileStore
	similarity Similarity
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Engine. similarity may be nil, in which case
// vector-based cross-referencing and consolidation are skipped.
func New(store *memory.FileStore, similarity Similarity, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PromotionAccessThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{store: store, similarity: similarity, cfg: cfg, logger: logger.With("component", "memory_evolution"), now: time.Now}
}

// EvolveOptions toggles which passes a cycle runs.
type EvolveOptions struct {
	DryRun          bool
	AutoPromote     bool
	AutoDecay       bool
	AutoArchive     bool
	AutoConsolidate bool
}

// DefaultEvolveOptions enables every pass, live (not dry-run).
func DefaultEvolveOptions() EvolveOptions {
	return EvolveOptions{AutoPromote: true, AutoDecay: true, AutoArchive: true, AutoConsolidate: true}
}

// Evolve runs one full evolution cycle and returns a report of its effects.
func (e *Engine) Evolve(ctx context.Context, opts EvolveOptions) (*Report, error) {
	start := e.now()
	report := &Report{Timestamp: start}

	if opts.AutoPromote {
		promoted, err := e.runPromotion(opts.DryRun)
		if err != nil {
			return nil, err
		}
		report.Promoted = promoted
		e.logger.Info("promotion pass complete", "count", len(promoted))
	}

	if opts.AutoDecay {
		decayed, err := e.runDecay(opts.DryRun)
		if err != nil {
			return nil, err
		}
		report.Decayed = decayed
		e.logger.Info("decay pass complete", "count", len(decayed))
	}

	if opts.AutoArchive {
		archived, err := e.runArchive(opts.DryRun)
		if err != nil {
			return nil, err
		}
		report.Archived = archived
		e.logger.Info("archive pass complete", "count", len(archived))
	}

	refs, err := e.runCrossReference(ctx, opts.DryRun)
	if err != nil {
		return nil, err
	}
	report.CrossRefsAdded = refs
	e.logger.Info("cross-reference pass complete", "count", refs)

	if opts.AutoConsolidate && e.similarity != nil {
		consolidated, err := e.runConsolidation(ctx, opts.DryRun)
		if err != nil {
			return nil, err
		}
		report.Consolidated = consolidated
		e.logger.Info("consolidation pass complete", "count", consolidated)
	}

	report.Duration = e.now().Sub(start)
	return report, nil
}

func (e *Engine) runPromotion(dryRun bool) ([]string, error) {
	entries, err := e.store.GetAllEntries()
	if err != nil {
		return nil, err
	}
	now := e.now()
	windowStart := now.Add(-e.cfg.PromotionWindow)

	var promoted []string
	for _, entry := range entries {
		evo := e.store.GetEvolutionData(entry.ID)
		if evo.Archived {
			continue
		}
		if evo.AccessCount < e.cfg.PromotionAccessThreshold {
			continue
		}
		if evo.LastAccessed.IsZero() || evo.LastAccessed.Before(windowStart) {
			continue
		}
		if !dryRun {
			boost := e.cfg.PromotionBoost
			if err := e.store.UpdateEvolutionData(entry.ID, func(d *memory_EvolutionData) {
				d.PromotionScore = minF(d.PromotionScore+boost, 1.0)
			}); err != nil {
				return nil, err
			}
		}
		promoted = append(promoted, entry.ID)
	}
	return promoted, nil
}

func (e *Engine) runDecay(dryRun bool) ([]string, error) {
	entries, err := e.store.GetAllEntries()
	if err != nil {
		return nil, err
	}
	now := e.now()
	cutoff := now.Add(-e.cfg.DecayInactive)

	var decayed []string
	for _, entry := range entries {
		evo := e.store.GetEvolutionData(entry.ID)
		if evo.Archived {
			continue
		}
		shouldDecay := false
		if !evo.LastAccessed.IsZero() {
			shouldDecay = evo.LastAccessed.Before(cutoff)
		} else {
			shouldDecay = entry.Timestamp.Before(cutoff)
		}
		if !shouldDecay {
			continue
		}
		if !dryRun {
			amount := e.cfg.DecayAmount
			if err := e.store.UpdateEvolutionData(entry.ID, func(d *memory_EvolutionData) {
				d.PromotionScore = maxF(d.PromotionScore-amount, -0.5)
			}); err != nil {
				return nil, err
			}
		}
		decayed = append(decayed, entry.ID)
	}
	return decayed, nil
}

func (e *Engine) runArchive(dryRun bool) ([]string, error) {
	entries, err := e.store.GetAllEntries()
	if err != nil {
		return nil, err
	}
	now := e.now()
	cutoff := now.Add(-e.cfg.ArchiveInactive)
	fastCutoff := now.Add(-e.cfg.ArchiveFastInactive)

	var archived []string
	for _, entry := range entries {
		evo := e.store.GetEvolutionData(entry.ID)
		if evo.Archived {
			continue
		}

		effective := entry.Importance + evo.PromotionScore
		threshold := cutoff
		if effective < e.cfg.ArchiveMinImportance {
			threshold = fastCutoff
		}

		shouldArchive := false
		if !evo.LastAccessed.IsZero() {
			shouldArchive = evo.LastAccessed.Before(threshold)
		} else {
			shouldArchive = entry.Timestamp.Before(threshold)
		}
		if !shouldArchive {
			continue
		}
		if !dryRun {
			if err := e.store.ArchiveEntry(entry.ID); err != nil {
				return nil, err
			}
		}
		archived = append(archived, entry.ID)
	}
	return archived, nil
}

func (e *Engine) runCrossReference(ctx context.Context, dryRun bool) (int, error) {
	entries, err := e.store.GetAllEntries()
	if err != nil {
		return 0, err
	}

	active := make([]memory.Entry, 0, len(entries))
	for _, entry := range entries {
		if !e.store.GetEvolutionData(entry.ID).Archived {
			active = append(active, entry)
		}
	}

	refsAdded := 0
	for i, entry := range active {
		if len(entry.Tags) == 0 {
			continue
		}
		entryTags := toSet(entry.Tags)
		evo := e.store.GetEvolutionData(entry.ID)
		existing := toSet(evo.CrossReferences)

		for _, other := range active[i+1:] {
			if existing[other.ID] || len(other.Tags) == 0 {
				continue
			}
			overlap := 0
			for t := range entryTags {
				if toSet(other.Tags)[t] {
					overlap++
				}
			}
			if overlap >= 2 {
				if !dryRun {
					if err := e.store.AddCrossReference(entry.ID, other.ID); err != nil {
						return refsAdded, err
					}
				}
				refsAdded++
			}
		}
	}

	if e.similarity != nil {
		limit := len(active)
		if limit > 50 {
			limit = 50
		}
		for _, entry := range active[:limit] {
			evo := e.store.GetEvolutionData(entry.ID)
			existing := toSet(evo.CrossReferences)
			similar, _, err := e.similarity.FindSimilar(ctx, entry.Content, 5, 0.7)
			if err != nil {
				continue
			}
			for _, sim := range similar {
				if sim.ID == entry.ID || existing[sim.ID] {
					continue
				}
				if !dryRun {
					if err := e.store.AddCrossReference(entry.ID, sim.ID); err != nil {
						return refsAdded, err
					}
				}
				refsAdded++
			}
		}
	}

	return refsAdded, nil
}

func (e *Engine) runConsolidation(ctx context.Context, dryRun bool) (int, error) {
	if e.similarity == nil {
		return 0, nil
	}

	entries, err := e.store.GetAllEntries()
	if err != nil {
		return 0, err
	}
	active := make([]memory.Entry, 0, len(entries))
	for _, entry := range entries {
		if !e.store.GetEvolutionData(entry.ID).Archived {
			active = append(active, entry)
		}
	}

	merged := make(map[string]bool)
	consolidated := 0

	for _, entry := range active {
		if merged[entry.ID] {
			continue
		}
		similar, _, err := e.similarity.FindSimilar(ctx, entry.Content, 3, e.cfg.ConsolidationThreshold)
		if err != nil {
			continue
		}
		for _, sim := range similar {
			if sim.ID == entry.ID || merged[sim.ID] {
				continue
			}
			keeper, loser := entry, sim
			if len(sim.Content) > len(entry.Content) {
				keeper, loser = sim, entry
			}
			if !dryRun {
				if err := e.store.ArchiveEntry(loser.ID); err != nil {
					return consolidated, err
				}
				if err := e.store.AddCrossReference(keeper.ID, loser.ID); err != nil {
					return consolidated, err
				}
				keeperEvo := e.store.GetEvolutionData(keeper.ID)
				loserEvo := e.store.GetEvolutionData(loser.ID)
				combined := keeperEvo.AccessCount + loserEvo.AccessCount
				if err := e.store.UpdateEvolutionData(keeper.ID, func(d *memory_EvolutionData) { d.AccessCount = combined }); err != nil {
					return consolidated, err
				}
			}
			merged[loser.ID] = true
			consolidated++
		}
	}
	return consolidated, nil
}

// PromoteMemory manually boosts entryID's promotion score (double the
// standard boost), refusing archived entries.
func (e *Engine) PromoteMemory(entryID string) (bool, error) {
	evo := e.store.GetEvolutionData(entryID)
	if evo.Archived {
		return false, nil
	}
	now := e.now()
	boost := e.cfg.PromotionBoost * 2
	if err := e.store.UpdateEvolutionData(entryID, func(d *memory_EvolutionData) {
		d.PromotionScore = minF(d.PromotionScore+boost, 1.0)
		d.LastAccessed = now
	}); err != nil {
		return false, err
	}
	return true, nil
}

// ArchiveExpired force-archives entries not accessed in the given window,
// overriding the configured ArchiveInactive for this one call.
func (e *Engine) ArchiveExpired(inactiveFor time.Duration) ([]string, error) {
	original := e.cfg.ArchiveInactive
	e.cfg.ArchiveInactive = inactiveFor
	defer func() { e.cfg.ArchiveInactive = original }()
	return e.runArchive(false)
}

// CrossReference finds and records related entries for a single entryID,
// combining tag overlap with vector similarity.
func (e *Engine) CrossReference(ctx context.Context, entryID string) ([]string, error) {
	entries, err := e.store.GetAllEntries()
	if err != nil {
		return nil, err
	}
	var target *memory.Entry
	for i := range entries {
		if entries[i].ID == entryID {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return nil, nil
	}

	evo := e.store.GetEvolutionData(entryID)
	existing := toSet(evo.CrossReferences)
	var related []string

	if len(target.Tags) > 0 {
		targetTags := toSet(target.Tags)
		for _, other := range entries {
			if other.ID == entryID || existing[other.ID] || len(other.Tags) == 0 {
				continue
			}
			overlap := 0
			for t := range targetTags {
				if toSet(other.Tags)[t] {
					overlap++
				}
			}
			if overlap >= 1 {
				if err := e.store.AddCrossReference(entryID, other.ID); err != nil {
					return related, err
				}
				related = append(related, other.ID)
			}
		}
	}

	if e.similarity != nil {
		similar, _, err := e.similarity.FindSimilar(ctx, target.Content, 5, 0.6)
		if err == nil {
			for _, sim := range similar {
				if sim.ID == entryID || existing[sim.ID] {
					continue
				}
				if err := e.store.AddCrossReference(entryID, sim.ID); err != nil {
					return related, err
				}
				related = append(related, sim.ID)
			}
		}
	}

	return related, nil
}

// Stats reports evolution-specific counters alongside the store's own stats.
type Stats struct {
	memory.FileStoreStats
	PromotedMemories int `json:"promoted_memories"`
	DecayedMemories  int `json:"decayed_memories"`
}

// GetStats summarizes the current promotion/decay distribution.
func (e *Engine) GetStats() (Stats, error) {
	storeStats, err := e.store.GetMemoryStats()
	if err != nil {
		return Stats{}, err
	}
	entries, err := e.store.GetAllEntries()
	if err != nil {
		return Stats{}, err
	}

	var promoted, decayed int
	for _, entry := range entries {
		evo := e.store.GetEvolutionData(entry.ID)
		switch {
		case evo.PromotionScore > 0.1:
			promoted++
		case evo.PromotionScore < -0.1:
			decayed++
		}
	}
	return Stats{FileStoreStats: storeStats, PromotedMemories: promoted, DecayedMemories: decayed}, nil
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// memory_EvolutionData aliases memory.EvolutionData to keep the mutator
// closures above readable without a repeated qualified name.
type memory_EvolutionData = memory.EvolutionData
