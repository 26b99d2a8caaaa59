package evolution

import (
	"context"
	"testing"
	"time"

	"github.com/nodeweave/conduit/internal/memory"
)

func newTestStore(t *testing.T) *memory.FileStore {
	t.Helper()
	fs, err := memory.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	return fs
}

func TestPromotionBoostsFrequentlyAccessedEntries(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddToDaily("content worth remembering", time.Now()); err != nil {
		t.Fatalf("add to daily: %v", err)
	}
	entries, err := store.GetAllEntries()
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected an entry, err=%v", err)
	}
	id := entries[0].ID

	for i := 0; i < 3; i++ {
		if err := store.RecordAccess(id); err != nil {
			t.Fatalf("record access: %v", err)
		}
	}

	engine := New(store, nil, DefaultConfig(), nil)
	report, err := engine.Evolve(context.Background(), EvolveOptions{AutoPromote: true})
	if err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if len(report.Promoted) != 1 || report.Promoted[0] != id {
		t.Fatalf("expected entry %q to be promoted, got %+v", id, report.Promoted)
	}

	evo := store.GetEvolutionData(id)
	if evo.PromotionScore <= 0 {
		t.Fatalf("expected positive promotion score after promotion, got %v", evo.PromotionScore)
	}
}

func TestDecayReducesUnusedEntries(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddToDaily("stale content", time.Now()); err != nil {
		t.Fatalf("add to daily: %v", err)
	}
	entries, _ := store.GetAllEntries()
	id := entries[0].ID

	cfg := DefaultConfig()
	cfg.DecayInactive = 0 // treat everything as eligible for decay immediately

	engine := New(store, nil, cfg, nil)
	report, err := engine.Evolve(context.Background(), EvolveOptions{AutoDecay: true})
	if err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if len(report.Decayed) != 1 || report.Decayed[0] != id {
		t.Fatalf("expected entry to decay, got %+v", report.Decayed)
	}
}

func TestDryRunMakesNoChanges(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddToDaily("content", time.Now()); err != nil {
		t.Fatalf("add to daily: %v", err)
	}
	entries, _ := store.GetAllEntries()
	id := entries[0].ID
	for i := 0; i < 3; i++ {
		_ = store.RecordAccess(id)
	}

	engine := New(store, nil, DefaultConfig(), nil)
	report, err := engine.Evolve(context.Background(), EvolveOptions{AutoPromote: true, DryRun: true})
	if err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if len(report.Promoted) != 1 {
		t.Fatalf("expected dry run to still report promotions, got %+v", report.Promoted)
	}
	if store.GetEvolutionData(id).PromotionScore != 0 {
		t.Fatal("expected dry run to make no actual changes")
	}
}

func TestCrossReferenceByTagOverlap(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddToDaily("## notes\n\nplanning the #launch with #marketing team", time.Now()); err != nil {
		t.Fatalf("add to daily: %v", err)
	}
	if err := store.AddToDaily("## notes\n\nfollow-up on #launch and #marketing budget", time.Now()); err != nil {
		t.Fatalf("add to daily: %v", err)
	}

	engine := New(store, nil, DefaultConfig(), nil)
	refs, err := engine.Evolve(context.Background(), EvolveOptions{})
	if err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if refs.CrossRefsAdded == 0 {
		t.Fatal("expected at least one cross-reference from shared tags")
	}
}

func TestPromoteMemoryManual(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddToDaily("content", time.Now()); err != nil {
		t.Fatalf("add to daily: %v", err)
	}
	entries, _ := store.GetAllEntries()
	id := entries[0].ID

	engine := New(store, nil, DefaultConfig(), nil)
	ok, err := engine.PromoteMemory(id)
	if err != nil {
		t.Fatalf("promote memory: %v", err)
	}
	if !ok {
		t.Fatal("expected manual promotion to succeed")
	}
	if store.GetEvolutionData(id).PromotionScore <= 0 {
		t.Fatal("expected promotion score to increase")
	}
}
