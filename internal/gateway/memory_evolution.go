package gateway

import (
	"context"
	"time"

	"github.com/nodeweave/conduit/internal/memory"
	"github.com/nodeweave/conduit/internal/memory/evolution"
)

// startMemoryEvolution launches the background worker that runs the
// file-backed memory store's promotion/decay/archival cycle, mirroring
// startMemoryConsolidation's ticker shape for the sibling vector-memory worker.
func (s *Server) startMemoryEvolution(ctx context.Context) {
	if s == nil || s.config == nil {
		return
	}
	cfg := s.config.VectorMemory.Evolution
	if !cfg.Enabled {
		return
	}

	workspaceDir := s.config.Workspace.Path
	if workspaceDir == "" {
		workspaceDir = "."
	}
	store, err := memory.NewFileStore(workspaceDir)
	if err != nil {
		s.logger.Warn("memory evolution disabled (file store init failed)", "error", err)
		return
	}
	s.memoryEvolution = evolution.New(store, nil, evolution.DefaultConfig(), s.logger)

	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.runMemoryEvolution(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runMemoryEvolution(ctx)
			}
		}
	}()
}

func (s *Server) runMemoryEvolution(ctx context.Context) {
	if s.memoryEvolution == nil {
		return
	}
	report, err := s.memoryEvolution.Evolve(ctx, evolution.DefaultEvolveOptions())
	if err != nil {
		s.logger.Warn("memory evolution cycle failed", "error", err)
		return
	}
	s.logger.Info("memory evolution cycle complete",
		"promoted", len(report.Promoted),
		"decayed", len(report.Decayed),
		"archived", len(report.Archived),
		"consolidated", report.Consolidated,
		"cross_refs_added", report.CrossRefsAdded,
		"duration", report.Duration,
	)
}
