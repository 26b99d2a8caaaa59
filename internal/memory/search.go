package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nodeweave/conduit/pkg/models"
)

// HybridResult is one scored hit from HybridSearch.Search.
type HybridResult struct {
	Entry         Entry
	CombinedScore float64
	VectorScore   float64
	KeywordScore  float64
	RecencyScore  float64
}

// HybridSearch blends vector similarity, keyword overlap, and recency into
// a single ranking, per spec 4.G's default weights (vector 0.6, keyword
// 0.3, recency 0.1).
type HybridSearch struct {
	manager *Manager
	store   *FileStore

	vectorWeight  float64
	keywordWeight float64
	recencyWeight float64
}

// NewHybridSearch constructs a HybridSearch over manager (vector lookups)
// and store (keyword/recency lookups) using the default weights.
func NewHybridSearch(manager *Manager, store *FileStore) *HybridSearch {
	return &HybridSearch{manager: manager, store: store, vectorWeight: 0.6, keywordWeight: 0.3, recencyWeight: 0.1}
}

// WithWeights overrides the default weighting, capping vectorWeight at 0.9
// and re-deriving keywordWeight so the three always sum to 1.0, the same
// normalization nanobot's search_memories convenience function applies.
func (h *HybridSearch) WithWeights(vectorWeight float64) *HybridSearch {
	if vectorWeight > 0.9 {
		vectorWeight = 0.9
	}
	recencyWeight := 0.1
	keywordWeight := math.Max(0, 1.0-vectorWeight-recencyWeight)
	h.vectorWeight = vectorWeight
	h.keywordWeight = keywordWeight
	h.recencyWeight = recencyWeight
	return h
}

// Search returns the top k entries for query, scored by the weighted
// combination of vector similarity, keyword match, and recency.
func (h *HybridSearch) Search(ctx context.Context, query string, k int, recencyDays int) ([]HybridResult, error) {
	if k <= 0 {
		k = 10
	}
	if recencyDays <= 0 {
		recencyDays = 30
	}

	vectorScores := make(map[string]float64)
	allByID := make(map[string]Entry)

	if h.manager != nil {
		resp, err := h.manager.Search(ctx, &models.SearchRequest{Query: query, Limit: k * 2})
		if err == nil {
			for _, hit := range resp.Results {
				id := hit.Entry.ID
				vectorScores[id] = float64(hit.Score)
				allByID[id] = Entry{
					ID: id, Content: hit.Entry.Content, Source: "vector",
					Timestamp: hit.Entry.CreatedAt, Tags: hit.Entry.Metadata.Tags, Importance: 0.5,
				}
			}
		}
	}

	var keywordEntries []Entry
	if h.store != nil {
		entries, err := h.store.SearchByKeyword(query, k*2)
		if err != nil {
			return nil, err
		}
		keywordEntries = entries
	}
	keywordScores := calculateKeywordScores(query, keywordEntries)
	for _, e := range keywordEntries {
		allByID[e.ID] = e
	}

	ids := make(map[string]bool, len(allByID))
	for id := range vectorScores {
		ids[id] = true
	}
	for id := range keywordScores {
		ids[id] = true
	}

	now := time.Now()
	results := make([]HybridResult, 0, len(ids))
	for id := range ids {
		entry := allByID[id]
		v := vectorScores[id]
		kw := keywordScores[id]
		r := calculateRecencyScore(entry.Timestamp, now, recencyDays)
		combined := h.vectorWeight*v + h.keywordWeight*kw + h.recencyWeight*r
		results = append(results, HybridResult{Entry: entry, CombinedScore: combined, VectorScore: v, KeywordScore: kw, RecencyScore: r})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].CombinedScore > results[j].CombinedScore })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// calculateKeywordScores applies a simple TF-style score per entry, with a
// 1.5x boost for an exact phrase match, capped at 1.0.
func calculateKeywordScores(query string, entries []Entry) map[string]float64 {
	terms := uniqueWords(query)
	if len(terms) == 0 {
		return nil
	}
	queryLower := strings.ToLower(query)

	scores := make(map[string]float64, len(entries))
	for _, e := range entries {
		contentLower := strings.ToLower(e.Content)
		matches := 0
		for term := range terms {
			if strings.Contains(contentLower, term) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		tf := float64(matches) / float64(len(terms))
		if strings.Contains(contentLower, queryLower) {
			tf *= 1.5
		}
		if tf > 1.0 {
			tf = 1.0
		}
		scores[e.ID] = tf
	}
	return scores
}

func uniqueWords(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}

// calculateRecencyScore applies quadratic decay: 1.0 at age<=0, 0.0 at
// age>=maxDays, (1 - age/maxDays)^2 in between.
func calculateRecencyScore(timestamp, now time.Time, maxDays int) float64 {
	ageDays := now.Sub(timestamp).Hours() / 24
	if ageDays <= 0 {
		return 1.0
	}
	if ageDays >= float64(maxDays) {
		return 0.0
	}
	frac := 1.0 - ageDays/float64(maxDays)
	return frac * frac
}
