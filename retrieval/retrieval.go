// Package retrieval runs per-lane vector search, router-scoped filtering
// with top-up, MMR diversification (fast lane), and per-document capping
// (spec.md §4.7), generalizing the teacher's retrieval/retrieval.go
// concurrent multi-source Engine to a two-lane single-source engine.
package retrieval

import (
	"context"
	"fmt"

	"github.com/lichen-labs/ragcore/embed"
	"github.com/lichen-labs/ragcore/fusion"
	"github.com/lichen-labs/ragcore/vectorindex"
)

// maxPerDocument caps how many chunks from the same protocol survive
// diversification (spec.md §4.7's "per-document diversity cap").
const maxPerDocument = 2

// speedCandidateMultiplier and defaultAccurateCandidatePool implement
// spec.md §4.7 step 2's oversized candidate pool: the index is searched
// for k_retrieve candidates (top_k x 4 for the fast/MMR lane, a flat 50
// for the accurate/rerank lane) and only narrowed to top_k after
// MMR/rerank run.
const (
	speedCandidateMultiplier     = 4
	defaultAccurateCandidatePool = 50
)

// Lane binds one retrieval lane's embedder to its vector index.
type Lane struct {
	Name     string
	Embedder embed.Backend
	Index    *vectorindex.Index
}

// Options configures one Search call.
type Options struct {
	TopK          int
	ScopeProtocol []string // router-selected candidates; empty = unscoped
	MMR           bool     // diversify with Maximal Marginal Relevance (fast lane)
	MMRLambda     float64  // relevance/diversity tradeoff, default 0.4
	Rerank        Reranker // optional cross-encoder rerank (accurate lane)
}

// Reranker re-scores a query against a batch of candidate texts.
// Implementations call out to a cross-encoder model.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Trace records what a Search call did, for observability (spec.md §6).
type Trace struct {
	ScopedResults    int
	ToppedUp         int
	MMRApplied       bool
	RerankApplied    bool
	DiversityDropped int
}

// Search embeds the query, searches the lane's index scoped to the
// router's candidate protocols, tops up from the full index if the scope
// underfills the candidate pool, then applies MMR or rerank and a
// per-document cap. Without a scope, the full-index results are the
// lane's own results, not a top-up.
func Search(ctx context.Context, lane Lane, query string, opts Options) ([]fusion.Item, Trace, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.MMRLambda == 0 {
		opts.MMRLambda = 0.4
	}

	qVec, err := lane.Embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, Trace{}, fmt.Errorf("retrieval: embedding query: %w", err)
	}

	// k_retrieve: the oversized candidate pool spec.md §4.7 step 2 requires
	// MMR/rerank to run over, narrowed to TopK only after they run.
	kRetrieve := opts.TopK
	switch {
	case opts.MMR:
		kRetrieve = opts.TopK * speedCandidateMultiplier
	case opts.Rerank != nil:
		kRetrieve = defaultAccurateCandidatePool
		if kRetrieve < opts.TopK {
			kRetrieve = opts.TopK
		}
	}

	var trace Trace
	var items []fusion.Item

	if len(opts.ScopeProtocol) > 0 {
		for _, pid := range opts.ScopeProtocol {
			results, err := lane.Index.Search(ctx, qVec, kRetrieve, vectorindex.Filters{ProtocolID: pid})
			if err != nil {
				return nil, trace, fmt.Errorf("retrieval: scoped search: %w", err)
			}
			for _, r := range results {
				items = append(items, fusion.Item{ChunkID: r.Metadata.ChunkID, Result: r, Source: lane.Name})
			}
		}
		trace.ScopedResults = len(items)
	}

	if len(items) < kRetrieve {
		need := kRetrieve - len(items)
		seen := toSeenSet(items)
		source := "topup"
		if len(opts.ScopeProtocol) == 0 {
			source = lane.Name
		}
		results, err := lane.Index.Search(ctx, qVec, kRetrieve+need, vectorindex.Filters{})
		if err != nil {
			return nil, trace, fmt.Errorf("retrieval: top-up search: %w", err)
		}
		for _, r := range results {
			if seen[r.Metadata.ChunkID] {
				continue
			}
			items = append(items, fusion.Item{ChunkID: r.Metadata.ChunkID, Result: r, Source: source})
			if source == "topup" {
				trace.ToppedUp++
			}
			if len(items) >= kRetrieve*2 {
				break
			}
		}
	}

	if opts.MMR {
		items = mmr(qVec, items, opts.MMRLambda, opts.TopK)
		trace.MMRApplied = true
	} else if opts.Rerank != nil {
		texts := make([]string, len(items))
		for i, it := range items {
			texts[i] = it.Result.Metadata.Text
		}
		scores, err := opts.Rerank.Rerank(ctx, query, texts)
		if err != nil {
			return nil, trace, fmt.Errorf("retrieval: rerank: %w", err)
		}
		items = applyRerankScores(items, scores)
		trace.RerankApplied = true
	}

	items, dropped := capPerDocument(items, maxPerDocument)
	trace.DiversityDropped = dropped

	if len(items) > opts.TopK {
		items = items[:opts.TopK]
	}
	return items, trace, nil
}

func toSeenSet(items []fusion.Item) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it.ChunkID] = true
	}
	return m
}

// capPerDocument enforces the per-protocol diversity cap, preserving the
// incoming (already-ranked) order among kept items.
func capPerDocument(items []fusion.Item, cap int) ([]fusion.Item, int) {
	counts := make(map[string]int)
	out := make([]fusion.Item, 0, len(items))
	dropped := 0
	for _, it := range items {
		pid := it.Result.Metadata.ProtocolID
		if counts[pid] >= cap {
			dropped++
			continue
		}
		counts[pid]++
		out = append(out, it)
	}
	return out, dropped
}
