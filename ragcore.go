// Package ragcore is the retrieval core described by spec.md: a
// dual-lane (speed/accuracy) RAG pipeline over a protocol corpus, with
// deterministic grounding and refusal guardrails in place of free-form
// generation.
package ragcore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lichen-labs/ragcore/catalog"
	"github.com/lichen-labs/ragcore/doc"
	"github.com/lichen-labs/ragcore/embed"
	"github.com/lichen-labs/ragcore/fusion"
	"github.com/lichen-labs/ragcore/grounding"
	"github.com/lichen-labs/ragcore/ingest"
	"github.com/lichen-labs/ragcore/obs"
	"github.com/lichen-labs/ragcore/retrieval"
	"github.com/lichen-labs/ragcore/router"
	"github.com/lichen-labs/ragcore/vectorindex"
)

// SearchResult is one element of a Query/HybridQuery response.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	ProtocolID string  `json:"protocol_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Source     string  `json:"source"`
}

// RAGResponse is the top-level payload of a hybrid query (spec.md §4.10).
type RAGResponse struct {
	Text                string               `json:"text"`
	Citations           []grounding.Citation `json:"citations"`
	Lane                string               `json:"lane"`
	Disabled            bool                 `json:"disabled,omitempty"`
	Refusal             bool                 `json:"refusal,omitempty"`
	Fallback            string               `json:"meta_fallback,omitempty"`
	GroundingScore      float64              `json:"meta_grounding_score"`
	GroundingScore1to5  int                  `json:"meta_grounding_score_1to5"`
	StonesAlignment     float64              `json:"meta_stones_alignment"`
	InsufficientSupport bool                 `json:"meta_insufficient_support"`
	UsedDocIDs          []string             `json:"meta_used_doc_ids"`
	TopK                int                  `json:"meta_top_k"`
}

// Core wires embedders, indices, the protocol catalog, the observability
// logger, and config together explicitly (spec.md §9's resolution of the
// source's global-singleton wiring into plain dependency injection, in
// the shape of the teacher's engine struct + New()).
type Core struct {
	cfg Config

	speedEmbedder    embed.Backend
	accurateEmbedder embed.Backend
	speedIndex       *vectorindex.Index
	accurateIndex    *vectorindex.Index
	catalog          catalog.Catalog
	logger           *obs.Logger
	synonyms         []router.StoneSynonym
	speedReranker    retrieval.Reranker
	accurateReranker retrieval.Reranker
}

// New builds a Core from explicit dependencies. Callers construct the
// embedders/indices themselves (see cmd/ragcored for a worked wiring
// example) rather than Core reaching into global state.
func New(cfg Config, speedEmbedder, accurateEmbedder embed.Backend, speedIndex, accurateIndex *vectorindex.Index, cat catalog.Catalog) *Core {
	return &Core{
		cfg:              cfg,
		speedEmbedder:    speedEmbedder,
		accurateEmbedder: accurateEmbedder,
		speedIndex:       speedIndex,
		accurateIndex:    accurateIndex,
		catalog:          cat,
		logger:           obs.New(obs.Config(cfg.Obs)),
		synonyms:         router.DefaultStoneSynonyms(),
	}
}

// WithRerankers attaches cross-encoder rerankers to the two lanes
// (optional; a nil reranker leaves the lane's results rank-ordered by
// similarity only).
func (c *Core) WithRerankers(speed, accurate retrieval.Reranker) *Core {
	c.speedReranker = speed
	c.accurateReranker = accurate
	return c
}

// Ingest runs the dual-lane ingest pipeline over paths (spec.md §6's
// "process" interface).
func (c *Core) Ingest(ctx context.Context, paths []string, profileName string, sidebarOverrides map[string]any) []ingest.Result {
	profile := ingest.SpeedProfile()
	if profileName == "accuracy" {
		profile = ingest.AccuracyProfile()
	}
	if sidebarOverrides != nil {
		profile = profile.Override(sidebarOverrides)
	}

	pipeline := ingest.Pipeline{
		Lanes: map[string]ingest.Lane{
			profile.Name: {Profile: profile, Backend: c.laneEmbedder(profile.Name), Index: c.laneIndex(profile.Name)},
		},
	}
	return pipeline.IngestPaths(ctx, paths)
}

// Query performs a single-lane search (spec.md §6's "search" interface).
func (c *Core) Query(ctx context.Context, query string, k int, lane string, useRouter bool) ([]SearchResult, error) {
	if !c.cfg.Enabled {
		return nil, ErrDisabled
	}
	if lane == "" {
		lane = c.cfg.DefaultProfile
	}

	var scope []string
	if useRouter {
		decision, err := c.route(ctx, query)
		if err == nil {
			for _, cand := range decision.Candidates {
				scope = append(scope, cand.ProtocolID)
			}
		}
	}

	items, _, err := retrieval.Search(ctx, c.lane(lane), query, retrieval.Options{
		TopK:          k,
		ScopeProtocol: scope,
		MMR:           lane == "speed",
		Rerank:        c.laneRerank(lane),
	})
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, len(items))
	for i, it := range items {
		out[i] = SearchResult{
			ChunkID:    it.ChunkID,
			ProtocolID: it.Result.Metadata.ProtocolID,
			Text:       it.Result.Metadata.Text,
			Score:      it.Result.Score,
			Source:     it.Source,
		}
	}
	return out, nil
}

// laneResult is one lane's search outcome, carried back from a
// searchLanes goroutine.
type laneResult struct {
	items []fusion.Item
	err   error
}

// HybridQuery runs both lanes concurrently, fuses their result sets, and
// applies grounding and the escalation policy (spec.md §4.7's "fusion
// runs the two lanes concurrently", §4.8 Fusion, §4.9 Escalation, §4.10
// Grounding, and the §6 "hybrid_search" interface). userIntent is the
// caller-declared risk signal of spec.md §4.9 (e.g. "decision"); pass ""
// when the caller has none.
func (c *Core) HybridQuery(ctx context.Context, query string, k int, useRRF bool, filters vectorindex.Filters, userIntent string) (RAGResponse, error) {
	requestID, warmup := c.logger.NewRequestID()

	if !c.cfg.Enabled {
		c.logger.Log(obs.Event{RequestID: requestID, Query: query, Flags: obs.Flags{RAGEnabled: false, Warmup: warmup}})
		return RAGResponse{Disabled: true}, nil
	}

	decision, routeErr := c.route(ctx, query)
	var scope []string
	if routeErr == nil {
		for _, cand := range decision.Candidates {
			scope = append(scope, cand.ProtocolID)
		}
	}
	if filters.ProtocolID != "" {
		scope = append(scope, filters.ProtocolID)
	}
	expectedStones := c.scopeStones(decision)

	lanes := c.activeLanes()
	results := c.searchLanes(ctx, query, k, scope, lanes)
	for _, lane := range lanes {
		if results[lane].err != nil {
			return RAGResponse{}, fmt.Errorf("ragcore: lane search: %w", results[lane].err)
		}
	}

	primaryLane := lanes[0]
	resp := buildResponse(c.fuse(results["speed"].items, results["accurate"].items, useRRF, k), expectedStones, primaryLane, k)

	if c.shouldEscalate(resp, primaryLane, query, userIntent) {
		slog.Debug("ragcore: escalating to accurate lane", "reason", resp.Fallback)
		accItems := results["accurate"].items
		if accItems == nil {
			single := c.searchLanes(ctx, query, k, scope, []string{"accurate"})
			if single["accurate"].err == nil {
				accItems = single["accurate"].items
			}
		}
		if accItems != nil {
			resp = buildResponse(c.fuse(nil, accItems, useRRF, k), expectedStones, "accurate", k)
		}
	}

	c.logger.Log(obs.Event{
		RequestID:      requestID,
		Lane:           resp.Lane,
		TopK:           resp.TopK,
		GroundingScore: &resp.GroundingScore,
		Citations:      toObsCitations(resp.Citations),
		Query:          query,
		Flags:          obs.Flags{RAGEnabled: true, Warmup: warmup, Fallback: resp.Fallback, Refusal: resp.Fallback},
	})
	return resp, nil
}

// activeLanes reports which lanes HybridQuery searches: both, unless a
// lane is forced (spec.md §4.9: "a forced lane disables escalation
// entirely", which also means only that lane is ever searched).
func (c *Core) activeLanes() []string {
	switch c.cfg.ForceLane {
	case "accurate":
		return []string{"accurate"}
	case "speed":
		return []string{"speed"}
	default:
		return []string{"speed", "accurate"}
	}
}

// searchLanes runs retrieval.Search for each named lane concurrently,
// following the teacher's ingest.go bounded worker-pool shape (unbounded
// here since at most two lanes run at once).
func (c *Core) searchLanes(ctx context.Context, query string, k int, scope []string, lanes []string) map[string]laneResult {
	out := make(map[string]laneResult, len(lanes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, lane := range lanes {
		wg.Add(1)
		go func(lane string) {
			defer wg.Done()
			items, _, err := retrieval.Search(ctx, c.lane(lane), query, retrieval.Options{
				TopK:          k,
				ScopeProtocol: scope,
				MMR:           lane == "speed",
				Rerank:        c.laneRerank(lane),
			})
			mu.Lock()
			out[lane] = laneResult{items: items, err: err}
			mu.Unlock()
		}(lane)
	}

	wg.Wait()
	return out
}

// fuse combines the two lanes' item sets into one ranked Fused list. A
// nil lane contributes nothing; both fusion.RRF and fusion.WeightedBlend
// tolerate an empty/nil input list.
func (c *Core) fuse(speed, accurate []fusion.Item, useRRF bool, k int) []fusion.Fused {
	if useRRF {
		return fusion.RRF(speed, accurate, k)
	}
	weightSpeed, weightAccurate := fusion.DefaultWeights()
	return fusion.WeightedBlend(speed, accurate, weightSpeed, weightAccurate, k)
}

// buildResponse grounds a fused result list into the response payload
// (spec.md §4.10).
func buildResponse(fused []fusion.Fused, expectedStones []string, lane string, k int) RAGResponse {
	answer, citations := grounding.BuildExtract(fused)
	result := grounding.Evaluate(answer, citations, expectedStones, grounding.DefaultThresholds())

	usedDocIDs := make([]string, 0, len(fused))
	for _, f := range fused {
		usedDocIDs = append(usedDocIDs, f.Result.Metadata.ProtocolID)
	}

	return RAGResponse{
		Text:                result.Text,
		Citations:           result.Citations,
		Lane:                lane,
		Refusal:             result.Refusal,
		Fallback:            result.FallbackReason,
		GroundingScore:      result.GroundingNormalized,
		GroundingScore1to5:  result.GroundingScore1to5,
		StonesAlignment:     result.StonesAlignment,
		InsufficientSupport: result.InsufficientSupport,
		UsedDocIDs:          usedDocIDs,
		TopK:                k,
	}
}

// shouldEscalate implements spec.md §4.9's four escalation conditions. It
// never fires twice (HybridQuery only ever derives the accurate-lane
// response once per call), satisfying the "MUST NOT be recursive"
// requirement.
func (c *Core) shouldEscalate(resp RAGResponse, lane, query, userIntent string) bool {
	if c.cfg.DisableEscalation || c.cfg.ForceLane != "" || lane != "speed" {
		return false
	}
	if resp.GroundingScore < c.cfg.GroundingThreshold {
		return true
	}
	if len(resp.Citations) == 0 {
		return true
	}
	if c.queryComplexity(query) > c.cfg.ComplexityThreshold {
		return true
	}
	return isHighRiskIntent(userIntent)
}

// queryComplexity is a deterministic proxy for spec.md §4.9's "query
// complexity": the router's own keyword-signal count (spec.md §4.6),
// normalised to [0,1] against a 10-keyword ceiling.
func (c *Core) queryComplexity(query string) float64 {
	pq := router.ParseQuery(query, c.synonyms)
	complexity := float64(len(pq.Keywords)) / 10.0
	if complexity > 1 {
		complexity = 1
	}
	return complexity
}

// isHighRiskIntent reports whether userIntent is one of spec.md §4.9's
// caller-declared high-risk kinds.
func isHighRiskIntent(userIntent string) bool {
	switch userIntent {
	case "decision", "high_risk", "high-risk":
		return true
	default:
		return false
	}
}

func (c *Core) route(ctx context.Context, query string) (router.Decision, error) {
	if len(c.catalog.Entries) == 0 {
		return router.Decision{}, ErrRouterUnavailable
	}
	if c.speedEmbedder == nil {
		return router.RouteTFIDF(query, c.catalog, c.synonyms), nil
	}
	decision, err := router.RouteEmbedding(ctx, query, c.catalog, c.speedEmbedder, c.synonyms, router.DefaultWeights())
	if err != nil {
		slog.Warn("ragcore: embedding router failed, falling back to TF-IDF", "error", err)
		return router.RouteTFIDF(query, c.catalog, c.synonyms), nil
	}
	return decision, nil
}

// scopeStones collects the stone slugs of every catalog entry the router
// selected, for grounding.StonesAlignment.
func (c *Core) scopeStones(decision router.Decision) []string {
	byID := make(map[string]catalog.Entry, len(c.catalog.Entries))
	for _, e := range c.catalog.Entries {
		byID[e.ProtocolID] = e
	}

	var stones []string
	for _, cand := range decision.Candidates {
		if e, ok := byID[cand.ProtocolID]; ok {
			stones = append(stones, e.Stones...)
		}
	}
	return stones
}

func (c *Core) lane(name string) retrieval.Lane {
	return retrieval.Lane{Name: name, Embedder: c.laneEmbedder(name), Index: c.laneIndex(name)}
}

func (c *Core) laneEmbedder(name string) embed.Backend {
	if name == "accurate" || name == "accuracy" {
		return c.accurateEmbedder
	}
	return c.speedEmbedder
}

func (c *Core) laneIndex(name string) *vectorindex.Index {
	if name == "accurate" || name == "accuracy" {
		return c.accurateIndex
	}
	return c.speedIndex
}

func (c *Core) laneRerank(name string) retrieval.Reranker {
	if name == "accurate" || name == "accuracy" {
		return c.accurateReranker
	}
	return c.speedReranker
}

func toObsCitations(cs []grounding.Citation) []obs.Citation {
	out := make([]obs.Citation, len(cs))
	for i, c := range cs {
		out[i] = obs.Citation{SourceID: c.SourceID, SpanStart: c.SpanStart, SpanEnd: c.SpanEnd}
	}
	return out
}

// ParseAndDeriveID parses a protocol file and derives its stable
// protocol_id, exposed at the root so callers don't need to import doc
// directly for the common case.
func ParseAndDeriveID(path string) (doc.Protocol, string, error) {
	p, err := doc.ParseFile(path)
	if err != nil {
		return doc.Protocol{}, "", err
	}
	result := doc.DeriveProtocolID(path, p)
	return p, result.ProtocolID, nil
}
