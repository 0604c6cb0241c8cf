package ragcore

import (
	"context"
	"testing"

	"github.com/lichen-labs/ragcore/catalog"
	"github.com/lichen-labs/ragcore/doc"
	"github.com/lichen-labs/ragcore/embed"
	"github.com/lichen-labs/ragcore/grounding"
	"github.com/lichen-labs/ragcore/vectorindex"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	dim := 16
	speedIdx, err := vectorindex.Open(t.TempDir()+"/speed.db", dim)
	if err != nil {
		t.Fatalf("vectorindex.Open speed: %v", err)
	}
	t.Cleanup(func() { speedIdx.Close() })
	accIdx, err := vectorindex.Open(t.TempDir()+"/accurate.db", dim)
	if err != nil {
		t.Fatalf("vectorindex.Open accurate: %v", err)
	}
	t.Cleanup(func() { accIdx.Close() })

	speedEmbedder := embed.NewFast(dim)
	accurateEmbedder := embed.NewFast(dim)

	p := doc.Protocol{
		Title:    "Pace And Stewardship",
		Metadata: doc.Metadata{Stones: []doc.Stone{doc.NewStoneSlug("stewardship")}},
	}
	cat, err := catalog.Build(context.Background(), []catalog.SourceProtocol{{ProtocolID: "pace", Protocol: p}}, speedEmbedder)
	if err != nil {
		t.Fatalf("catalog.Build: %v", err)
	}

	vec, err := speedEmbedder.EmbedOne(context.Background(), "stewardship and pace content")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if err := speedIdx.Add(context.Background(), []vectorindex.AddItem{{
		Metadata: vectorindex.ChunkMetadata{ChunkID: "pace::s0::c0", ProtocolID: "pace", Text: "stewardship means steady pace over time"},
		Vector:   vec,
	}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	cfg := DefaultConfig()
	return New(cfg, speedEmbedder, accurateEmbedder, speedIdx, accIdx, cat)
}

func TestHybridQueryDisabledReturnsDisabledPayload(t *testing.T) {
	core := newTestCore(t)
	core.cfg.Enabled = false

	resp, err := core.HybridQuery(context.Background(), "anything", 5, false, vectorindex.Filters{}, "")
	if err != nil {
		t.Fatalf("HybridQuery: %v", err)
	}
	if !resp.Disabled {
		t.Error("expected Disabled=true")
	}
}

func TestHybridQueryReturnsGroundedResponse(t *testing.T) {
	core := newTestCore(t)

	resp, err := core.HybridQuery(context.Background(), "stewardship and pace", 5, false, vectorindex.Filters{}, "")
	if err != nil {
		t.Fatalf("HybridQuery: %v", err)
	}
	if resp.Lane == "" {
		t.Error("expected a lane to be set")
	}
}

func TestShouldEscalateRespectsDisableFlag(t *testing.T) {
	core := newTestCore(t)
	core.cfg.DisableEscalation = true

	resp := RAGResponse{GroundingScore: 0.0, Lane: "speed"}
	if core.shouldEscalate(resp, "speed", "a query", "") {
		t.Error("expected no escalation when DisableEscalation=true")
	}
}

func TestShouldEscalateOnLowGroundingScore(t *testing.T) {
	core := newTestCore(t)
	core.cfg.GroundingThreshold = 0.65

	resp := RAGResponse{GroundingScore: 0.4, Citations: []grounding.Citation{{SourceID: "c1"}}, Lane: "speed"}
	if !core.shouldEscalate(resp, "speed", "a query", "") {
		t.Error("expected escalation when grounding score is below threshold")
	}
}

func TestShouldEscalateNeverFiresForAccurateLane(t *testing.T) {
	core := newTestCore(t)
	resp := RAGResponse{GroundingScore: 0.0, Lane: "accurate"}
	if core.shouldEscalate(resp, "accurate", "a query", "") {
		t.Error("escalation must not recurse past the accurate lane")
	}
}

func TestShouldEscalateOnHighComplexityQuery(t *testing.T) {
	core := newTestCore(t)
	core.cfg.ComplexityThreshold = 0.3

	resp := RAGResponse{GroundingScore: 0.9, Citations: []grounding.Citation{{SourceID: "c1"}}, Lane: "speed"}
	complexQuery := "burnout pacing boundaries stewardship trust clarity confusion overwhelmed struggling protocol"
	if !core.shouldEscalate(resp, "speed", complexQuery, "") {
		t.Error("expected escalation when query complexity exceeds the configured threshold")
	}
}

func TestShouldEscalateOnHighRiskUserIntent(t *testing.T) {
	core := newTestCore(t)

	resp := RAGResponse{GroundingScore: 0.9, Citations: []grounding.Citation{{SourceID: "c1"}}, Lane: "speed"}
	if !core.shouldEscalate(resp, "speed", "a query", "decision") {
		t.Error("expected escalation when caller declares a high-risk user_intent")
	}
}

func TestQueryDisabledReturnsErrDisabled(t *testing.T) {
	core := newTestCore(t)
	core.cfg.Enabled = false

	_, err := core.Query(context.Background(), "anything", 5, "speed", false)
	if err != ErrDisabled {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}
