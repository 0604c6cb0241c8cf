package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lichen-labs/ragcore/doc"
	"github.com/lichen-labs/ragcore/embed"
	"github.com/lichen-labs/ragcore/vectorindex"
)

const testProtocolJSON = `{
  "protocol_id": "clean_edges",
  "title": "Clean Edges",
  "short_title": "Edges",
  "overall_purpose": "Keep boundaries clear and sustainable over time.",
  "why_matters": "Boundaries prevent burnout.",
  "when_to_use": "When scope creeps beyond capacity.",
  "overall_outcomes": {"expected": {"present_pattern": "steady pace"}},
  "themes": [
    {"name": "Pace", "purpose": "Set a sustainable pace.", "why_matters": "Pace sustains output."}
  ],
  "completion_prompts": ["What changed since last review?"],
  "metadata": {"stones": ["stewardship"], "tags": ["pacing"]}
}`

func newTestPipeline(t *testing.T) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()

	docPath := filepath.Join(dir, "Clean Edges.json")
	if err := os.WriteFile(docPath, []byte(testProtocolJSON), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	speedIdx, err := vectorindex.Open(filepath.Join(dir, "speed.db"), 4)
	if err != nil {
		t.Fatalf("opening speed index: %v", err)
	}
	t.Cleanup(func() { speedIdx.Close() })

	pipeline := &Pipeline{
		Lanes: map[string]Lane{
			"speed": {
				Profile: SpeedProfile(),
				Backend: embed.NewFast(4),
				Index:   speedIdx,
			},
		},
		DataRoot:    filepath.Join(dir, "data"),
		Concurrency: 2,
	}
	return pipeline, docPath
}

func TestIngestPathsCreatesChunksAndIndexesThem(t *testing.T) {
	pipeline, docPath := newTestPipeline(t)

	results := pipeline.IngestPaths(context.Background(), []string{docPath})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	r := results[0]
	if r.ErrorMessage != "" {
		t.Fatalf("unexpected error: %s", r.ErrorMessage)
	}
	if r.ProtocolID != "clean_edges" {
		t.Errorf("ProtocolID = %q, want clean_edges", r.ProtocolID)
	}
	if r.ChunksCreated == 0 {
		t.Error("expected at least one chunk created")
	}

	count, err := pipeline.Lanes["speed"].Index.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != r.ChunksCreated {
		t.Errorf("index count = %d, want %d", count, r.ChunksCreated)
	}
}

func TestIngestPathsReingestIsIdempotentOnChunkCount(t *testing.T) {
	pipeline, docPath := newTestPipeline(t)
	ctx := context.Background()

	first := pipeline.IngestPaths(ctx, []string{docPath})[0]

	// Re-ingesting into a fresh index should produce the same chunk count.
	pipeline2, _ := newTestPipeline(t)
	second := pipeline2.IngestPaths(ctx, []string{docPath})[0]

	if first.ChunksCreated != second.ChunksCreated {
		t.Errorf("chunk count changed across re-ingest: %d vs %d", first.ChunksCreated, second.ChunksCreated)
	}
}

func TestIngestPathsDuplicateCheckSkipsAlreadyIndexedChunks(t *testing.T) {
	pipeline, docPath := newTestPipeline(t)
	dupe := pipeline.Lanes["speed"]
	dupe.Profile.DuplicateCheck = true
	pipeline.Lanes["speed"] = dupe

	ctx := context.Background()
	first := pipeline.IngestPaths(ctx, []string{docPath})[0]
	if first.ChunksCreated == 0 {
		t.Fatal("expected at least one chunk created on first ingest")
	}

	second := pipeline.IngestPaths(ctx, []string{docPath})[0]
	if second.ErrorMessage != "" {
		t.Fatalf("unexpected error on re-ingest: %s", second.ErrorMessage)
	}
	if second.ChunksCreated != 0 {
		t.Errorf("re-ingest with DuplicateCheck created %d chunks, want 0", second.ChunksCreated)
	}

	count, err := pipeline.Lanes["speed"].Index.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != first.ChunksCreated {
		t.Errorf("index count = %d after re-ingest, want %d (no duplicates added)", count, first.ChunksCreated)
	}
}

func TestIngestPathsValidationFailureIsolatesLane(t *testing.T) {
	pipeline, docPath := newTestPipeline(t)
	failing := pipeline.Lanes["speed"]
	failing.Profile.Validate = true
	pipeline.Lanes["speed"] = failing
	pipeline.Validator = func(p doc.Protocol) (bool, []string) { return false, []string{"missing required field"} }

	results := pipeline.IngestPaths(context.Background(), []string{docPath})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Valid {
		t.Error("expected Valid=false when Validator rejects the document")
	}
	if r.ErrorMessage == "" {
		t.Error("expected ErrorMessage to carry the validation errors")
	}
	if r.ChunksCreated != 0 {
		t.Error("expected no chunks created for an invalid document")
	}
}
