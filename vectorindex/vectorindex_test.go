package vectorindex

import (
	"context"
	"path/filepath"
	"testing"
)

func TestAddThenSearchRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "speed.db")
	idx, err := Open(dbPath, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	items := []AddItem{
		{Metadata: ChunkMetadata{ChunkID: "p::s0::c0", ProtocolID: "p", Text: "alpha"}, Vector: []float32{1, 0, 0, 0}},
		{Metadata: ChunkMetadata{ChunkID: "p::s0::c1", ProtocolID: "p", Text: "beta"}, Vector: []float32{0, 1, 0, 0}},
	}
	if err := idx.Add(ctx, items); err != nil {
		t.Fatalf("Add: %v", err)
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("Count = %d, want 2", count)
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2, Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Metadata.ChunkID != "p::s0::c0" {
		t.Errorf("top result = %q, want p::s0::c0", results[0].Metadata.ChunkID)
	}

	seen := make(map[string]bool)
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Error("results are not sorted by score descending")
		}
		if seen[results[i].Metadata.ChunkID] {
			t.Errorf("duplicate chunk_id %q in results", results[i].Metadata.ChunkID)
		}
		seen[results[i].Metadata.ChunkID] = true
	}
}

func TestHasHashReportsPresenceAfterAdd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "speed.db")
	idx, err := Open(dbPath, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	exists, err := idx.HasHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("HasHash: %v", err)
	}
	if exists {
		t.Error("expected HasHash=false before the hash is indexed")
	}

	err = idx.Add(ctx, []AddItem{
		{Metadata: ChunkMetadata{ChunkID: "p::s0::c0", ProtocolID: "p", Hash: "abc123"}, Vector: []float32{1, 0, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	exists, err = idx.HasHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("HasHash: %v", err)
	}
	if !exists {
		t.Error("expected HasHash=true after the hash is indexed")
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "speed.db")
	idx, err := Open(dbPath, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	_, err = idx.Search(context.Background(), []float32{1, 0}, 1, Filters{})
	if err == nil {
		t.Fatal("expected ErrDimensionMismatch, got nil")
	}
}

func TestAddDimensionMismatchRejectsWholeBatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "speed.db")
	idx, err := Open(dbPath, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	items := []AddItem{
		{Metadata: ChunkMetadata{ChunkID: "ok"}, Vector: []float32{1, 0, 0, 0}},
		{Metadata: ChunkMetadata{ChunkID: "bad"}, Vector: []float32{1, 0}},
	}
	if err := idx.Add(ctx, items); err == nil {
		t.Fatal("expected dimension mismatch error")
	}

	count, _ := idx.Count(ctx)
	if count != 0 {
		t.Errorf("Count = %d after rejected Add, want 0 (all-or-nothing)", count)
	}
}

func TestSearchFiltersByProtocolID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "speed.db")
	idx, err := Open(dbPath, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	items := []AddItem{
		{Metadata: ChunkMetadata{ChunkID: "a::s0::c0", ProtocolID: "a"}, Vector: []float32{1, 0}},
		{Metadata: ChunkMetadata{ChunkID: "b::s0::c0", ProtocolID: "b"}, Vector: []float32{1, 0}},
	}
	if err := idx.Add(ctx, items); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := idx.Search(ctx, []float32{1, 0}, 10, Filters{ProtocolID: "b"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Metadata.ProtocolID != "b" {
			t.Errorf("filtered search returned protocol_id %q", r.Metadata.ProtocolID)
		}
	}
}
