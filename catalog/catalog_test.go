package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lichen-labs/ragcore/doc"
	"github.com/lichen-labs/ragcore/embed"
)

func sampleProtocol() doc.Protocol {
	return doc.Protocol{
		Title: "Clean Edges",
		Metadata: doc.Metadata{
			Stones: []doc.Stone{doc.NewStoneSlug("stewardship")},
			Tags:   []string{"pacing"},
		},
		Themes: []doc.Theme{
			{
				Name: "Pace",
				Outcomes: doc.Outcomes{
					Expected:  doc.OutcomeLevel{PresentPattern: "steady pace maintained over time"},
					Excellent: doc.OutcomeLevel{PresentPattern: "pace adapts fluidly to load"},
				},
				GuidingQuestions: []string{"What is driving the current pace?"},
			},
		},
		CompletionPrompts: []string{"What changed since last review?"},
	}
}

func TestBuildProducesUnitLengthCentroid(t *testing.T) {
	backend := embed.NewFast(16)
	protocols := []SourceProtocol{{ProtocolID: "clean_edges", Protocol: sampleProtocol()}}

	cat, err := Build(context.Background(), protocols, backend)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cat.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(cat.Entries))
	}

	var sumSq float64
	for _, v := range cat.Entries[0].Centroid {
		sumSq += float64(v) * float64(v)
	}
	if sumSq < 0.98 || sumSq > 1.02 {
		t.Errorf("centroid norm^2 = %f, want ~1.0", sumSq)
	}
}

func TestKeyPhrasesCappedAndDeduplicated(t *testing.T) {
	p := sampleProtocol()
	for i := 0; i < 30; i++ {
		p.Themes = append(p.Themes, doc.Theme{Name: "Pace"}) // duplicate name
	}

	phrases := keyPhrases(p)
	if len(phrases) > maxKeyPhrases {
		t.Errorf("got %d key phrases, want <= %d", len(phrases), maxKeyPhrases)
	}

	seen := make(map[string]bool)
	for _, ph := range phrases {
		if seen[ph] {
			t.Errorf("duplicate key phrase %q", ph)
		}
		seen[ph] = true
	}
}

func TestKeyPhrasesSurvivesEarlyDuplicateOrEmptyPhrase(t *testing.T) {
	p := sampleProtocol()
	// Prepend a theme whose name duplicates itself and carries an empty
	// guiding question, well before the 20-item cap would be reached.
	p.Themes = append([]doc.Theme{
		{Name: "Pace", GuidingQuestions: []string{""}},
	}, p.Themes...)

	phrases := keyPhrases(p)

	found := false
	for _, ph := range phrases {
		if strings.Contains(ph, "What changed since") {
			found = true
		}
	}
	if !found {
		t.Errorf("key phrases stopped before reaching completion prompts: %v", phrases)
	}
}

func TestCacheRoundTripAndStaleness(t *testing.T) {
	backend := embed.NewFast(16)
	cat, err := Build(context.Background(), []SourceProtocol{{ProtocolID: "p", Protocol: sampleProtocol()}}, backend)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := SaveCache(path, cat); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	record, ok, err := LoadCache(path)
	if err != nil || !ok {
		t.Fatalf("LoadCache: ok=%v err=%v", ok, err)
	}
	if record.Stale(cat.EmbedderName, cat.ContentHash) {
		t.Error("freshly saved cache reported stale for the same identity")
	}
	if !record.Stale("a-different-embedder", cat.ContentHash) {
		t.Error("expected stale=true when embedder name differs")
	}
}

func TestLoadCacheMissingFileIsNotError(t *testing.T) {
	_, ok, err := LoadCache(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadCache on missing file returned error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a missing cache file")
	}
}
