package doc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDeriveProtocolID(t *testing.T) {
	tests := []struct {
		name       string
		sourcePath string
		existing   string
		wantID     string
		wantChange bool
	}{
		{
			name:       "auto placeholder is replaced",
			sourcePath: "Clean Edges_v2.json",
			existing:   "auto_17",
			wantID:     "clean_edges_v2",
			wantChange: true,
		},
		{
			name:       "valid explicit id kept as-is",
			sourcePath: "Clean Edges_v2.json",
			existing:   "clean_edges",
			wantID:     "clean_edges",
			wantChange: false,
		},
		{
			name:       "auto with trailing counter is still rejected",
			sourcePath: "Holding Steady.json",
			existing:   "auto_3_1",
			wantID:     "holding_steady",
			wantChange: true,
		},
		{
			name:       "derivation strips accents and punctuation",
			sourcePath: "Café — Réflexion!.json",
			existing:   "",
			wantID:     "cafe_reflexion",
			wantChange: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveProtocolID(tt.sourcePath, Protocol{ProtocolID: tt.existing})
			if got.ProtocolID != tt.wantID {
				t.Errorf("ProtocolID = %q, want %q", got.ProtocolID, tt.wantID)
			}
			if got.Changed != tt.wantChange {
				t.Errorf("Changed = %v, want %v", got.Changed, tt.wantChange)
			}
		})
	}
}

func TestDeriveProtocolIDIdempotent(t *testing.T) {
	first := DeriveProtocolID("Clean Edges_v2.json", Protocol{ProtocolID: "auto_17"})
	second := DeriveProtocolID("Clean Edges_v2.json", Protocol{ProtocolID: first.ProtocolID})

	if second.ProtocolID != first.ProtocolID {
		t.Fatalf("second derivation changed id: %q -> %q", first.ProtocolID, second.ProtocolID)
	}
	if second.Changed {
		t.Error("second derivation should report Changed=false")
	}
}

func TestDeriveAndPersistWritesCorrectedIDWhenRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Clean Edges_v2.json")
	if err := os.WriteFile(path, []byte(`{"protocol_id":"auto_17","title":"Clean Edges","themes":[]}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := DeriveAndPersist(path, Protocol{ProtocolID: "auto_17"}, true)
	if err != nil {
		t.Fatalf("DeriveAndPersist: %v", err)
	}
	if result.ProtocolID != "clean_edges_v2" {
		t.Fatalf("ProtocolID = %q, want clean_edges_v2", result.ProtocolID)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal persisted file: %v", err)
	}
	if decoded["protocol_id"] != "clean_edges_v2" {
		t.Errorf("persisted protocol_id = %v, want clean_edges_v2", decoded["protocol_id"])
	}
	if decoded["title"] != "Clean Edges" {
		t.Errorf("persisted title = %v, want unchanged", decoded["title"])
	}
}

func TestDeriveAndPersistLeavesFileUntouchedWhenNotRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Clean Edges_v2.json")
	original := []byte(`{"protocol_id":"auto_17","title":"Clean Edges","themes":[]}`)
	if err := os.WriteFile(path, original, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := DeriveAndPersist(path, Protocol{ProtocolID: "auto_17"}, false); err != nil {
		t.Fatalf("DeriveAndPersist: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(raw) != string(original) {
		t.Error("file was modified despite persist=false")
	}
}
