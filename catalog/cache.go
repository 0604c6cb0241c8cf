package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// CacheRecord is the on-disk catalog cache: {model_name, catalog,
// created_at}, round-trippable per spec.md §6. The (embedder name,
// content hash) keying and explicit staleness check supplement the spec
// (see SPEC_FULL.md §3), following original_source's catalog cache file
// convention without copying its structure.
type CacheRecord struct {
	ModelName string   `json:"model_name"`
	Catalog   Catalog  `json:"catalog"`
	CreatedAt string   `json:"created_at"`
}

// LoadCache reads a CacheRecord from path. A missing file is not an
// error: it reports ok=false so callers rebuild.
func LoadCache(path string) (record CacheRecord, ok bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return CacheRecord{}, false, nil
	}
	if err != nil {
		return CacheRecord{}, false, fmt.Errorf("catalog: reading cache: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return CacheRecord{}, false, fmt.Errorf("catalog: decoding cache: %w", err)
	}
	return record, true, nil
}

// SaveCache persists a catalog as a CacheRecord, write-to-temp + rename to
// avoid torn files (spec.md §5).
func SaveCache(path string, cat Catalog) error {
	record := CacheRecord{
		ModelName: cat.EmbedderName,
		Catalog:   cat,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Stale reports whether a cached record must be rebuilt: its model
// identifier or content hash differs from the current build inputs
// (spec.md §4.6: "stale when the model identifier differs from the
// cached one").
func (r CacheRecord) Stale(embedderName, contentHash string) bool {
	return r.ModelName != embedderName || r.Catalog.ContentHash != contentHash
}
