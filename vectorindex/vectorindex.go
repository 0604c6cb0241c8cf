// Package vectorindex implements the per-lane persistent vector index of
// spec.md §4.4: an inner-product index over L2-normalised vectors with a
// parallel metadata sidecar, backed by sqlite-vec (the teacher's actual
// vector-index dependency) in place of the spec's named "index.faiss"
// artifact, since no FAISS Go binding exists anywhere in the example pack
// (see DESIGN.md).
package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlitevec.Auto()
}

// ErrDimensionMismatch is returned when a query embedding's dimension
// does not match the index's configured dimension (spec.md §4.4, §7).
var ErrDimensionMismatch = errors.New("vectorindex: query dimension mismatch")

// ErrCorrupt signals that loading an on-disk index failed in a way that
// requires discarding and recreating it empty (spec.md §7's IndexCorrupt).
var ErrCorrupt = errors.New("vectorindex: index artefacts are corrupt")

// ChunkMetadata is the parallel, ordered metadata entry for one vector
// (spec.md §3's Chunk metadata, restricted to what the index needs to
// filter and render results).
type ChunkMetadata struct {
	ChunkID     string
	ProtocolID  string
	Title       string
	SectionName string
	SectionIdx  int
	ChunkIdx    int
	NTokens     int
	Hash        string
	CreatedAt   string
	SourcePath  string
	Stones      []string
	Profile     string
	Text        string
}

// Filters restricts a Search to a subset of the index (spec.md §4.4).
type Filters struct {
	ProtocolID  string   // exact match, ignored if empty
	SectionName string   // exact match, ignored if empty
	Stones      []string // intersection non-empty, ignored if empty
}

// SearchResult is one hit from Search, with its cached embedding included
// so callers (e.g. the fast lane's MMR diversifier) do not need a second
// round-trip to recover per-candidate vectors (spec.md §9's MMR note).
type SearchResult struct {
	Score     float64
	Metadata  ChunkMetadata
	Embedding []float32
}

// Index is a single lane's persistent vector index.
type Index struct {
	db  *sql.DB
	dim int

	mu sync.Mutex // single-writer discipline (spec.md §5)
}

// Open loads an existing index at path if its artefacts exist, or creates
// a fresh empty one at the configured dimension otherwise (spec.md §4.4's
// load()/create semantics).
func Open(path string, dim int) (*Index, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("vectorindex: creating directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("vectorindex: opening: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorindex: pinging: %w", err)
	}

	idx := &Index{db: db, dim: dim}
	if err := idx.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return idx, nil
}

func (idx *Index) ensureSchema() error {
	schema := fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_rowid INTEGER PRIMARY KEY,
    embedding float[%d]
);

CREATE TABLE IF NOT EXISTS chunk_meta (
    chunk_rowid INTEGER PRIMARY KEY,
    chunk_id TEXT NOT NULL UNIQUE,
    protocol_id TEXT NOT NULL,
    title TEXT,
    section_name TEXT,
    section_idx INTEGER,
    chunk_idx INTEGER,
    n_tokens INTEGER,
    hash TEXT,
    created_at TEXT,
    source_path TEXT,
    stones TEXT,
    profile TEXT,
    content TEXT
);
`, idx.dim)
	_, err := idx.db.Exec(schema)
	return err
}

// Dimension returns the index's configured vector dimension.
func (idx *Index) Dimension() int { return idx.dim }

// Count returns ntotal(index), i.e. len(docstore).
func (idx *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_meta`).Scan(&n)
	return n, err
}

// AddItem is one (metadata, vector) pair to add.
type AddItem struct {
	Metadata ChunkMetadata
	Vector   []float32
}

// Add L2-normalises each vector and appends it plus its metadata to the
// index and docstore atomically: either all n items are appended, or none
// are (spec.md §4.4, §5).
func (idx *Index) Add(ctx context.Context, items []AddItem) error {
	if len(items) == 0 {
		return nil
	}
	for _, it := range items {
		if len(it.Vector) != idx.dim {
			return fmt.Errorf("%w: got %d, index is %d", ErrDimensionMismatch, len(it.Vector), idx.dim)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorindex: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, it := range items {
		normalized := l2Normalize(it.Vector)

		res, err := tx.ExecContext(ctx, `
			INSERT INTO chunk_meta
				(chunk_id, protocol_id, title, section_name, section_idx, chunk_idx,
				 n_tokens, hash, created_at, source_path, stones, profile, content)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, it.Metadata.ChunkID, it.Metadata.ProtocolID, it.Metadata.Title,
			it.Metadata.SectionName, it.Metadata.SectionIdx, it.Metadata.ChunkIdx,
			it.Metadata.NTokens, it.Metadata.Hash, it.Metadata.CreatedAt,
			it.Metadata.SourcePath, joinStones(it.Metadata.Stones), it.Metadata.Profile,
			it.Metadata.Text)
		if err != nil {
			return fmt.Errorf("vectorindex: insert chunk_meta: %w", err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("vectorindex: last insert id: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_chunks(chunk_rowid, embedding) VALUES (?, ?)`,
			rowID, serializeFloat32(normalized)); err != nil {
			return fmt.Errorf("vectorindex: insert vec_chunks: %w", err)
		}
	}

	return tx.Commit()
}

// Search normalises the query vector, performs a top-k nearest-neighbour
// search, and applies filters post-retrieval (spec.md §4.4).
func (idx *Index) Search(ctx context.Context, query []float32, k int, filters Filters) ([]SearchResult, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: got %d, index is %d", ErrDimensionMismatch, len(query), idx.dim)
	}
	normalized := l2Normalize(query)

	rows, err := idx.db.QueryContext(ctx, `
		SELECT v.chunk_rowid, v.distance,
			m.chunk_id, m.protocol_id, m.title, m.section_name, m.section_idx,
			m.chunk_idx, m.n_tokens, m.hash, m.created_at, m.source_path,
			m.stones, m.profile, m.content, v.embedding
		FROM vec_chunks v
		JOIN chunk_meta m ON m.chunk_rowid = v.chunk_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(normalized), k)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			rowID              int64
			distance           float64
			stonesRaw          string
			embeddingRaw       []byte
			md                 ChunkMetadata
		)
		if err := rows.Scan(&rowID, &distance, &md.ChunkID, &md.ProtocolID, &md.Title,
			&md.SectionName, &md.SectionIdx, &md.ChunkIdx, &md.NTokens, &md.Hash,
			&md.CreatedAt, &md.SourcePath, &stonesRaw, &md.Profile, &md.Text, &embeddingRaw); err != nil {
			return nil, fmt.Errorf("vectorindex: scan: %w", err)
		}
		md.Stones = splitStones(stonesRaw)

		if !matchesFilters(md, filters) {
			continue
		}

		results = append(results, SearchResult{
			Score:     1 - distance*distance/2, // cosine similarity: vec0's L2 distance d over unit vectors gives cos = 1 - d²/2
			Metadata:  md,
			Embedding: deserializeFloat32(embeddingRaw, idx.dim),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// HasHash reports whether a chunk with the given content hash is already
// present in the index, for the duplicate_check profile knob (spec.md
// §4.5's "hash is the SHA-256 of the exact chunk text; callers may detect
// duplicates by hash").
func (idx *Index) HasHash(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var n int
	err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_meta WHERE hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("vectorindex: hash lookup: %w", err)
	}
	return n > 0, nil
}

// Clear replaces the index with an empty one of the configured dimension.
func (idx *Index) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.ExecContext(ctx, `DELETE FROM vec_chunks; DELETE FROM chunk_meta;`)
	return err
}

// Close releases the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }

// Dump writes a denormalised JSON snapshot of the metadata sidecar —
// spec.md §4.4's advisory "metadata.parquet" artefact, substituted with
// JSON since no Parquet library appears anywhere in the example pack (see
// DESIGN.md). It is write-to-temp + rename, per spec.md §5's torn-file
// prevention discipline.
func (idx *Index) Dump(ctx context.Context, path string) error {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT chunk_id, protocol_id, title, section_name, section_idx, chunk_idx,
			n_tokens, hash, created_at, source_path, stones, profile
		FROM chunk_meta ORDER BY chunk_rowid
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var entries []ChunkMetadata
	for rows.Next() {
		var md ChunkMetadata
		var stonesRaw string
		if err := rows.Scan(&md.ChunkID, &md.ProtocolID, &md.Title, &md.SectionName,
			&md.SectionIdx, &md.ChunkIdx, &md.NTokens, &md.Hash, &md.CreatedAt,
			&md.SourcePath, &stonesRaw, &md.Profile); err != nil {
			return err
		}
		md.Stones = splitStones(stonesRaw)
		entries = append(entries, md)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func matchesFilters(md ChunkMetadata, f Filters) bool {
	if f.ProtocolID != "" && md.ProtocolID != f.ProtocolID {
		return false
	}
	if f.SectionName != "" && md.SectionName != f.SectionName {
		return false
	}
	if len(f.Stones) > 0 {
		want := make(map[string]bool, len(f.Stones))
		for _, s := range f.Stones {
			want[s] = true
		}
		hit := false
		for _, s := range md.Stones {
			if want[s] {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(buf []byte, dim int) []float32 {
	out := make([]float32, dim)
	for i := 0; i < dim && (i+1)*4 <= len(buf); i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : (i+1)*4]))
	}
	return out
}

func joinStones(stones []string) string {
	data, _ := json.Marshal(stones)
	return string(data)
}

func splitStones(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
