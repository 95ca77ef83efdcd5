package memory

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog/log"
)

// HotStore is the persistent, process-local vector store keyed by
// Memory.ID. All mutators (Upsert, Delete) must be called from behind a
// WriteQueue; reads (Get, List, Search, SizeBytes) do not require it.
type HotStore struct {
	db   *sql.DB
	path string
	idx  *vectorIndex
}

// NewHotStore opens (creating and migrating if necessary) the backing
// file at dataDir/vector_store.db.
func NewHotStore(dataDir string) (*HotStore, error) {
	path := filepath.Join(dataDir, "vector_store.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1) // single-writer SQLite file; avoid SQLITE_BUSY under concurrent reads+writes

	s := &HotStore{db: db, path: path, idx: newVectorIndex(db)}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.repairIndexIfEmpty(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// repairIndexIfEmpty rebuilds the bucket index from the memories table
// when memories exist but the index is empty — the case right after an
// upgrade from a schema that predates embedding_buckets, or if the
// bucket table was cleared out from under an otherwise intact store.
func (s *HotStore) repairIndexIfEmpty(ctx context.Context) error {
	var bucketCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_buckets`).Scan(&bucketCount); err != nil {
		return &StoreError{Op: "repair_index", Err: err}
	}
	if bucketCount > 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM memories`)
	if err != nil {
		return &StoreError{Op: "repair_index", Err: err}
	}
	defer rows.Close()

	var records []HotRecord
	for rows.Next() {
		var id string
		var embBlob []byte
		if err := rows.Scan(&id, &embBlob); err != nil {
			return &StoreError{Op: "repair_index", Err: err}
		}
		records = append(records, HotRecord{Memory: Memory{ID: id}, Vector: BytesToFloat32Slice(embBlob)})
	}
	if err := rows.Err(); err != nil {
		return &StoreError{Op: "repair_index", Err: err}
	}
	if len(records) == 0 {
		return nil
	}

	if err := s.idx.rebuild(ctx, records); err != nil {
		return &StoreError{Op: "repair_index", Err: err}
	}
	return nil
}

func (s *HotStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			user_id TEXT NOT NULL,
			run_id TEXT,
			categories TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			embedding BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_run ON memories(user_id, run_id)`,
		`CREATE TABLE IF NOT EXISTS embedding_buckets (
			bucket_id INTEGER NOT NULL,
			memory_id TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_embedding_buckets_bucket ON embedding_buckets(bucket_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StoreError{Op: "migrate", Err: fmt.Errorf("%s: %w", stmt, err)}
		}
	}
	return nil
}

// Close releases the backing database handle.
func (s *HotStore) Close() error { return s.db.Close() }

// Upsert inserts or replaces memory, setting UpdatedAt to now. Must be
// called through a WriteQueue.
func (s *HotStore) Upsert(ctx context.Context, m Memory, vector []float32) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	categoriesJSON, err := marshalJSONField(m.Categories)
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	metadataJSON, err := marshalJSONField(m.Metadata)
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}

	var runID any
	if m.RunID != "" {
		runID = m.RunID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, text, user_id, run_id, categories, metadata, created_at, updated_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text=excluded.text, user_id=excluded.user_id, run_id=excluded.run_id,
			categories=excluded.categories, metadata=excluded.metadata,
			updated_at=excluded.updated_at, embedding=excluded.embedding
	`, m.ID, m.Text, m.UserID, runID, categoriesJSON, metadataJSON, m.CreatedAt, m.UpdatedAt, Float32SliceToBytes(vector))
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	if err := s.idx.index(ctx, m.ID, vector); err != nil {
		log.Warn().Err(err).Str("id", m.ID).Msg("failed to index memory vector")
	}
	return nil
}

// Get returns the memory with id, or ErrNotFound.
func (s *HotStore) Get(ctx context.Context, id string) (Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, text, user_id, run_id, categories, metadata, created_at, updated_at
		FROM memories WHERE id = ?
	`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return Memory{}, ErrNotFound
	}
	if err != nil {
		return Memory{}, &StoreError{Op: "get", Err: err}
	}
	return m, nil
}

// Delete removes id, idempotently. Must be called through a WriteQueue.
func (s *HotStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	if err := s.idx.remove(ctx, id); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("failed to remove memory from vector index")
	}
	return nil
}

// ListFilter selects the partition of memories List returns.
type ListFilter struct {
	UserID string
	RunID  *string // nil = no run_id filter; non-nil empty string means "no run_id"
}

// List returns every memory matching filter.
func (s *HotStore) List(ctx context.Context, filter ListFilter) ([]Memory, error) {
	query := `SELECT id, text, user_id, run_id, categories, metadata, created_at, updated_at FROM memories WHERE user_id = ?`
	args := []any{filter.UserID}
	if filter.RunID != nil {
		if *filter.RunID == "" {
			query += ` AND run_id IS NULL`
		} else {
			query += ` AND run_id = ?`
			args = append(args, *filter.RunID)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var results []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// SearchOptions configures HotStore.Search.
type SearchOptions struct {
	UserID    string
	RunID     *string
	Limit     int
	Threshold float64
}

// Search returns the memories with highest cosine similarity to
// queryVector, restricted to UserID/RunID and Threshold, in descending
// score order with a deterministic tie-break of (score desc, updated_at
// desc, id asc). Only memories in the query's index bucket or a
// one-bit-flip neighbouring bucket are scored; memories in other buckets
// are not returned even when their similarity clears Threshold.
func (s *HotStore) Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]Memory, error) {
	candidateIDs, err := s.idx.candidateIDs(ctx, queryVector)
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	query := `SELECT id, text, user_id, run_id, categories, metadata, created_at, updated_at, embedding
		FROM memories WHERE user_id = ? AND id IN (` + placeholders(len(candidateIDs)) + `)`
	args := []any{opts.UserID}
	for _, id := range candidateIDs {
		args = append(args, id)
	}
	if opts.RunID != nil {
		if *opts.RunID == "" {
			query += ` AND run_id IS NULL`
		} else {
			query += ` AND run_id = ?`
			args = append(args, *opts.RunID)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}
	defer rows.Close()

	type scored struct {
		mem   Memory
		score float64
	}
	var scoredResults []scored
	for rows.Next() {
		var m Memory
		var runID sql.NullString
		var categoriesJSON, metadataJSON sql.NullString
		var embBlob []byte
		if err := rows.Scan(&m.ID, &m.Text, &m.UserID, &runID, &categoriesJSON, &metadataJSON, &m.CreatedAt, &m.UpdatedAt, &embBlob); err != nil {
			return nil, &StoreError{Op: "search", Err: err}
		}
		if runID.Valid {
			m.RunID = runID.String
		}
		unmarshalJSONField(categoriesJSON, &m.Categories)
		unmarshalJSONField(metadataJSON, &m.Metadata)

		vec := BytesToFloat32Slice(embBlob)
		sim := CosineSimilarity(queryVector, vec)
		if sim < opts.Threshold {
			continue
		}
		score := sim
		m.Score = &score
		scoredResults = append(scoredResults, scored{mem: m, score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}

	sort.Slice(scoredResults, func(i, j int) bool {
		a, b := scoredResults[i], scoredResults[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.mem.UpdatedAt.Equal(b.mem.UpdatedAt) {
			return a.mem.UpdatedAt.After(b.mem.UpdatedAt)
		}
		return a.mem.ID < b.mem.ID
	})

	limit := opts.Limit
	if limit <= 0 || limit > len(scoredResults) {
		limit = len(scoredResults)
	}
	out := make([]Memory, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, scoredResults[i].mem)
	}
	return out, nil
}

// SizeBytes returns the backing file's byte count.
func (s *HotStore) SizeBytes() (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, &StoreError{Op: "size_bytes", Err: err}
	}
	if err := s.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, &StoreError{Op: "size_bytes", Err: err}
	}
	return pageCount * pageSize, nil
}

// CountForUser returns the number of hot records for userID, used by
// Stats and pruning.
func (s *HotStore) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (Memory, error) {
	var m Memory
	var runID, categoriesJSON, metadataJSON sql.NullString
	if err := row.Scan(&m.ID, &m.Text, &m.UserID, &runID, &categoriesJSON, &metadataJSON, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Memory{}, err
	}
	if runID.Valid {
		m.RunID = runID.String
	}
	unmarshalJSONField(categoriesJSON, &m.Categories)
	unmarshalJSONField(metadataJSON, &m.Metadata)
	return m, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
