package memory

import (
	"context"
	"database/sql"
	"fmt"
)

// vectorIndex is a cheap LSH-style bucket index over the embeddings
// stored in the memories table, avoiding a full linear scan on every
// HotStore.search call while keeping everything process-local (no
// external ANN service, per the non-goals). Each embedding is hashed
// into one of up to 2^bucketDims buckets by averaging contiguous
// dimension chunks into sign bits; a query scans its own bucket plus
// every one-bit-flip neighbour.
type vectorIndex struct {
	db         *sql.DB
	bucketDims int
}

const defaultBucketDimensions = 10

func newVectorIndex(db *sql.DB) *vectorIndex {
	return &vectorIndex{db: db, bucketDims: defaultBucketDimensions}
}

func (vi *vectorIndex) index(ctx context.Context, id string, embedding []float32) error {
	bucket := vi.bucketID(embedding)
	_, err := vi.db.ExecContext(ctx, `
		INSERT INTO embedding_buckets (bucket_id, memory_id) VALUES (?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET bucket_id = excluded.bucket_id
	`, bucket, id)
	return err
}

func (vi *vectorIndex) remove(ctx context.Context, id string) error {
	_, err := vi.db.ExecContext(ctx, `DELETE FROM embedding_buckets WHERE memory_id = ?`, id)
	return err
}

// candidateIDs returns the memory ids sharing the query's bucket or a
// one-bit-flip neighbouring bucket. Callers still compute exact cosine
// similarity against these candidates; the index only narrows the scan.
func (vi *vectorIndex) candidateIDs(ctx context.Context, queryEmbedding []float32) ([]string, error) {
	primary := vi.bucketID(queryEmbedding)
	buckets := append([]uint32{primary}, vi.adjacentBuckets(primary)...)

	placeholders := make([]any, len(buckets))
	query := "SELECT DISTINCT memory_id FROM embedding_buckets WHERE bucket_id IN ("
	for i, b := range buckets {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders[i] = b
	}
	query += ")"

	rows, err := vi.db.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (vi *vectorIndex) rebuild(ctx context.Context, records []HotRecord) error {
	if _, err := vi.db.ExecContext(ctx, `DELETE FROM embedding_buckets`); err != nil {
		return fmt.Errorf("clear embedding buckets: %w", err)
	}
	for _, r := range records {
		if err := vi.index(ctx, r.Memory.ID, r.Vector); err != nil {
			return err
		}
	}
	return nil
}

func (vi *vectorIndex) bucketID(embedding []float32) uint32 {
	if len(embedding) == 0 {
		return 0
	}
	step := len(embedding) / vi.bucketDims
	if step == 0 {
		step = 1
	}
	var bits uint32
	for i := 0; i < vi.bucketDims && i*step < len(embedding); i++ {
		var sum float32
		count := 0
		for j := i * step; j < (i+1)*step && j < len(embedding); j++ {
			sum += embedding[j]
			count++
		}
		if count > 0 && sum/float32(count) > 0 {
			bits |= 1 << uint(i)
		}
	}
	return bits
}

func (vi *vectorIndex) adjacentBuckets(bucket uint32) []uint32 {
	adjacent := make([]uint32, 0, vi.bucketDims)
	for i := 0; i < vi.bucketDims; i++ {
		adjacent = append(adjacent, bucket^(1<<uint(i)))
	}
	return adjacent
}
