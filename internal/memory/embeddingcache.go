package memory

import (
	"context"
	"database/sql"
	"encoding/hex"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// EmbeddingCache wraps an Embedder with a content-hash SQLite cache so
// re-ingesting an unchanged fact never re-calls the embedding model.
type EmbeddingCache struct {
	embedder Embedder
	db       *sql.DB
	modelID  string

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// NewEmbeddingCache opens (creating if needed) dataDir/embedding_cache.db
// and wraps embedder with it.
func NewEmbeddingCache(embedder Embedder, dataDir string) (*EmbeddingCache, error) {
	path := filepath.Join(dataDir, "embedding_cache.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StoreError{Op: "open_embedding_cache", Err: err}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS content_embedding_cache (
		content_hash TEXT PRIMARY KEY,
		embedding    BLOB NOT NULL,
		dimension    INTEGER NOT NULL,
		model_id     TEXT NOT NULL,
		created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		use_count    INTEGER NOT NULL DEFAULT 1
	)`); err != nil {
		db.Close()
		return nil, &StoreError{Op: "migrate_embedding_cache", Err: err}
	}

	modelID := "unknown"
	if embedder != nil {
		modelID = embedder.ModelName()
	}
	return &EmbeddingCache{embedder: embedder, db: db, modelID: modelID}, nil
}

// Close releases the backing database handle.
func (c *EmbeddingCache) Close() error { return c.db.Close() }

// Embed returns text's cached embedding, generating and caching it on a
// miss.
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := hashContent(text)
	if cached, ok := c.getFromCache(ctx, hash); ok {
		c.cacheHits.Add(1)
		return cached, nil
	}
	c.cacheMisses.Add(1)

	embedding, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(hash, embedding)
	return embedding, nil
}

// EmbedBatch embeds texts, serving cached entries directly and batching
// only the misses through the underlying embedder.
func (c *EmbeddingCache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		hash := hashContent(text)
		if cached, ok := c.getFromCache(ctx, hash); ok {
			results[i] = cached
			c.cacheHits.Add(1)
			continue
		}
		c.cacheMisses.Add(1)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		generated, err := c.embedder.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, idx := range missIdx {
			if j >= len(generated) {
				break
			}
			results[idx] = generated[j]
			c.store(hashContent(texts[idx]), generated[j])
		}
	}
	return results, nil
}

// Dimension delegates to the wrapped embedder.
func (c *EmbeddingCache) Dimension() int { return c.embedder.Dimension() }

// ModelName delegates to the wrapped embedder.
func (c *EmbeddingCache) ModelName() string { return c.modelID }

// Stats returns the lifetime hit/miss counters.
func (c *EmbeddingCache) Stats() (hits, misses int64) {
	return c.cacheHits.Load(), c.cacheMisses.Load()
}

func hashContent(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *EmbeddingCache) getFromCache(ctx context.Context, hash string) ([]float32, bool) {
	var blob []byte
	var dimension int
	err := c.db.QueryRowContext(ctx, `SELECT embedding, dimension FROM content_embedding_cache WHERE content_hash = ?`, hash).Scan(&blob, &dimension)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Debug().Err(err).Msg("embedding cache lookup failed")
		}
		return nil, false
	}
	embedding := BytesToFloat32Slice(blob)
	if len(embedding) != dimension {
		return nil, false
	}
	go c.touch(hash)
	return embedding, true
}

func (c *EmbeddingCache) store(hash string, embedding []float32) {
	if embedding == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO content_embedding_cache (content_hash, embedding, dimension, model_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET last_used_at = CURRENT_TIMESTAMP, use_count = use_count + 1
	`, hash, Float32SliceToBytes(embedding), len(embedding), c.modelID)
	if err != nil {
		log.Debug().Err(err).Msg("failed to cache embedding")
	}
}

func (c *EmbeddingCache) touch(hash string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.db.ExecContext(ctx, `UPDATE content_embedding_cache SET last_used_at = CURRENT_TIMESTAMP, use_count = use_count + 1 WHERE content_hash = ?`, hash)
	if err != nil {
		log.Debug().Err(err).Msg("failed to update embedding cache stats")
	}
}

// EvictStale removes entries not used in the given number of days,
// returning the number evicted.
func (c *EmbeddingCache) EvictStale(ctx context.Context, staleDays int) (int64, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM content_embedding_cache WHERE last_used_at < datetime('now', '-' || ? || ' days')`, staleDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
