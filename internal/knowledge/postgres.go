package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// searchTimeout bounds a single vector search query so a slow index
// scan cannot block a run.
const searchTimeout = 10 * time.Second

// PostgresStore implements Store on PostgreSQL with the pgvector
// extension. Embeddings are generated through the configured Embedder;
// similarity is cosine (1 - distance).
//
// Safe for concurrent use; the pool handles connection sharing.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *slog.Logger
}

// NewPostgresStore creates a PostgresStore. The pool's lifecycle is
// owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, embedder Embedder, logger *slog.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("connection pool is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, embedder: embedder, logger: logger}, nil
}

// Upsert inserts or replaces chunks in a single transaction so a
// partially written batch never becomes visible.
func (s *PostgresStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	for _, c := range chunks {
		vec, err := s.embedder.Embed(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("embedding chunk %q: %w", c.ID, err)
		}

		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", c.ID, err)
		}

		embedding := pgvector.NewVector(vec)
		_, err = tx.Exec(ctx, `
			INSERT INTO documents (id, content, embedding, metadata, created_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content,
			    embedding = EXCLUDED.embedding,
			    metadata = EXCLUDED.metadata`,
			c.ID, c.Content, embedding, metadataJSON)
		if err != nil {
			return fmt.Errorf("upserting chunk %q: %w", c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}

	s.logger.Debug("upserted chunks", "count", len(chunks))
	return nil
}

// SimilaritySearch embeds the query and runs a cosine-distance scan,
// optionally restricted by a JSONB containment filter. The filter is
// always parameterized via json.Marshal; never interpolate it.
func (s *PostgresStore) SimilaritySearch(ctx context.Context, query string, k int, filter map[string]string) ([]Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec, err := s.embedder.Embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	embedding := pgvector.NewVector(vec)

	var rows pgx.Rows
	if len(filter) > 0 {
		filterJSON, marshalErr := json.Marshal(filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("marshaling filter: %w", marshalErr)
		}
		rows, err = s.pool.Query(queryCtx, `
			SELECT content, metadata, 1 - (embedding <=> $1) AS similarity
			FROM documents
			WHERE metadata @> $2
			ORDER BY embedding <=> $1
			LIMIT $3`,
			embedding, filterJSON, k)
	} else {
		rows, err = s.pool.Query(queryCtx, `
			SELECT content, metadata, 1 - (embedding <=> $1) AS similarity
			FROM documents
			ORDER BY embedding <=> $1
			LIMIT $2`,
			embedding, k)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("similarity search timeout: %w", err)
		}
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			content      string
			metadataJSON []byte
			score        float64
		)
		if err := rows.Scan(&content, &metadataJSON, &score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, Result{
			Content:  content,
			Metadata: s.parseMetadata(metadataJSON),
			Score:    score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return results, nil
}

// GetByFilter returns every chunk whose metadata contains the filter.
func (s *PostgresStore) GetByFilter(ctx context.Context, filter map[string]string) ([]Chunk, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshaling filter: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, content, metadata
		FROM documents
		WHERE metadata @> $1`,
		filterJSON)
	if err != nil {
		return nil, fmt.Errorf("filter query: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			id           string
			content      string
			metadataJSON []byte
		)
		if err := rows.Scan(&id, &content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		chunks = append(chunks, Chunk{
			ID:       id,
			Content:  content,
			Metadata: s.parseMetadata(metadataJSON),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}
	return chunks, nil
}

// DeleteByIDs removes chunks by ID; unknown IDs are ignored.
func (s *PostgresStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	s.logger.Debug("deleted chunks", "count", len(ids))
	return nil
}

// Count returns the number of stored chunks.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	if count > math.MaxInt {
		return 0, fmt.Errorf("chunk count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

func (s *PostgresStore) parseMetadata(raw []byte) map[string]string {
	var metadata map[string]string
	if err := json.Unmarshal(raw, &metadata); err != nil {
		s.logger.Warn("failed to parse chunk metadata", "error", err)
		return map[string]string{}
	}
	return metadata
}
