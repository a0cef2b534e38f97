package knowledge

import "context"

// Chunk is a bounded fragment of a source document, tagged with the
// positional and source metadata the ingestion pipeline assigns.
// Chunks are write-once: replacing a document deletes its old chunks
// and creates new ones.
type Chunk struct {
	ID       string            // Unique identifier
	Content  string            // Chunk text
	Metadata map[string]string // file_index, chunk_index, document_hash, ...
}

// Result is a single similarity-search hit.
type Result struct {
	Content  string            // Chunk text
	Metadata map[string]string // Chunk metadata
	Score    float64           // Similarity score in [0, 1], higher is closer
}

// Store is the vector-store capability the core depends on. The two
// shipped implementations are PostgresStore (pgvector) and MemoryStore;
// any backend satisfying this interface can be substituted.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Upsert inserts or replaces chunks by ID.
	Upsert(ctx context.Context, chunks []Chunk) error

	// SimilaritySearch returns up to k chunks closest to the query,
	// optionally restricted to chunks whose metadata contains every
	// filter entry. Results are ordered by descending score.
	SimilaritySearch(ctx context.Context, query string, k int, filter map[string]string) ([]Result, error)

	// GetByFilter returns all chunks whose metadata contains every
	// filter entry. Used by ingestion for duplicate detection.
	GetByFilter(ctx context.Context, filter map[string]string) ([]Chunk, error)

	// DeleteByIDs removes chunks by ID. Unknown IDs are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error

	// Count returns the total number of stored chunks.
	Count(ctx context.Context) (int, error)
}

// MetadataKeyDocumentHash is the metadata key carrying the content
// fingerprint used for duplicate detection.
const MetadataKeyDocumentHash = "document_hash"

// MetadataKeyFilename is the metadata key carrying the source filename.
const MetadataKeyFilename = "filename"
