// Package ingest turns source documents into deduplicated, chunked,
// metadata-tagged records ready for a knowledge store. The pipeline
// resolves each input to bytes, fingerprints it, applies the duplicate
// policy, decodes, chunks, and finally writes all surviving chunks in
// one batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dorvan/ragent/internal/chunk"
	"github.com/dorvan/ragent/internal/knowledge"
)

// DuplicateHandling selects what happens when an input's fingerprint
// matches chunks already in the store.
type DuplicateHandling string

const (
	// DuplicateSkip leaves the stored document in place and skips the
	// input. This is the default.
	DuplicateSkip DuplicateHandling = "skip"

	// DuplicateReplace deletes the stored chunks and ingests the input.
	DuplicateReplace DuplicateHandling = "replace"

	// DuplicateError aborts the entire call on the first match.
	DuplicateError DuplicateHandling = "error"

	// DuplicateAllow never checks the store.
	DuplicateAllow DuplicateHandling = "allow"
)

var (
	// ErrNoSource indicates a FileInput with no content source set.
	ErrNoSource = errors.New("file input has no content, path, or URL")

	// ErrDuplicate is returned under DuplicateError when an input's
	// fingerprint already exists in the store.
	ErrDuplicate = errors.New("document already ingested")
)

// FileInput is one document to ingest. Exactly one of Content, Path,
// or URL must be set.
type FileInput struct {
	Content  []byte
	Path     string
	URL      string
	Filename string            // Display name; inferred from Path/URL when empty
	Type     DocumentType      // Inferred from the filename when empty
	IDPrefix string            // Per-file chunk id prefix
	Metadata map[string]string // Extra metadata for this file's chunks
}

// Options configures one Ingest call.
type Options struct {
	Chunking   chunk.Options
	Duplicates DuplicateHandling
	Metadata   map[string]string // Applied to every chunk of every file
	IDPrefix   string            // Fallback chunk id prefix
}

// Result reports what one Ingest call did. Added counts chunks;
// Skipped and Replaced count files.
type Result struct {
	Added    int
	Skipped  int
	Replaced int
}

// Config assembles a Pipeline.
type Config struct {
	Store    knowledge.Store
	Decoders *DecoderRegistry // Defaults to NewDecoderRegistry()
	Fetcher  *Fetcher         // Defaults to NewFetcher(0)
	Logger   *slog.Logger
}

// Pipeline ingests documents into a knowledge store.
type Pipeline struct {
	store    knowledge.Store
	decoders *DecoderRegistry
	fetcher  *Fetcher
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if cfg.Decoders == nil {
		cfg.Decoders = NewDecoderRegistry()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewFetcher(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		store:    cfg.Store,
		decoders: cfg.Decoders,
		fetcher:  cfg.Fetcher,
		logger:   cfg.Logger,
	}, nil
}

// Ingest processes the inputs in order. Deletions queued by the
// replace policy and the upsert of new chunks both happen once, after
// every file has been processed, so a failing file never leaves the
// store with a half-replaced document.
func (p *Pipeline) Ingest(ctx context.Context, files []FileInput, opts Options) (*Result, error) {
	policy, err := resolvePolicy(opts.Duplicates)
	if err != nil {
		return nil, err
	}
	chunking := opts.Chunking
	if chunking.Strategy == "" {
		chunking = chunk.DefaultOptions(chunk.StrategyRecursive)
	}

	// One timestamp per call keeps chunk ids sortable within a batch.
	stamp := time.Now().UnixMilli()

	var (
		result   Result
		batch    []knowledge.Chunk
		toDelete []string
	)

	for i, file := range files {
		data, filename, err := p.resolve(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("resolving file %d (%s): %w", i, displayName(file, i), err)
		}

		hash := Fingerprint(data, filename)

		if policy != DuplicateAllow {
			existing, err := p.store.GetByFilter(ctx, map[string]string{
				knowledge.MetadataKeyDocumentHash: hash,
			})
			if err != nil {
				return nil, fmt.Errorf("checking duplicates for %s: %w", displayName(file, i), err)
			}
			if len(existing) > 0 {
				switch policy {
				case DuplicateSkip:
					p.logger.Info("skipping duplicate document",
						"filename", filename,
						"hash", hash,
					)
					result.Skipped++
					continue
				case DuplicateError:
					return nil, fmt.Errorf("%w: %s (hash %s)", ErrDuplicate, displayName(file, i), hash)
				case DuplicateReplace:
					for _, c := range existing {
						toDelete = append(toDelete, c.ID)
					}
					result.Replaced++
				}
			}
		}

		docType := file.Type
		if docType == "" {
			docType = TypeFromFilename(filename)
		}
		text, err := p.decoders.Decode(docType, data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", displayName(file, i), err)
		}
		if strings.TrimSpace(text) == "" {
			p.logger.Info("skipping empty document", "filename", filename)
			result.Skipped++
			continue
		}

		pieces, err := chunk.Split(text, chunking)
		if err != nil {
			return nil, fmt.Errorf("chunking %s: %w", displayName(file, i), err)
		}

		prefix := chunkIDPrefix(file, opts, filename, i)
		for n, piece := range pieces {
			meta := make(map[string]string, len(opts.Metadata)+len(file.Metadata)+6)
			for k, v := range opts.Metadata {
				meta[k] = v
			}
			for k, v := range file.Metadata {
				meta[k] = v
			}
			meta["file_index"] = strconv.Itoa(i)
			meta["chunk_index"] = strconv.Itoa(n)
			meta["total_chunks"] = strconv.Itoa(len(pieces))
			meta["document_type"] = string(docType)
			meta[knowledge.MetadataKeyDocumentHash] = hash
			if filename != "" {
				meta[knowledge.MetadataKeyFilename] = filename
			}

			batch = append(batch, knowledge.Chunk{
				ID:       fmt.Sprintf("%s_%d_%d", prefix, stamp, n),
				Content:  piece,
				Metadata: meta,
			})
		}

		p.logger.Debug("document chunked",
			"filename", filename,
			"type", docType,
			"chunks", len(pieces),
		)
	}

	if len(toDelete) > 0 {
		if err := p.store.DeleteByIDs(ctx, toDelete); err != nil {
			return nil, fmt.Errorf("deleting replaced chunks: %w", err)
		}
	}
	if len(batch) > 0 {
		if err := p.store.Upsert(ctx, batch); err != nil {
			return nil, fmt.Errorf("upserting %d chunks: %w", len(batch), err)
		}
	}
	result.Added = len(batch)

	p.logger.Info("ingestion complete",
		"added", result.Added,
		"skipped", result.Skipped,
		"replaced", result.Replaced,
	)
	return &result, nil
}

// resolve produces the document bytes and the best-known filename.
func (p *Pipeline) resolve(ctx context.Context, file FileInput) ([]byte, string, error) {
	sources := 0
	if len(file.Content) > 0 {
		sources++
	}
	if file.Path != "" {
		sources++
	}
	if file.URL != "" {
		sources++
	}
	switch {
	case sources == 0:
		return nil, "", ErrNoSource
	case sources > 1:
		return nil, "", errors.New("file input has more than one content source")
	}

	switch {
	case len(file.Content) > 0:
		return file.Content, file.Filename, nil
	case file.Path != "":
		data, err := os.ReadFile(file.Path)
		if err != nil {
			return nil, "", fmt.Errorf("reading file: %w", err)
		}
		filename := file.Filename
		if filename == "" {
			filename = filepath.Base(file.Path)
		}
		return data, filename, nil
	default:
		data, err := p.fetcher.Fetch(ctx, file.URL)
		if err != nil {
			return nil, "", err
		}
		filename := file.Filename
		if filename == "" {
			if u, err := url.Parse(file.URL); err == nil {
				if base := path.Base(u.Path); base != "/" && base != "." {
					filename = base
				}
			}
		}
		return data, filename, nil
	}
}

func resolvePolicy(h DuplicateHandling) (DuplicateHandling, error) {
	switch h {
	case "":
		return DuplicateSkip, nil
	case DuplicateSkip, DuplicateReplace, DuplicateError, DuplicateAllow:
		return h, nil
	default:
		return "", fmt.Errorf("unknown duplicate handling %q", h)
	}
}

// chunkIDPrefix picks the id prefix for one file's chunks: the file's
// own prefix, the call-wide prefix, the filename base, or a synthetic
// per-file name.
func chunkIDPrefix(file FileInput, opts Options, filename string, index int) string {
	if file.IDPrefix != "" {
		return file.IDPrefix
	}
	if opts.IDPrefix != "" {
		return opts.IDPrefix
	}
	if filename != "" {
		base := strings.TrimSuffix(filename, filepath.Ext(filename))
		if base != "" {
			return base
		}
	}
	return fmt.Sprintf("file%d_%s", index, uuid.NewString()[:8])
}

func displayName(file FileInput, index int) string {
	switch {
	case file.Filename != "":
		return file.Filename
	case file.Path != "":
		return file.Path
	case file.URL != "":
		return file.URL
	default:
		return fmt.Sprintf("input %d", index)
	}
}
