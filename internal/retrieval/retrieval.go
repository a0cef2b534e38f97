// Package retrieval executes similarity queries against the knowledge
// store with strictness-derived score filtering.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dorvan/ragent/internal/knowledge"
)

// Strictness names a minimum acceptable similarity score tier.
type Strictness string

// Strictness tiers, loosest to strictest.
const (
	StrictnessAllResults Strictness = "all_results"
	StrictnessRelaxed    Strictness = "relaxed"
	StrictnessBalanced   Strictness = "balanced"
	StrictnessStrict     Strictness = "strict"
)

// strictnessThresholds maps each tier to its minimum score.
var strictnessThresholds = map[Strictness]float64{
	StrictnessAllResults: 0,
	StrictnessRelaxed:    0.5,
	StrictnessBalanced:   0.7,
	StrictnessStrict:     0.85,
}

// Threshold returns the minimum score for a tier and whether the tier
// is known.
func (s Strictness) Threshold() (float64, bool) {
	t, ok := strictnessThresholds[s]
	return t, ok
}

// Method selects the search variant. Every variant routes through the
// store's similarity primitive today; the enum is a policy hook for an
// alternate backend, not a behavioral difference.
type Method string

// Search methods.
const (
	MethodSimilarity         Method = "similarity"
	MethodScoreThreshold     Method = "similarity_score_threshold"
	MethodMMR                Method = "mmr"
	MethodFilteredSimilarity Method = "filtered_similarity"
)

// DefaultMaxResults bounds a query when the caller does not specify k.
const DefaultMaxResults = 4

// Sentinel errors for query validation.
var (
	// ErrEmptyQuery indicates missing query text.
	ErrEmptyQuery = errors.New("query text is empty")

	// ErrUnknownStrictness indicates a strictness value outside the tiers.
	ErrUnknownStrictness = errors.New("unknown strictness")

	// ErrUnknownMethod indicates an unsupported search method.
	ErrUnknownMethod = errors.New("unknown search method")

	// ErrFilterRequired indicates filtered_similarity without a filter.
	ErrFilterRequired = errors.New("filtered_similarity requires a metadata filter")
)

// QueryOptions configures one query. Zero values take defaults.
type QueryOptions struct {
	MaxResults int               // default DefaultMaxResults
	Method     Method            // default similarity
	Filter     map[string]string // optional metadata filter
	Strictness Strictness        // optional tier; empty = none
	MinScore   *float64          // explicit threshold; wins over Strictness
}

// Engine runs retrieval queries against a Store.
type Engine struct {
	store  knowledge.Store
	logger *slog.Logger
}

// New creates an Engine.
func New(store knowledge.Store, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("knowledge store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}, nil
}

// Query runs a similarity search and drops results below the resolved
// score threshold. Thresholding is applied post-hoc; the store is not
// required to support it server-side.
func (e *Engine) Query(ctx context.Context, text string, opts QueryOptions) ([]knowledge.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}

	method := opts.Method
	if method == "" {
		method = MethodSimilarity
	}
	switch method {
	case MethodSimilarity, MethodScoreThreshold, MethodMMR:
	case MethodFilteredSimilarity:
		if len(opts.Filter) == 0 {
			return nil, ErrFilterRequired
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	threshold, err := resolveThreshold(opts)
	if err != nil {
		return nil, err
	}

	k := opts.MaxResults
	if k <= 0 {
		k = DefaultMaxResults
	}

	results, err := e.store.SimilaritySearch(ctx, text, k, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	if threshold == nil {
		return results, nil
	}

	filtered := results[:0]
	for _, r := range results {
		if r.Score >= *threshold {
			filtered = append(filtered, r)
		}
	}
	e.logger.Debug("applied score threshold",
		"threshold", *threshold,
		"before", len(results),
		"after", len(filtered),
	)
	return filtered, nil
}

// resolveThreshold picks the score floor: explicit MinScore wins over
// the strictness table; neither set means no threshold.
func resolveThreshold(opts QueryOptions) (*float64, error) {
	if opts.MinScore != nil {
		return opts.MinScore, nil
	}
	if opts.Strictness == "" {
		return nil, nil
	}
	t, ok := opts.Strictness.Threshold()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrictness, opts.Strictness)
	}
	return &t, nil
}
