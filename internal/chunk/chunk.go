// Package chunk splits document text into bounded segments for embedding.
//
// Four strategies are supported:
//   - fixed: sliding character window with overlap
//   - sentence: greedy packing of sentence units
//   - paragraph: greedy packing of paragraph units
//   - recursive: separator-hierarchy descent with overlap injection
//
// Sizes and overlaps are measured in runes, not bytes, so multi-byte
// text chunks at the same boundaries as ASCII.
package chunk

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Strategy selects the splitting algorithm.
type Strategy string

// Supported chunking strategies.
const (
	StrategyFixed     Strategy = "fixed"
	StrategySentence  Strategy = "sentence"
	StrategyParagraph Strategy = "paragraph"
	StrategyRecursive Strategy = "recursive"
)

// Defaults applied when Options fields are zero.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators is the recursive strategy's priority order. The
// empty string is the terminal level: once reached, splitting falls
// back to the fixed window.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Sentinel errors for option validation.
var (
	// ErrUnknownStrategy indicates the strategy value is not one of the
	// supported constants. Never silently defaulted.
	ErrUnknownStrategy = errors.New("unknown chunking strategy")

	// ErrInvalidChunkSize indicates a negative chunk size.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidOverlap indicates a negative chunk overlap.
	ErrInvalidOverlap = errors.New("invalid chunk overlap")
)

// Options configures a Split call. Strategy is required. A zero
// ChunkSize takes DefaultChunkSize; a zero ChunkOverlap means no
// overlap; use DefaultOptions for the conventional 200-rune overlap.
type Options struct {
	Strategy     Strategy
	ChunkSize    int      // maximum chunk length in runes (default 1000)
	ChunkOverlap int      // overlap between adjacent chunks (0 = none)
	Separators   []string // recursive strategy only (default DefaultSeparators)
}

// DefaultOptions returns the conventional configuration for a strategy:
// 1000-rune chunks with a 200-rune overlap.
func DefaultOptions(s Strategy) Options {
	return Options{
		Strategy:     s,
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Separators:   DefaultSeparators,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if len(o.Separators) == 0 {
		o.Separators = DefaultSeparators
	}
	return o
}

func (o Options) validate() error {
	switch o.Strategy {
	case StrategyFixed, StrategySentence, StrategyParagraph, StrategyRecursive:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, o.Strategy)
	}
	if o.ChunkSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, o.ChunkSize)
	}
	if o.ChunkOverlap < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOverlap, o.ChunkOverlap)
	}
	return nil
}

// sentenceBoundary matches runs of sentence-terminating punctuation.
var sentenceBoundary = regexp.MustCompile(`[.!?]+`)

// paragraphBoundary matches blank-line separators between paragraphs.
var paragraphBoundary = regexp.MustCompile(`\n[ \t]*\n+`)

// Split divides text into chunks according to opts. Empty or
// whitespace-only input yields an empty result and no error.
func Split(text string, opts Options) ([]string, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	switch opts.Strategy {
	case StrategyFixed:
		return fixedSplit(text, opts.ChunkSize, opts.ChunkOverlap), nil
	case StrategySentence:
		return packUnits(splitSentences(text), " ", opts.ChunkSize), nil
	case StrategyParagraph:
		return paragraphSplit(text, opts.ChunkSize), nil
	case StrategyRecursive:
		chunks := recursiveSplit(text, opts.Separators, opts.ChunkSize)
		return injectOverlap(chunks, opts.ChunkOverlap), nil
	}
	// validate() already rejected everything else.
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, opts.Strategy)
}

// fixedSplit slides a window of size runes, advancing by size-overlap.
// When overlap >= size the advance is forced to size so the loop always
// makes forward progress.
func fixedSplit(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// splitSentences breaks text at [.!?]+ boundaries, keeping the
// punctuation attached to the preceding sentence.
func splitSentences(text string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		s := strings.TrimSpace(text[last:loc[1]])
		if s != "" {
			sentences = append(sentences, s)
		}
		last = loc[1]
	}
	if tail := strings.TrimSpace(text[last:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// packUnits greedily packs consecutive units into chunks while the
// running length plus one separator stays within size. A unit that
// alone exceeds size becomes its own chunk.
func packUnits(units []string, sep string, size int) []string {
	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, u := range units {
		uLen := len([]rune(u))
		if currentLen > 0 && currentLen+len([]rune(sep))+uLen > size {
			flush()
		}
		if currentLen > 0 {
			current.WriteString(sep)
			currentLen += len([]rune(sep))
		}
		current.WriteString(u)
		currentLen += uLen
	}
	flush()
	return chunks
}

// paragraphSplit packs paragraphs like sentences; a single paragraph
// over size is re-split with the fixed window at zero overlap.
func paragraphSplit(text string, size int) []string {
	var paragraphs []string
	for _, p := range paragraphBoundary.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len([]rune(p)) > size {
			paragraphs = append(paragraphs, fixedSplit(p, size, 0)...)
			continue
		}
		paragraphs = append(paragraphs, p)
	}
	// Paragraphs rejoin with "\n\n", so each join charges two runes
	// against the chunk budget, unlike the single-space sentence join.
	return packUnits(paragraphs, "\n\n", size)
}

// recursiveSplit tries separators in priority order. Groups still over
// size descend to the next separator; the empty separator (or an
// exhausted list) falls back to the fixed window.
func recursiveSplit(text string, separators []string, size int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len([]rune(text)) <= size {
		return []string{text}
	}
	if len(separators) == 0 || separators[0] == "" {
		return fixedSplit(text, size, 0)
	}

	sep := separators[0]
	parts := strings.Split(text, sep)

	// Greedily accumulate parts back into groups of at most size runes,
	// re-joining with the separator that split them.
	var groups []string
	var current strings.Builder
	currentLen := 0
	sepLen := len([]rune(sep))

	flush := func() {
		if current.Len() > 0 {
			groups = append(groups, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, part := range parts {
		pLen := len([]rune(part))
		if currentLen > 0 && currentLen+sepLen+pLen > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
			currentLen += sepLen
		}
		current.WriteString(part)
		currentLen += pLen
	}
	flush()

	var chunks []string
	for _, g := range groups {
		if strings.TrimSpace(g) == "" {
			continue
		}
		if len([]rune(g)) > size {
			chunks = append(chunks, recursiveSplit(g, separators[1:], size)...)
			continue
		}
		chunks = append(chunks, g)
	}
	return chunks
}

// injectOverlap prepends the trailing overlap runes of each chunk's
// predecessor (its pre-overlap text) to the chunk. Splitting without
// overlap first and injecting it afterwards keeps the overlap bounded
// regardless of how unevenly the separators divided the text.
//
// The overlap is joined with a single space even when the original
// separator was not whitespace; observed behavior, kept as is.
func injectOverlap(chunks []string, overlap int) []string {
	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}

	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		start := len(prev) - overlap
		if start < 0 {
			start = 0
		}
		out[i] = string(prev[start:]) + " " + chunks[i]
	}
	return out
}
