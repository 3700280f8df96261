package splitter

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target size for each chunk in characters
	DefaultChunkSize = 500

	// DefaultChunkOverlap is the number of characters shared between
	// neighbouring chunks
	DefaultChunkOverlap = 50
)

// DefaultSeparators is the split priority: paragraph break, line break,
// CJK sentence punctuation, western sentence punctuation, space, and
// finally a hard cut on characters.
var DefaultSeparators = []string{
	"\n\n",
	"\n",
	"。", "！", "？", "；",
	". ", "! ", "? ", "; ",
	" ",
	"",
}

// Splitter splits text into overlapping chunks, preferring the earliest
// separator in the priority list that still occurs in the text. Pieces
// that remain too large fall through to the next separator. Sizes are
// measured in runes so CJK text chunks the same as ASCII.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	separators   []string
}

// New creates a splitter. Non-positive sizes fall back to the defaults;
// an overlap that is not smaller than the chunk size is clamped.
func New(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Splitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		separators:   DefaultSeparators,
	}
}

// Split splits text into chunks of at most ChunkSize runes. Chunks are
// trimmed and empty chunks dropped.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= s.ChunkSize {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	// First separator that actually occurs; "" always matches.
	sepIdx := len(seps) - 1
	for i, sep := range seps {
		if sep == "" || strings.Contains(text, sep) {
			sepIdx = i
			break
		}
	}
	sep := seps[sepIdx]
	if sep == "" {
		return s.hardCut(text)
	}

	parts := splitAfter(text, sep)
	rest := seps[sepIdx+1:]

	var chunks []string
	var pending []string
	for _, part := range parts {
		if utf8.RuneCountInString(part) > s.ChunkSize {
			// Oversized part: flush what we have and recurse with the
			// remaining separators.
			chunks = append(chunks, s.merge(pending)...)
			pending = nil
			chunks = append(chunks, s.split(part, rest)...)
			continue
		}
		pending = append(pending, part)
	}
	return append(chunks, s.merge(pending)...)
}

// merge greedily joins consecutive parts into chunks of at most ChunkSize
// runes, re-seeding each new chunk with up to ChunkOverlap runes of the
// previous one.
func (s *Splitter) merge(parts []string) []string {
	if len(parts) == 0 {
		return nil
	}

	var chunks []string
	var window []string
	total := 0

	flush := func() {
		if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, part := range parts {
		plen := utf8.RuneCountInString(part)
		if total+plen > s.ChunkSize && len(window) > 0 {
			flush()
			// Drop leading parts until the carried tail fits the overlap
			// and leaves room for the incoming part.
			for len(window) > 0 && (total > s.ChunkOverlap || total+plen > s.ChunkSize) {
				total -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
		}
		window = append(window, part)
		total += plen
	}
	flush()
	return chunks
}

// hardCut slices text into fixed windows when no separator matched.
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	stride := s.ChunkSize - s.ChunkOverlap

	var chunks []string
	for start := 0; start < len(runes); start += stride {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// splitAfter splits text on sep, keeping the separator attached to the
// end of each piece so punctuation survives chunking.
func splitAfter(text, sep string) []string {
	splits := strings.Split(text, sep)
	parts := make([]string, 0, len(splits))
	for i, piece := range splits {
		if i < len(splits)-1 {
			piece += sep
		}
		if piece != "" {
			parts = append(parts, piece)
		}
	}
	return parts
}
