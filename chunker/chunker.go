// Package chunker splits extracted document text into overlapping,
// sentence-aligned chunks sized for embedding.
package chunker

import (
	"strings"
	"unicode"

	"github.com/simplyai/simplychat/tokenizer"
)

const (
	// DefaultChunkSize is the target chunk size in tokens.
	DefaultChunkSize = 512
	// DefaultOverlap is the token overlap carried between consecutive chunks.
	DefaultOverlap = 50
	// DefaultMinChunkTokens is the smallest useful trailing chunk. A final
	// chunk below this is dropped unless it is the only one.
	DefaultMinChunkTokens = 50

	// longUnsplittable triggers the paragraph fallback when sentence
	// splitting finds nothing to split in a long text.
	longUnsplittable = 500
)

// CountFunc estimates the token count of a string.
type CountFunc func(string) int

// Config controls the chunking behaviour. Zero-value fields are replaced
// with defaults; a negative Overlap disables overlap entirely.
type Config struct {
	ChunkSize int
	Overlap   int
	MinTokens int
	Count     CountFunc
}

// Chunk is one slice of a document, with its position in the source text.
type Chunk struct {
	Content    string
	Index      int
	PageNumber int // 1-based, 0 when the source has no pages
	StartChar  int
	EndChar    int
	TokenCount int
}

// Chunker converts document text into store-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = DefaultOverlap
	} else if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 4
	}
	if cfg.MinTokens <= 0 {
		cfg.MinTokens = DefaultMinChunkTokens
	}
	if cfg.Count == nil {
		cfg.Count = tokenizer.Count
	}
	return &Chunker{cfg: cfg}
}

// ChunkText splits a flat document into chunks. Offsets are byte positions
// in text.
func (c *Chunker) ChunkText(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	chunks := c.chunkAt(text, 0, 0, 0)
	return c.dropShortTail(chunks)
}

// ChunkPages splits a paged document (PDF pages, spreadsheet sheets),
// chunking each page separately so no chunk straddles a page boundary.
// Page numbers are 1-based and offsets run through the joined document,
// where pages are separated by a blank line.
func (c *Chunker) ChunkPages(pages []string) []Chunk {
	var chunks []Chunk
	offset := 0
	for i, page := range pages {
		if strings.TrimSpace(page) != "" {
			chunks = append(chunks, c.chunkAt(page, offset, i+1, len(chunks))...)
		}
		offset += len(page) + 2
	}
	return c.dropShortTail(chunks)
}

// chunkAt packs the sentences of text into chunks of at most ChunkSize
// tokens, carrying up to Overlap tokens of trailing sentences into the next
// chunk. A single sentence larger than ChunkSize is split on words.
func (c *Chunker) chunkAt(text string, base, page, startIndex int) []Chunk {
	spans := splitSentences(text)

	var chunks []Chunk
	emit := func(group []span) {
		if len(group) == 0 {
			return
		}
		content := joinSpans(group)
		chunks = append(chunks, Chunk{
			Content:    content,
			Index:      startIndex + len(chunks),
			PageNumber: page,
			StartChar:  base + group[0].start,
			EndChar:    base + group[len(group)-1].end,
			TokenCount: c.cfg.Count(content),
		})
	}

	var current []span
	currentTokens := 0

	for _, s := range spans {
		tokens := c.cfg.Count(s.text)

		if tokens > c.cfg.ChunkSize {
			emit(current)
			current, currentTokens = nil, 0
			for _, group := range c.splitOversized(s) {
				emit(group)
			}
			continue
		}

		if currentTokens+tokens > c.cfg.ChunkSize && len(current) > 0 {
			emit(current)
			current = c.overlapTail(current)
			currentTokens = 0
			for _, o := range current {
				currentTokens += c.cfg.Count(o.text)
			}
		}

		current = append(current, s)
		currentTokens += tokens
	}
	emit(current)

	return chunks
}

// overlapTail returns the trailing sentences of group totalling at most
// Overlap tokens, preserving order.
func (c *Chunker) overlapTail(group []span) []span {
	var tail []span
	tokens := 0
	for i := len(group) - 1; i >= 0; i-- {
		t := c.cfg.Count(group[i].text)
		if tokens+t > c.cfg.Overlap {
			break
		}
		tail = append([]span{group[i]}, tail...)
		tokens += t
	}
	return tail
}

// splitOversized breaks a sentence that exceeds ChunkSize into word groups,
// overlapping a few trailing words between groups.
func (c *Chunker) splitOversized(s span) [][]span {
	words := splitWords(s)

	var groups [][]span
	var current []span
	currentTokens := 0

	for _, w := range words {
		tokens := c.cfg.Count(w.text)
		if currentTokens+tokens > c.cfg.ChunkSize && len(current) > 0 {
			groups = append(groups, current)
			tail := c.overlapTail(current)
			current = append([]span(nil), tail...)
			currentTokens = 0
			for _, o := range current {
				currentTokens += c.cfg.Count(o.text)
			}
		}
		current = append(current, w)
		currentTokens += tokens
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// dropShortTail removes a trailing fragment below MinTokens. A document
// whose entire text is that small keeps its single chunk.
func (c *Chunker) dropShortTail(chunks []Chunk) []Chunk {
	if len(chunks) > 1 && chunks[len(chunks)-1].TokenCount < c.cfg.MinTokens {
		chunks = chunks[:len(chunks)-1]
	}
	return chunks
}

// span is a piece of source text with its byte offsets.
type span struct {
	text  string
	start int
	end   int
}

func joinSpans(group []span) string {
	parts := make([]string, len(group))
	for i, s := range group {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

// splitSentences splits on a terminator followed by whitespace and an
// upper-case letter. Long text that yields a single segment falls back to
// paragraph splitting, then to line splitting.
func splitSentences(text string) []span {
	var spans []span
	runes := []rune(text)

	bytePos := 0
	byteStart := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		size := len(string(r))
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			// Look past the whitespace run for an upper-case start
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			if j < len(runes) && unicode.IsUpper(runes[j]) {
				spans = appendSpan(spans, text, byteStart, bytePos+size)
				gap := len(string(runes[i+1 : j]))
				byteStart = bytePos + size + gap
				bytePos += size + gap
				i = j - 1
				continue
			}
		}
		bytePos += size
	}
	spans = appendSpan(spans, text, byteStart, len(text))

	if len(spans) <= 1 && len(text) > longUnsplittable {
		if paras := splitOn(text, "\n\n"); len(paras) > 1 {
			return paras
		}
		if lines := splitOn(text, "\n"); len(lines) > 1 {
			return lines
		}
	}
	return spans
}

// splitOn splits text on a separator, keeping byte offsets and skipping
// blank segments.
func splitOn(text, sep string) []span {
	var spans []span
	pos := 0
	for {
		idx := strings.Index(text[pos:], sep)
		if idx < 0 {
			spans = appendSpan(spans, text, pos, len(text))
			break
		}
		spans = appendSpan(spans, text, pos, pos+idx)
		pos += idx + len(sep)
	}
	return spans
}

// appendSpan trims the segment [start,end) and appends it unless blank,
// adjusting offsets to the trimmed text.
func appendSpan(spans []span, text string, start, end int) []span {
	seg := text[start:end]
	trimmed := strings.TrimSpace(seg)
	if trimmed == "" {
		return spans
	}
	lead := strings.Index(seg, trimmed)
	s := start + lead
	return append(spans, span{text: trimmed, start: s, end: s + len(trimmed)})
}

// splitWords splits a span on whitespace, keeping offsets into the source.
func splitWords(s span) []span {
	var words []span
	i := 0
	for i < len(s.text) {
		for i < len(s.text) && isSpaceByte(s.text[i]) {
			i++
		}
		j := i
		for j < len(s.text) && !isSpaceByte(s.text[j]) {
			j++
		}
		if j > i {
			words = append(words, span{text: s.text[i:j], start: s.start + i, end: s.start + j})
		}
		i = j
	}
	return words
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
