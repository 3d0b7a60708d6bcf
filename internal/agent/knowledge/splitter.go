package knowledge

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// MetaKeyStartIndex holds a chunk's rune offset in its source document.
const MetaKeyStartIndex = "start_index"

// DefaultSeparators are tried in order: paragraphs, lines, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveSplitter cuts text at the coarsest separator that yields pieces
// under ChunkSize, then merges neighbouring pieces back up to ChunkSize with
// ChunkOverlap runes shared between consecutive chunks. Separators stay at
// the start of the piece that follows them. Sizes are counted in runes.
type RecursiveSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

func NewRecursiveSplitter(chunkSize, chunkOverlap int) (*RecursiveSplitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap > chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be within [0, %d]", chunkOverlap, chunkSize)
	}
	return &RecursiveSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separators:   DefaultSeparators,
	}, nil
}

// Transform splits every document into chunks that keep the source metadata
// and record their start offset under MetaKeyStartIndex.
func (s *RecursiveSplitter) Transform(_ context.Context, src []*schema.Document, _ ...document.TransformerOption) ([]*schema.Document, error) {
	var chunks []*schema.Document
	for _, doc := range src {
		if doc == nil {
			continue
		}
		index, prevLen := 0, 0
		for i, text := range s.SplitText(doc.Content) {
			offset := index + prevLen - s.ChunkOverlap
			if offset < 0 {
				offset = 0
			}
			index = runeIndex(doc.Content, text, offset)
			prevLen = utf8.RuneCountInString(text)

			meta := make(map[string]any, len(doc.MetaData)+1)
			for k, v := range doc.MetaData {
				meta[k] = v
			}
			meta[MetaKeyStartIndex] = index
			chunks = append(chunks, &schema.Document{
				ID:       fmt.Sprintf("%s_%d", doc.ID, i),
				Content:  text,
				MetaData: meta,
			})
		}
	}
	return chunks, nil
}

// StartIndex is the offset recorded by Transform, or -1.
func StartIndex(chunk *schema.Document) int {
	if chunk == nil {
		return -1
	}
	if v, ok := chunk.MetaData[MetaKeyStartIndex].(int); ok {
		return v
	}
	return -1
}

func (s *RecursiveSplitter) SplitText(text string) []string {
	return s.split(text, s.Separators)
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	separator := ""
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitKeepStart(text, separator) {
		if runeLen(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge joins pieces into chunks of at most ChunkSize runes. When a chunk is
// emitted, pieces are dropped from its front until at most ChunkOverlap runes
// remain to seed the next one.
func (s *RecursiveSplitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.ChunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.ChunkOverlap || (total+n > s.ChunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func splitKeepStart(text, separator string) []string {
	var pieces []string
	if separator == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	parts := strings.Split(text, separator)
	if parts[0] != "" {
		pieces = append(pieces, parts[0])
	}
	for _, p := range parts[1:] {
		pieces = append(pieces, separator+p)
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// runeIndex finds sub in s at or after the rune offset from, returning a rune
// offset or -1.
func runeIndex(s, sub string, from int) int {
	byteFrom := 0
	for i := 0; i < from && byteFrom < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[byteFrom:])
		byteFrom += size
	}
	idx := strings.Index(s[byteFrom:], sub)
	if idx < 0 {
		return -1
	}
	return from + utf8.RuneCountInString(s[byteFrom:byteFrom+idx])
}

var _ document.Transformer = (*RecursiveSplitter)(nil)
