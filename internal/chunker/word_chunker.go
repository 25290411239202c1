package chunker

import (
	"fmt"
	"strings"

	"ragqa/internal/domain"
)

// WordChunker splits text into fixed-size word windows that overlap by a fixed number of words.
type WordChunker struct {
	chunkSize int
	overlap   int
}

// NewWordChunker returns a chunker emitting windows of chunkSize words, each
// starting chunkSize-overlap words after the previous one.
func NewWordChunker(chunkSize, overlap int) (*WordChunker, error) {
	if err := validateWindow(chunkSize, overlap); err != nil {
		return nil, err
	}
	return &WordChunker{chunkSize: chunkSize, overlap: overlap}, nil
}

func (c *WordChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	words := strings.Fields(document.Content)
	spans := windows(len(words), c.chunkSize, c.overlap)
	chunks := make([]domain.Chunk, 0, len(spans))
	for idx, sp := range spans {
		chunks = append(chunks, domain.Chunk{
			Text:           strings.Join(words[sp.start:sp.end], " "),
			DocID:          document.ID,
			SourceFilename: document.Filename,
			Index:          idx,
		})
	}
	return chunks, nil
}

// ExpectedChunks returns the number of chunks produced for n units.
func ExpectedChunks(n, size, overlap int) int {
	return len(windows(n, size, overlap))
}

type span struct{ start, end int }

// windows computes [start,end) spans over n units. The last window may be
// shorter than size; it is kept, never dropped.
func windows(n, size, overlap int) []span {
	if n == 0 {
		return nil
	}
	if n <= size {
		return []span{{0, n}}
	}
	step := size - overlap
	var out []span
	for start := 0; ; start += step {
		end := start + size
		if end >= n {
			out = append(out, span{start, n})
			break
		}
		out = append(out, span{start, end})
	}
	return out
}

func validateWindow(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", domain.ErrConfiguration, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", domain.ErrConfiguration, overlap, size)
	}
	return nil
}
