package chunker

import (
	"strings"

	"ragqa/internal/domain"
	"ragqa/internal/textutil"
)

// SentenceChunker splits text into sentence-based chunks with overlap.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
}

// NewSentenceChunker groups sentencesPerChunk sentences per chunk, repeating
// overlapSentences of them at the start of the next chunk.
func NewSentenceChunker(sentencesPerChunk, overlapSentences int) (*SentenceChunker, error) {
	if err := validateWindow(sentencesPerChunk, overlapSentences); err != nil {
		return nil, err
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
	}, nil
}

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	kept := textutil.Sentences(document.Content)
	spans := windows(len(kept), c.sentencesPerChunk, c.overlapSentences)
	chunks := make([]domain.Chunk, 0, len(spans))
	for idx, sp := range spans {
		chunks = append(chunks, domain.Chunk{
			Text:           strings.Join(kept[sp.start:sp.end], " "),
			DocID:          document.ID,
			SourceFilename: document.Filename,
			Index:          idx,
		})
	}
	return chunks, nil
}
