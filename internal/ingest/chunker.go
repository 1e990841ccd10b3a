package ingest

import (
	"strings"
)

// DefaultChunkSize is the target chunk size in characters. Chunks split on
// paragraph boundaries where possible so a chunk stays a coherent unit of
// translation work.
const DefaultChunkSize = 2000

// SplitChunks cuts document text into bounded chunks. Paragraphs are packed
// greedily up to chunkSize; a single oversized paragraph is hard-split
// rather than producing an unbounded chunk.
func SplitChunks(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	chunks := make([]string, 0)
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if len(para) > chunkSize {
			flush()
			for _, piece := range hardSplit(para, chunkSize) {
				chunks = append(chunks, piece)
			}
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(normalized, "\n\n")
	ret := make([]string, 0, len(raw))
	for _, para := range raw {
		para = strings.TrimSpace(para)
		if para != "" {
			ret = append(ret, para)
		}
	}
	return ret
}

func hardSplit(text string, size int) []string {
	ret := make([]string, 0, len(text)/size+1)
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		ret = append(ret, string(runes[start:end]))
	}
	return ret
}
