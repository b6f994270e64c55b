package service

import (
	"hash/fnv"
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// ChunkText splits text into rune windows of size with overlap runes shared between
// neighbours. Blank chunks are dropped.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{string(runes)}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
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

// normalizeChunk trims, collapses whitespace and lowercases.
func normalizeChunk(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// chunkDigest is the 64-bit FNV-1a hash of the normalized chunk.
func chunkDigest(normalized string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return h.Sum64()
}
