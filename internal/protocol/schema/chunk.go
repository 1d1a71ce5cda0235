package schema

import "strings"

// ChunkSize is the largest piece a metadata document travels in.
const ChunkSize = 128

// Chunk splits text into pieces of at most size characters. Multi-byte
// characters are never split. Empty text yields one empty chunk so the
// receiver always sees a frame.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = ChunkSize
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{""}
	}
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

func Join(chunks []string) string {
	return strings.Join(chunks, "")
}
