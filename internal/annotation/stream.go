package annotation

import "fmt"

// ChunkType distinguishes the reasoning channel from the translation itself.
type ChunkType string

const (
	ChunkThinking ChunkType = "thinking"
	ChunkContent  ChunkType = "content"
)

// StreamChunk is one incremental piece of a streamed translation.
type StreamChunk struct {
	Type ChunkType `json:"type"`
	Text string    `json:"text"`
}

// Validate rejects chunk types the accumulator does not know.
func (c StreamChunk) Validate() error {
	switch c.Type {
	case ChunkThinking, ChunkContent:
		return nil
	default:
		return fmt.Errorf("annotation: unknown chunk type %q", c.Type)
	}
}

// Translation is the cached form of a finished (or checkpointed) stream.
type Translation struct {
	Thinking string `json:"thinking"`
	Content  string `json:"content"`
}

// IsEmpty reports whether nothing was streamed yet.
func (t Translation) IsEmpty() bool { return t.Thinking == "" && t.Content == "" }

// Streaming is the live accumulator shown while a translation streams in.
// Error holds the collaborator's failure message verbatim; it is never cached.
type Streaming struct {
	Thinking    string `json:"thinking"`
	Content     string `json:"content"`
	IsStreaming bool   `json:"isStreaming"`
	Error       string `json:"error,omitempty"`
}

// Translation projects the cacheable part of the accumulator.
func (s Streaming) Translation() Translation {
	return Translation{Thinking: s.Thinking, Content: s.Content}
}

// Append adds a chunk to the matching channel. Unknown chunk types leave the
// accumulator unchanged.
func (s Streaming) Append(chunk StreamChunk) Streaming {
	switch chunk.Type {
	case ChunkThinking:
		s.Thinking += chunk.Text
	case ChunkContent:
		s.Content += chunk.Text
	}
	return s
}

// RestoredStreaming builds an idle accumulator from a cached translation.
func RestoredStreaming(t Translation) Streaming {
	return Streaming{Thinking: t.Thinking, Content: t.Content}
}
