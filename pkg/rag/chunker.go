// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rag

import "strings"

// Chunker splits document content into pieces sized for indexing.
// Chunks too small lose context; too large dilute relevance.
type Chunker interface {
	Chunk(content string) []string
}

// OverlapChunker splits at paragraph boundaries where possible, packing
// paragraphs up to Size characters per chunk with Overlap characters of
// carried-over tail between consecutive chunks.
type OverlapChunker struct {
	// Size is the target chunk length in characters.
	Size int

	// Overlap is how much of a chunk's tail is repeated at the head of
	// the next chunk, preserving context across the boundary.
	Overlap int
}

// NewOverlapChunker builds a chunker. A non-positive size becomes 1000;
// a negative overlap, or one not smaller than size, becomes size/5 (200
// at the default size).
func NewOverlapChunker(size, overlap int) *OverlapChunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &OverlapChunker{Size: size, Overlap: overlap}
}

// Chunk splits content. Paragraphs (blank-line separated) are kept whole
// when they fit; a paragraph longer than Size is hard-split at word
// boundaries.
func (c *OverlapChunker) Chunk(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= c.Size {
		return []string{content}
	}

	var pieces []string
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= c.Size {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitWords(para, c.Size)...)
	}

	// Pack pieces into chunks of up to Size with overlap carry-over.
	var chunks []string
	var current strings.Builder
	for _, p := range pieces {
		if current.Len() > 0 && current.Len()+len(p)+2 > c.Size {
			chunk := current.String()
			chunks = append(chunks, chunk)
			current.Reset()
			if c.Overlap > 0 && len(chunk) > c.Overlap {
				current.WriteString(chunk[len(chunk)-c.Overlap:])
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitWords hard-splits text into at-most-size pieces without breaking
// words.
func splitWords(text string, size int) []string {
	words := strings.Fields(text)
	var out []string
	var b strings.Builder
	for _, w := range words {
		if b.Len() > 0 && b.Len()+len(w)+1 > size {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// sanitizeQuery strips prompt-structure markers from user-derived query
// text before it is embedded or echoed into retrieval prompts.
func sanitizeQuery(input string) string {
	sanitized := input
	for _, marker := range []string{
		"SYSTEM:", "System:", "system:",
		"ASSISTANT:", "Assistant:", "assistant:",
		"Ignore previous instructions", "ignore previous instructions",
		"```",
	} {
		sanitized = strings.ReplaceAll(sanitized, marker, "")
	}
	return strings.TrimSpace(sanitized)
}
