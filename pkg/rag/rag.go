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

// Package rag provides the knowledge lookup layer workflow nodes consult:
// episodic memory (past successful workflow traces), the schema index
// (device data tables and fields), and the document index (vendor
// manuals, internal notes). All three are read-mostly collections in one
// vector store; retrieval is advisory — a source that cannot be reached
// is logged and skipped, never failing the consulting node.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/olav-network/olav/pkg/vector"
)

// Embedder turns text into a vector. The concrete embedding client is an
// external collaborator.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Source names one of the three retrieval sources.
type Source string

const (
	SourceEpisodic Source = "episodic"
	SourceSchema   Source = "schema"
	SourceDocument Source = "document"
)

// Snippet is one ranked retrieval hit with provenance.
type Snippet struct {
	Source   Source         `json:"source"`
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Trace is a past successful workflow run recorded into episodic memory
// to bias later plan selection.
type Trace struct {
	Query        string `json:"query"`
	WorkflowKind string `json:"workflow_kind"`
	Summary      string `json:"summary"`
}

// SchemaEntry is one row of the device data catalogue.
type SchemaEntry struct {
	Table       string   `json:"table"`
	Fields      []string `json:"fields"`
	Description string   `json:"description"`
	Platform    string   `json:"platform,omitempty"`
}

// Searcher retrieves from the three sources. Construction wires one
// vector provider and per-source collection names; the embedder runs
// once per query.
type Searcher struct {
	provider vector.Provider
	embedder Embedder
	logger   *slog.Logger

	collections map[Source]string
}

// NewSearcher builds a Searcher over provider using the given collection
// names (empty names fall back to the source name itself).
func NewSearcher(provider vector.Provider, embedder Embedder, episodic, schema, document string, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	pickName := func(name string, src Source) string {
		if name == "" {
			return string(src)
		}
		return name
	}
	return &Searcher{
		provider: provider,
		embedder: embedder,
		logger:   logger,
		collections: map[Source]string{
			SourceEpisodic: pickName(episodic, SourceEpisodic),
			SourceSchema:   pickName(schema, SourceSchema),
			SourceDocument: pickName(document, SourceDocument),
		},
	}
}

// Search retrieves the top k snippets for query from one source. A
// failure to reach the store or the embedder is logged and returns an
// empty result, so callers proceed without retrieval.
func (s *Searcher) Search(ctx context.Context, src Source, query string, k int) []Snippet {
	collection, ok := s.collections[src]
	if !ok {
		s.logger.Warn("unknown retrieval source", "source", string(src))
		return nil
	}
	if k <= 0 {
		k = 5
	}

	vec, err := s.embedder.Embed(ctx, sanitizeQuery(query))
	if err != nil {
		s.logger.Warn("embedding failed, skipping retrieval", "source", string(src), "error", err)
		return nil
	}

	results, err := s.provider.Search(ctx, collection, vec, k)
	if err != nil {
		s.logger.Warn("retrieval failed, proceeding without it", "source", string(src), "error", err)
		return nil
	}

	snippets := make([]Snippet, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, Snippet{
			Source:   src,
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Score,
			Metadata: r.Metadata,
		})
	}
	return snippets
}

// SearchAll queries every source and returns the union, per-source
// ranked. Used by diagnostic nodes that want the widest context.
func (s *Searcher) SearchAll(ctx context.Context, query string, kPerSource int) []Snippet {
	var out []Snippet
	for _, src := range []Source{SourceEpisodic, SourceSchema, SourceDocument} {
		out = append(out, s.Search(ctx, src, query, kPerSource)...)
	}
	return out
}

// RecordTrace writes a successful workflow trace into episodic memory.
// Failures are logged, not returned: recording memory must never fail
// the workflow that produced it.
func (s *Searcher) RecordTrace(ctx context.Context, t Trace) {
	vec, err := s.embedder.Embed(ctx, t.Query)
	if err != nil {
		s.logger.Warn("embedding trace failed, not recorded", "error", err)
		return
	}
	id := uuid.NewString()
	metadata := map[string]any{
		"content":       fmt.Sprintf("%s → %s: %s", t.Query, t.WorkflowKind, t.Summary),
		"query":         t.Query,
		"workflow_kind": t.WorkflowKind,
		"recorded_at":   time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.provider.Upsert(ctx, s.collections[SourceEpisodic], id, vec, metadata); err != nil {
		s.logger.Warn("recording trace failed", "error", err)
	}
}

// AddSchemaEntry indexes one catalogue row into the schema index.
func (s *Searcher) AddSchemaEntry(ctx context.Context, e SchemaEntry) error {
	text := fmt.Sprintf("%s: %s", e.Table, e.Description)
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding schema entry %q: %w", e.Table, err)
	}
	metadata := map[string]any{
		"content":     text,
		"table":       e.Table,
		"description": e.Description,
	}
	if e.Platform != "" {
		metadata["platform"] = e.Platform
	}
	for i, f := range e.Fields {
		metadata[fmt.Sprintf("field_%d", i)] = f
	}
	return s.provider.Upsert(ctx, s.collections[SourceSchema], e.Table, vec, metadata)
}

// IndexDocument chunks and indexes one document into the document index.
// The id of each chunk is "docID#ordinal", so re-indexing the same
// document overwrites the chunks at the same ordinals; earlier chunks
// beyond the new chunk count are left in the index.
func (s *Searcher) IndexDocument(ctx context.Context, chunker Chunker, docID, content string, metadata map[string]any) error {
	chunks := chunker.Chunk(content)
	for i, chunk := range chunks {
		vec, err := s.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embedding chunk %d of %q: %w", i, docID, err)
		}
		md := map[string]any{"content": chunk, "doc_id": docID, "chunk": i}
		for k, v := range metadata {
			md[k] = v
		}
		id := fmt.Sprintf("%s#%d", docID, i)
		if err := s.provider.Upsert(ctx, s.collections[SourceDocument], id, vec, md); err != nil {
			return fmt.Errorf("indexing chunk %d of %q: %w", i, docID, err)
		}
	}
	return nil
}
