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

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olav-network/olav/pkg/vector"
)

// hashEmbedder is a deterministic test embedder: same text, same vector.
var hashEmbedder = EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r) / 1000
	}
	return vec, nil
})

func newTestSearcher(t *testing.T) *Searcher {
	t.Helper()
	provider, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)
	return NewSearcher(provider, hashEmbedder, "", "", "", nil)
}

func TestSchemaSearchRanksBySimilarity(t *testing.T) {
	s := newTestSearcher(t)
	ctx := context.Background()

	require.NoError(t, s.AddSchemaEntry(ctx, SchemaEntry{
		Table:       "bgp_neighbors",
		Fields:      []string{"peer", "state", "uptime"},
		Description: "BGP neighbor sessions and their states",
	}))
	require.NoError(t, s.AddSchemaEntry(ctx, SchemaEntry{
		Table:       "interfaces",
		Fields:      []string{"name", "admin_status", "oper_status"},
		Description: "physical and logical interface status",
	}))

	hits := s.Search(ctx, SourceSchema, "bgp_neighbors: BGP neighbor sessions and their states", 2)
	require.NotEmpty(t, hits)
	assert.Equal(t, "bgp_neighbors", hits[0].ID)
	assert.Equal(t, SourceSchema, hits[0].Source)
	assert.NotEmpty(t, hits[0].Content)
}

func TestEpisodicRecordAndRecall(t *testing.T) {
	s := newTestSearcher(t)
	ctx := context.Background()

	s.RecordTrace(ctx, Trace{
		Query:        "check R1 BGP status",
		WorkflowKind: "QueryDiagnostic",
		Summary:      "queried bgp_neighbors on R1, all sessions established",
	})

	hits := s.Search(ctx, SourceEpisodic, "check R1 BGP status", 3)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Content, "QueryDiagnostic")
	assert.Equal(t, "QueryDiagnostic", hits[0].Metadata["workflow_kind"])
}

func TestSearchFailureIsAdvisory(t *testing.T) {
	s := NewSearcher(failingProvider{}, hashEmbedder, "", "", "", nil)
	hits := s.Search(context.Background(), SourceDocument, "anything", 5)
	assert.Empty(t, hits)

	s = NewSearcher(vector.NilProvider{}, EmbedderFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedder down")
	}), "", "", "", nil)
	hits = s.Search(context.Background(), SourceDocument, "anything", 5)
	assert.Empty(t, hits)
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bgp.md"), []byte("# BGP runbook\n\nCheck neighbors first."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.bin"), []byte{0x1}, 0o600))

	s := newTestSearcher(t)
	n, err := s.IngestDirectory(context.Background(), NewOverlapChunker(0, 0), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits := s.Search(context.Background(), SourceDocument, "# BGP runbook\n\nCheck neighbors first.", 1)
	require.NotEmpty(t, hits)
	assert.Equal(t, "bgp.md", hits[0].Metadata["doc_id"])
}

func TestOverlapChunker(t *testing.T) {
	c := NewOverlapChunker(100, 20)

	assert.Nil(t, c.Chunk("   "))
	assert.Equal(t, []string{"short"}, c.Chunk("short"))

	long := strings.Repeat("alpha beta gamma delta. ", 40)
	chunks := c.Chunk(long)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		// Size plus the carried overlap and joiner.
		assert.LessOrEqual(t, len(chunk), 100+20+2)
	}
	// Consecutive chunks share the overlap tail.
	tail := chunks[0][len(chunks[0])-20:]
	assert.True(t, strings.HasPrefix(chunks[1], tail))
}

type failingProvider struct{ vector.NilProvider }

func (failingProvider) Search(context.Context, string, []float32, int) ([]vector.Result, error) {
	return nil, errors.New("store unreachable")
}
