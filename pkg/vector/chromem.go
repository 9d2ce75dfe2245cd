// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemConfig configures the embedded chromem-go provider.
type ChromemConfig struct {
	// PersistPath, when set, snapshots the database to this directory;
	// empty keeps everything in memory.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress gzips the snapshot file.
	Compress bool `yaml:"compress,omitempty"`
}

// ChromemProvider is the zero-dependency provider: vectors live in
// process memory (optionally snapshotted to disk), which suits a
// single-instance deployment and every test. Scale past one process
// calls for qdrant or pinecone instead.
type ChromemProvider struct {
	db       *chromem.DB
	snapshot string // empty disables persistence
	compress bool

	mu   sync.RWMutex
	cols map[string]*chromem.Collection
}

// NewChromemProvider opens (or creates) the embedded database.
func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	p := &ChromemProvider{
		compress: cfg.Compress,
		cols:     make(map[string]*chromem.Collection),
	}

	if cfg.PersistPath == "" {
		p.db = chromem.NewDB()
		return p, nil
	}

	if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating persist directory: %w", err)
	}
	p.snapshot = filepath.Join(cfg.PersistPath, "vectors.gob")
	if cfg.Compress {
		p.snapshot += ".gz"
	}

	if _, err := os.Stat(p.snapshot); err == nil {
		db, err := chromem.NewPersistentDB(p.snapshot, cfg.Compress)
		if err != nil {
			slog.Warn("vector snapshot unreadable, starting empty", "path", p.snapshot, "error", err)
			p.db = chromem.NewDB()
		} else {
			p.db = db
		}
	} else {
		p.db = chromem.NewDB()
	}
	return p, nil
}

// collection returns (creating if needed) the named collection. The
// embedding function must never run: every vector arrives pre-computed
// from the embedding client.
func (p *ChromemProvider) collection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	col, ok := p.cols[name]
	p.mu.RUnlock()
	if ok {
		return col, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if col, ok := p.cols[name]; ok {
		return col, nil
	}

	col, err := p.db.GetOrCreateCollection(name, nil, func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("vectors must arrive pre-computed")
	})
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", name, err)
	}
	p.cols[name] = col
	return col, nil
}

// save snapshots to disk when persistence is on; failures are logged
// because an in-memory copy still serves reads.
func (p *ChromemProvider) save(op string) {
	if p.snapshot == "" {
		return
	}
	//nolint:staticcheck // Export remains the whole-DB snapshot call.
	if err := p.db.Export(p.snapshot, p.compress, ""); err != nil {
		slog.Warn("vector snapshot failed", "after", op, "error", err)
	}
}

// stringized converts metadata to chromem's string-only form.
func stringized(metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Upsert writes one document.
func (p *ChromemProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}

	content, _ := metadata["content"].(string)
	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  stringized(metadata),
		Embedding: vector,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("upserting %q: %w", id, err)
	}
	p.save("upsert")
	return nil
}

// Search finds the most similar documents.
func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

// SearchWithFilter combines similarity with exact metadata matching.
func (p *ChromemProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	col, err := p.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects topK above the collection size.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = stringized(filter)
	}
	hits, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", collection, err)
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		metadata := make(map[string]any, len(hit.Metadata))
		for k, v := range hit.Metadata {
			metadata[k] = v
		}
		results[i] = Result{
			ID:       hit.ID,
			Score:    hit.Similarity,
			Content:  hit.Content,
			Metadata: metadata,
		}
	}
	return results, nil
}

// Delete removes one document by id.
func (p *ChromemProvider) Delete(ctx context.Context, collection string, id string) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("deleting %q: %w", id, err)
	}
	p.save("delete")
	return nil
}

// DeleteByFilter removes every document matching the filter.
func (p *ChromemProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, stringized(filter), nil); err != nil {
		return fmt.Errorf("deleting by filter: %w", err)
	}
	p.save("delete")
	return nil
}

// CreateCollection warms the named collection; chromem creates lazily.
func (p *ChromemProvider) CreateCollection(_ context.Context, collection string, _ int) error {
	_, err := p.collection(collection)
	return err
}

// DeleteCollection drops a collection and its documents.
func (p *ChromemProvider) DeleteCollection(_ context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("deleting collection %q: %w", collection, err)
	}
	delete(p.cols, collection)
	p.save("drop")
	return nil
}

// Name returns the provider name.
func (p *ChromemProvider) Name() string {
	return "chromem"
}

// Close flushes the snapshot.
func (p *ChromemProvider) Close() error {
	if p.snapshot == "" {
		return nil
	}
	//nolint:staticcheck // Export remains the whole-DB snapshot call.
	return p.db.Export(p.snapshot, p.compress, "")
}

// Ensure ChromemProvider implements Provider.
var _ Provider = (*ChromemProvider)(nil)
