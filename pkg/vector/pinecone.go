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

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeConfig configures the managed Pinecone provider.
type PineconeConfig struct {
	// APIKey is required.
	APIKey string `yaml:"api_key"`

	// Host overrides the default API host.
	Host string `yaml:"host,omitempty"`

	// IndexName is the index used when a collection name is empty.
	IndexName string `yaml:"index_name"`

	// Environment is the Pinecone environment (e.g. "us-west1-gcp").
	Environment string `yaml:"environment,omitempty"`
}

// PineconeProvider backs the knowledge collections with Pinecone.
// Indexes are managed through Pinecone's own control plane — the
// provider reads and writes but never creates or drops them.
type PineconeProvider struct {
	client       *pinecone.Client
	defaultIndex string
}

// NewPineconeProvider builds a client for the configured project.
func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api_key is required")
	}

	params := pinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}
	client, err := pinecone.NewClient(params)
	if err != nil {
		return nil, fmt.Errorf("creating pinecone client: %w", err)
	}

	index := cfg.IndexName
	if index == "" {
		index = "olav-index"
	}
	return &PineconeProvider{client: client, defaultIndex: index}, nil
}

// Name returns the provider name.
func (p *PineconeProvider) Name() string {
	return "pinecone"
}

// indexFor maps an empty collection name onto the configured default.
func (p *PineconeProvider) indexFor(collection string) string {
	if collection == "" {
		return p.defaultIndex
	}
	return collection
}

// connect opens a data-plane connection to the named index; callers
// close it when the operation finishes.
func (p *PineconeProvider) connect(ctx context.Context, collection string) (*pinecone.IndexConnection, error) {
	name := p.indexFor(collection)
	index, err := p.client.DescribeIndex(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("describing index %q: %w", name, err)
	}
	conn, err := p.client.Index(pinecone.NewIndexConnParams{Host: index.Host})
	if err != nil {
		return nil, fmt.Errorf("connecting to index %q: %w", name, err)
	}
	return conn, nil
}

// toStruct converts a plain map into the protobuf struct the API wants.
func toStruct(m map[string]any) (*structpb.Struct, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return structpb.NewStruct(m)
}

// Upsert writes one vector with its metadata.
func (p *PineconeProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	md, err := toStruct(metadata)
	if err != nil {
		return fmt.Errorf("converting metadata: %w", err)
	}
	if _, err := conn.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       id,
		Values:   vector,
		Metadata: md,
	}}); err != nil {
		return fmt.Errorf("upserting vector %q: %w", id, err)
	}
	return nil
}

// Search finds the most similar vectors.
func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

// SearchWithFilter combines similarity search with metadata filtering.
func (p *PineconeProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	mdFilter, err := toStruct(filter)
	if err != nil {
		return nil, fmt.Errorf("converting filter: %w", err)
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  mdFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results := make([]Result, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}
		r := Result{ID: match.Vector.Id, Score: match.Score}
		if match.Vector.Metadata != nil {
			r.Metadata = match.Vector.Metadata.AsMap()
			if content, ok := r.Metadata["content"].(string); ok {
				r.Content = content
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// Delete removes one vector by id.
func (p *PineconeProvider) Delete(ctx context.Context, collection string, id string) error {
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("deleting vector %q: %w", id, err)
	}
	return nil
}

// DeleteByFilter removes every vector matching the filter.
func (p *PineconeProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	conn, err := p.connect(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	mdFilter, err := toStruct(filter)
	if err != nil {
		return fmt.Errorf("converting filter: %w", err)
	}
	if err := conn.DeleteVectorsByFilter(ctx, mdFilter); err != nil {
		return fmt.Errorf("deleting by filter: %w", err)
	}
	return nil
}

// CreateCollection verifies the index exists; Pinecone indexes are
// provisioned through their control plane, not by this provider.
func (p *PineconeProvider) CreateCollection(ctx context.Context, collection string, _ int) error {
	name := p.indexFor(collection)
	indexes, err := p.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("listing indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == name {
			return nil
		}
	}
	return fmt.Errorf("index %q does not exist; provision it in Pinecone first", name)
}

// DeleteCollection is not supported; indexes are dropped through
// Pinecone's control plane.
func (p *PineconeProvider) DeleteCollection(_ context.Context, collection string) error {
	return fmt.Errorf("drop index %q through the Pinecone console or API", p.indexFor(collection))
}

// Close is a no-op; the client holds no persistent connection.
func (p *PineconeProvider) Close() error {
	return nil
}

// Ensure PineconeProvider implements Provider.
var _ Provider = (*PineconeProvider)(nil)
