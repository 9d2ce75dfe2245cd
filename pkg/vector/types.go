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

// Package vector abstracts the vector store backing the knowledge lookup
// layer. Providers store pre-computed embeddings — embedding text is the
// embedding client's concern, an external collaborator.
package vector

import (
	"context"
	"fmt"
)

// Provider is the narrow interface every vector store implementation
// satisfies.
type Provider interface {
	// Upsert adds or updates a document in a collection.
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	// Search performs vector similarity search.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithFilter combines similarity search with metadata filtering.
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// Delete removes a document from a collection by id.
	Delete(ctx context.Context, collection string, id string) error

	// DeleteByFilter removes every document matching the filter.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	// CreateCollection creates a collection sized for vectorDimension.
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error

	// DeleteCollection removes a collection and all its documents.
	DeleteCollection(ctx context.Context, collection string) error

	// Name identifies the provider implementation.
	Name() string

	// Close releases resources.
	Close() error
}

// Result is one similarity-search hit.
type Result struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NilProvider is a Provider that stores nothing and finds nothing, used
// when no vector store is configured. Searches return empty results
// rather than errors so retrieval-augmented nodes degrade gracefully.
type NilProvider struct{}

func (NilProvider) Upsert(context.Context, string, string, []float32, map[string]any) error {
	return fmt.Errorf("no vector store configured")
}

func (NilProvider) Search(context.Context, string, []float32, int) ([]Result, error) {
	return nil, nil
}

func (NilProvider) SearchWithFilter(context.Context, string, []float32, int, map[string]any) ([]Result, error) {
	return nil, nil
}

func (NilProvider) Delete(context.Context, string, string) error { return nil }

func (NilProvider) DeleteByFilter(context.Context, string, map[string]any) error { return nil }

func (NilProvider) CreateCollection(context.Context, string, int) error { return nil }

func (NilProvider) DeleteCollection(context.Context, string) error { return nil }

func (NilProvider) Name() string { return "nil" }

func (NilProvider) Close() error { return nil }

var _ Provider = NilProvider{}
