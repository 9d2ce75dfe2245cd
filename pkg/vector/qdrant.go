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
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the Qdrant vector provider.
type QdrantConfig struct {
	// Host of the Qdrant server. Default: "localhost".
	Host string `yaml:"host"`

	// Port is the gRPC port. Default: 6334.
	Port int `yaml:"port"`

	// APIKey authenticates against a secured deployment.
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS toward the server.
	UseTLS bool `yaml:"use_tls,omitempty"`
}

// QdrantProvider backs the knowledge collections with a Qdrant
// deployment; collections are created lazily at the dimension of the
// first vector written.
type QdrantProvider struct {
	client *qdrant.Client
}

// NewQdrantProvider dials the configured server.
func NewQdrantProvider(cfg QdrantConfig) (*QdrantProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantProvider{client: client}, nil
}

// Name returns the provider name.
func (p *QdrantProvider) Name() string {
	return "qdrant"
}

// ensureCollection creates the collection at the given dimension if it
// does not exist yet.
func (p *QdrantProvider) ensureCollection(ctx context.Context, collection string, dimension int) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("checking collection %q: %w", collection, err)
	}
	if exists {
		return nil
	}
	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	// Racing creators are fine: first one wins, the rest see it exists.
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("creating collection %q: %w", collection, err)
	}
	return nil
}

// Upsert writes one point, creating the collection on first use.
func (p *QdrantProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	if err := p.ensureCollection(ctx, collection, len(vector)); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata))
	for key, value := range metadata {
		v, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("metadata key %q: %w", key, err)
		}
		payload[key] = v
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("upserting point %q: %w", id, err)
	}
	return nil
}

// Search finds the most similar points.
func (p *QdrantProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

// SearchWithFilter combines similarity search with keyword matching on
// payload fields.
func (p *QdrantProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	req := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		req.Filter = keywordFilter(filter)
	}

	resp, err := p.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", collection, err)
	}

	results := make([]Result, 0, len(resp.Result))
	for _, point := range resp.Result {
		results = append(results, scoredPointResult(point))
	}
	return results, nil
}

// Delete removes one point by id.
func (p *QdrantProvider) Delete(ctx context.Context, collection string, id string) error {
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting point %q: %w", id, err)
	}
	return nil
}

// DeleteByFilter removes every point matching the filter.
func (p *QdrantProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: keywordFilter(filter)},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting by filter: %w", err)
	}
	return nil
}

// CreateCollection pre-creates a collection at a known dimension.
func (p *QdrantProvider) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	return p.ensureCollection(ctx, collection, vectorDimension)
}

// DeleteCollection drops a collection and its points.
func (p *QdrantProvider) DeleteCollection(ctx context.Context, collection string) error {
	if err := p.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("deleting collection %q: %w", collection, err)
	}
	return nil
}

// Close releases the client connection.
func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

// keywordFilter builds a must-match-all keyword filter over payload
// fields; values that cannot convert are skipped rather than failing
// the whole query.
func keywordFilter(filter map[string]any) *qdrant.Filter {
	must := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		v, err := qdrant.NewValue(value)
		if err != nil {
			continue
		}
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v.GetStringValue()}},
				},
			},
		})
	}
	return &qdrant.Filter{Must: must}
}

// scoredPointResult flattens one scored point into a Result.
func scoredPointResult(point *qdrant.ScoredPoint) Result {
	r := Result{Score: point.Score, Metadata: make(map[string]any, len(point.Payload))}

	if point.Id != nil {
		switch id := point.Id.PointIdOptions.(type) {
		case *qdrant.PointId_Uuid:
			r.ID = id.Uuid
		case *qdrant.PointId_Num:
			r.ID = strconv.FormatUint(id.Num, 10)
		}
	}

	for key, value := range point.Payload {
		r.Metadata[key] = qdrantValue(value)
	}
	if content, ok := r.Metadata["content"].(string); ok {
		r.Content = content
	}
	return r
}

// qdrantValue unwraps a payload value into its plain Go form.
func qdrantValue(value *qdrant.Value) any {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = qdrantValue(item)
		}
		return list
	default:
		return value
	}
}

// Ensure QdrantProvider implements Provider.
var _ Provider = (*QdrantProvider)(nil)
