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

package vector

import "fmt"

// ProviderType selects a vector store implementation.
type ProviderType string

const (
	// ProviderChromem embeds chromem-go in process: zero external
	// services, the development and single-instance default.
	ProviderChromem ProviderType = "chromem"

	// ProviderQdrant talks to a Qdrant deployment over gRPC.
	ProviderQdrant ProviderType = "qdrant"

	// ProviderPinecone talks to the managed Pinecone service.
	ProviderPinecone ProviderType = "pinecone"
)

// ProviderConfig selects and configures one provider; exactly the
// section named by the type is read.
type ProviderConfig struct {
	Type ProviderType `yaml:"type"`

	Chromem  *ChromemConfig  `yaml:"chromem,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty"`
}

// SetDefaults picks the embedded provider when nothing is configured.
func (c *ProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ProviderChromem
	}
	if c.Type == ProviderChromem && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
}

// Validate checks that the selected provider has what it needs to dial.
func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case ProviderChromem:
		return nil
	case ProviderQdrant:
		if c.Qdrant == nil || c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant requires a host")
		}
		return nil
	case ProviderPinecone:
		if c.Pinecone == nil || c.Pinecone.APIKey == "" {
			return fmt.Errorf("pinecone requires an api_key")
		}
		return nil
	default:
		return fmt.Errorf("unknown vector provider %q", c.Type)
	}
}

// NewProvider builds the configured provider; nil config yields the
// find-nothing NilProvider so retrieval degrades instead of failing.
func NewProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		return NilProvider{}, nil
	}
	switch cfg.Type {
	case ProviderChromem, "":
		var chromemCfg ChromemConfig
		if cfg.Chromem != nil {
			chromemCfg = *cfg.Chromem
		}
		return NewChromemProvider(chromemCfg)
	case ProviderQdrant:
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("qdrant configuration is required")
		}
		return NewQdrantProvider(*cfg.Qdrant)
	case ProviderPinecone:
		if cfg.Pinecone == nil {
			return nil, fmt.Errorf("pinecone configuration is required")
		}
		return NewPineconeProvider(*cfg.Pinecone)
	default:
		return nil, fmt.Errorf("unknown vector provider %q", cfg.Type)
	}
}
