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

package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	"github.com/olav-network/olav/pkg/config"
	"github.com/olav-network/olav/pkg/deviceadapter"
	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/rag"
	"github.com/olav-network/olav/pkg/toolset"
)

// The LLM chat client, embedding client, and inventory writer are
// external collaborators. The implementations below are the built-in
// fallbacks that keep a fresh install functional without any external
// service: a keyword classifier, a rule-table command selector, a
// feature-hash embedder, and a log-only inventory writer. Deployments
// replace them by wiring real clients here.

// newKeywordClassifier classifies requests by vocabulary. Confidence
// reflects how many distinct signal words matched.
func newKeywordClassifier() toolset.Classifier {
	signals := map[string][]string{
		toolset.IntentConfiguration:    {"shut", "no shut", "configure", "config", "set ", "enable", "disable", "mtu", "description"},
		toolset.IntentNetBox:           {"netbox", "inventory", "add device", "remove device", "decommission", "site", "rename"},
		toolset.IntentDeviceInspection: {"inspect", "audit", "check all", "sweep", "baseline", "health check"},
		toolset.IntentDeepAnalysis:     {"investigate", "root cause", "deep", "why", "analyze", "troubleshoot"},
		toolset.IntentQuickQuery:       {"check", "show", "status", "state", "how many", "what is", "list"},
	}
	order := []string{
		toolset.IntentConfiguration,
		toolset.IntentNetBox,
		toolset.IntentDeviceInspection,
		toolset.IntentDeepAnalysis,
		toolset.IntentQuickQuery,
	}
	return classifierFunc(func(_ context.Context, text string) (string, float64, error) {
		lower := strings.ToLower(text)
		best, bestHits := "", 0
		for _, intent := range order {
			hits := 0
			for _, word := range signals[intent] {
				if strings.Contains(lower, word) {
					hits++
				}
			}
			if hits > bestHits {
				best, bestHits = intent, hits
			}
		}
		if best == "" {
			return toolset.IntentNonNetwork, 0.5, nil
		}
		confidence := 0.6 + 0.1*float64(bestHits)
		if confidence > 0.95 {
			confidence = 0.95
		}
		return best, confidence, nil
	})
}

type classifierFunc func(ctx context.Context, text string) (string, float64, error)

func (f classifierFunc) Classify(ctx context.Context, text string) (string, float64, error) {
	return f(ctx, text)
}

// newRuleChat answers the prompts the tool catalogue issues from a
// rule table: read-command selection, config planning, and inventory
// diffing all have deterministic fallbacks.
func newRuleChat() toolset.ChatClient {
	return chatFunc(func(_ context.Context, prompt string) (string, error) {
		lower := strings.ToLower(prompt)
		switch {
		case strings.Contains(lower, "configuration commands"):
			return planFromPrompt(lower), nil
		case strings.Contains(lower, "requested change"):
			return "update: " + firstQuoted(prompt), nil
		default:
			return commandFromPrompt(lower), nil
		}
	})
}

type chatFunc func(ctx context.Context, prompt string) (string, error)

func (f chatFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func commandFromPrompt(lower string) string {
	switch {
	case strings.Contains(lower, "bgp"):
		return "show ip bgp summary"
	case strings.Contains(lower, "ospf"):
		return "show ip ospf neighbor"
	case strings.Contains(lower, "interface"):
		return "show ip interface brief"
	case strings.Contains(lower, "route"):
		return "show ip route summary"
	case strings.Contains(lower, "version"), strings.Contains(lower, "uptime"):
		return "show version"
	default:
		return "show running-config"
	}
}

func planFromPrompt(lower string) string {
	iface := "Loopback0"
	for _, word := range strings.Fields(lower) {
		if strings.HasPrefix(word, "loopback") || strings.HasPrefix(word, "gigabitethernet") || strings.HasPrefix(word, "ethernet") {
			iface = strings.Trim(word, `"'.,`)
			break
		}
	}
	if strings.Contains(lower, "no shut") || strings.Contains(lower, "enable") {
		return fmt.Sprintf("interface %s\nno shutdown", iface)
	}
	if strings.Contains(lower, "shut") {
		return fmt.Sprintf("interface %s\nshutdown", iface)
	}
	return fmt.Sprintf("interface %s", iface)
}

func firstQuoted(s string) string {
	if start := strings.IndexByte(s, '"'); start >= 0 {
		if end := strings.IndexByte(s[start+1:], '"'); end >= 0 {
			return s[start+1 : start+1+end]
		}
	}
	return s
}

// newLocalEmbedder is a deterministic feature-hash embedder: tokens
// hash into a fixed-width vector. Good enough for exact and
// near-duplicate recall; replace with a real embedding client for
// semantic quality.
func newLocalEmbedder() rag.Embedder {
	const dims = 128
	return rag.EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		for _, token := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(token))
			vec[h.Sum32()%dims]++
		}
		return vec, nil
	})
}

// inventoryLogWriter records approved inventory changes in the log
// only; a real deployment wires the NetBox client here.
type inventoryLogWriter struct{}

func (inventoryLogWriter) ApplyChanges(_ context.Context, changes []map[string]any) (string, error) {
	for _, c := range changes {
		slog.Info("inventory change applied", "change", c["change"])
	}
	return fmt.Sprintf("applied %d inventory change(s)", len(changes)), nil
}

// simAdapter simulates device I/O for development: deterministic
// canned output keyed by device and command.
type simAdapter struct {
	platforms []string
}

func (s *simAdapter) Platforms() []string { return s.platforms }

func (s *simAdapter) RunCommands(_ context.Context, d inventory.Device, commands []string) (map[string]string, error) {
	out := make(map[string]string, len(commands))
	for _, c := range commands {
		out[c] = fmt.Sprintf("%s# %s\nsimulated output (%s, %s)", d.Name, c, d.Platform, d.Site)
	}
	return out, nil
}

func (s *simAdapter) ApplyConfig(_ context.Context, d inventory.Device, lines []string) (string, error) {
	return fmt.Sprintf("%s(config)# %s\n%s#", d.Name, strings.Join(lines, "\n"+d.Name+"(config)# "), d.Name), nil
}

func (s *simAdapter) Probe(context.Context, inventory.Device) error { return nil }

// registerSimAdapters covers every platform named in the configured
// inventory with the simulator.
func registerSimAdapters(cfg *config.Config, adapters *deviceadapter.Registry) error {
	seen := map[string]bool{}
	var platforms []string
	for _, d := range cfg.Inventory.Devices {
		if d.Platform != "" && !seen[d.Platform] {
			seen[d.Platform] = true
			platforms = append(platforms, d.Platform)
		}
	}
	if len(platforms) == 0 {
		return nil
	}
	return adapters.Register(&simAdapter{platforms: platforms})
}
