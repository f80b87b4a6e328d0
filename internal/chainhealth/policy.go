// Package chainhealth tracks per-chain provider health and scan staleness.
package chainhealth

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainPolicy holds thresholds for one chain.
type ChainPolicy struct {
	ScanStaleAfter   time.Duration `yaml:"scan_stale_after"`
	IndexerNormalLag time.Duration `yaml:"indexer_normal_lag"`
}

// Policy is the parsed chain policy file.
type Policy struct {
	Default ChainPolicy            `yaml:"default"`
	Chains  map[string]ChainPolicy `yaml:"chains"`
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() Policy {
	return Policy{
		Default: ChainPolicy{ScanStaleAfter: 24 * time.Hour, IndexerNormalLag: time.Minute},
		Chains: map[string]ChainPolicy{
			"ethereum": {ScanStaleAfter: 24 * time.Hour, IndexerNormalLag: 30 * time.Second},
			"base":     {ScanStaleAfter: 12 * time.Hour, IndexerNormalLag: 10 * time.Second},
			"arbitrum": {ScanStaleAfter: 12 * time.Hour, IndexerNormalLag: 10 * time.Second},
			"solana":   {ScanStaleAfter: 6 * time.Hour, IndexerNormalLag: 5 * time.Second},
		},
	}
}

// ParsePolicy decodes YAML. Chain names are case-insensitive; unset fields inherit
// from the default block, which itself falls back to DefaultPolicy.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse chain policy: %w", err)
	}
	def := DefaultPolicy().Default
	if p.Default.ScanStaleAfter <= 0 {
		p.Default.ScanStaleAfter = def.ScanStaleAfter
	}
	if p.Default.IndexerNormalLag <= 0 {
		p.Default.IndexerNormalLag = def.IndexerNormalLag
	}
	chains := make(map[string]ChainPolicy, len(p.Chains))
	for name, c := range p.Chains {
		if c.ScanStaleAfter <= 0 {
			c.ScanStaleAfter = p.Default.ScanStaleAfter
		}
		if c.IndexerNormalLag <= 0 {
			c.IndexerNormalLag = p.Default.IndexerNormalLag
		}
		chains[strings.ToLower(name)] = c
	}
	p.Chains = chains
	return p, nil
}

// LoadPolicy reads path, or returns DefaultPolicy when path is empty.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read chain policy: %w", err)
	}
	return ParsePolicy(data)
}

// For returns the thresholds for chain.
func (p Policy) For(chain string) ChainPolicy {
	if c, ok := p.Chains[strings.ToLower(chain)]; ok {
		return c
	}
	return p.Default
}
