// Package registry holds the static protocol catalog: the mapping from a
// protocol id to its external API slugs, audit score and description.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// ProtocolConfig describes one protocol entry. Immutable after startup.
type ProtocolConfig struct {
	// ID is the unique identifier used throughout the service.
	ID string `json:"id"`

	// LlamaSlug is the DefiLlama protocol slug for TVL lookups.
	LlamaSlug string `json:"llama_slug"`

	// GeckoID is the CoinGecko coin id for market data lookups.
	GeckoID string `json:"gecko_id"`

	// AuditScore rates the protocol's security posture, 0-1, higher is safer.
	AuditScore float64 `json:"audit_score"`

	// Description is free-form display metadata.
	Description string `json:"description,omitempty"`
}

// Registry is the read-only protocol catalog.
type Registry struct {
	protocols map[string]ProtocolConfig
}

// Defaults returns the built-in protocol catalog.
func Defaults() []ProtocolConfig {
	return []ProtocolConfig{
		{ID: "aave", LlamaSlug: "aave", GeckoID: "aave", AuditScore: 0.85, Description: "Decentralized lending and borrowing protocol"},
		{ID: "uniswap", LlamaSlug: "uniswap", GeckoID: "uniswap", AuditScore: 0.80, Description: "Largest decentralized exchange (DEX)"},
		{ID: "curve", LlamaSlug: "curve", GeckoID: "curve-dao-token", AuditScore: 0.82, Description: "Stablecoin and pegged asset exchange"},
		{ID: "lido", LlamaSlug: "lido", GeckoID: "lido-dao", AuditScore: 0.80, Description: "Liquid staking protocol for Ethereum"},
		{ID: "compound", LlamaSlug: "compound", GeckoID: "compound-governance-token", AuditScore: 0.83, Description: "Algorithmic money market protocol"},
		{ID: "makerdao", LlamaSlug: "makerdao", GeckoID: "maker", AuditScore: 0.85, Description: "Decentralized stablecoin (DAI) protocol"},
		{ID: "yearn-finance", LlamaSlug: "yearn-finance", GeckoID: "yearn-finance", AuditScore: 0.75, Description: "Yield aggregator and vault optimizer"},
		{ID: "balancer", LlamaSlug: "balancer", GeckoID: "balancer", AuditScore: 0.78, Description: "Automated market maker with customizable pools"},
	}
}

// New builds a registry from the given protocol list, validating every entry.
func New(protocols []ProtocolConfig) (*Registry, error) {
	if len(protocols) == 0 {
		return nil, fmt.Errorf("registry requires at least one protocol")
	}

	byID := make(map[string]ProtocolConfig, len(protocols))
	for _, p := range protocols {
		if p.ID == "" {
			return nil, fmt.Errorf("protocol with empty id")
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate protocol id %q", p.ID)
		}
		if p.LlamaSlug == "" || p.GeckoID == "" {
			return nil, fmt.Errorf("protocol %q: missing external slug or coin id", p.ID)
		}
		if p.AuditScore < 0 || p.AuditScore > 1 {
			return nil, fmt.Errorf("protocol %q: audit score %f outside [0,1]", p.ID, p.AuditScore)
		}
		byID[p.ID] = p
	}

	return &Registry{protocols: byID}, nil
}

// Load builds the registry from a JSON override if provided, falling back to
// the built-in defaults.
func Load(protocolsJSON string) (*Registry, error) {
	if protocolsJSON == "" {
		return New(Defaults())
	}

	var protocols []ProtocolConfig
	if err := json.Unmarshal([]byte(protocolsJSON), &protocols); err != nil {
		return nil, fmt.Errorf("parsing protocol override: %w", err)
	}

	logrus.Infof("Loaded %d protocols from override", len(protocols))
	return New(protocols)
}

// Get looks up a protocol by id.
func (r *Registry) Get(id string) (ProtocolConfig, bool) {
	p, ok := r.protocols[id]
	return p, ok
}

// IDs returns all protocol ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.protocols))
	for id := range r.protocols {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every protocol config, ordered by id.
func (r *Registry) All() []ProtocolConfig {
	out := make([]ProtocolConfig, 0, len(r.protocols))
	for _, id := range r.IDs() {
		out = append(out, r.protocols[id])
	}
	return out
}

// Len reports the number of registered protocols.
func (r *Registry) Len() int {
	return len(r.protocols)
}
