package registry

import (
	"sort"
	"strings"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/id"
)

// PolytoneConnection is the note/listener/voice triple that lets a DAO on the
// home chain control a proxy account on RemoteChainID.
type PolytoneConnection struct {
	RemoteChainID id.ChainID `json:"remote_chain_id" yaml:"remote_chain_id"`
	Note          string     `json:"note" yaml:"note"`
	Listener      string     `json:"listener" yaml:"listener"`
	Voice         string     `json:"voice" yaml:"voice"`
}

// Chain is one configured network. RPC and REST are listed in preference order.
type Chain struct {
	ID           id.ChainID                        `json:"chain_id" yaml:"chain_id"`
	Name         string                            `json:"name" yaml:"name"`
	Bech32Prefix string                            `json:"bech32_prefix" yaml:"bech32_prefix"`
	RPC          []string                          `json:"rpc" yaml:"rpc"`
	REST         []string                          `json:"rest" yaml:"rest"`
	Indexer      bool                              `json:"indexer" yaml:"indexer"`
	Polytone     map[id.ChainID]PolytoneConnection `json:"polytone,omitempty" yaml:"polytone"`
}

// Canonical chain table. Endpoint order is the discovery preference order.
var defaultChains = []Chain{
	{
		ID: "juno-1", Name: "Juno", Bech32Prefix: "juno", Indexer: true,
		RPC:  []string{"https://juno-rpc.polkachu.com", "https://rpc-juno.itastakers.com"},
		REST: []string{"https://juno-api.polkachu.com", "https://api-juno.itastakers.com"},
	},
	{
		ID: "osmosis-1", Name: "Osmosis", Bech32Prefix: "osmo", Indexer: true,
		RPC:  []string{"https://rpc.osmosis.zone", "https://osmosis-rpc.polkachu.com"},
		REST: []string{"https://lcd.osmosis.zone", "https://osmosis-api.polkachu.com"},
	},
	{
		ID: "stargaze-1", Name: "Stargaze", Bech32Prefix: "stars", Indexer: true,
		RPC:  []string{"https://rpc.stargaze-apis.com", "https://stargaze-rpc.polkachu.com"},
		REST: []string{"https://rest.stargaze-apis.com", "https://stargaze-api.polkachu.com"},
	},
	{
		ID: "neutron-1", Name: "Neutron", Bech32Prefix: "neutron", Indexer: true,
		RPC:  []string{"https://rpc-kralum.neutron-1.neutron.org", "https://neutron-rpc.polkachu.com"},
		REST: []string{"https://rest-kralum.neutron-1.neutron.org", "https://neutron-api.polkachu.com"},
	},
	{
		ID: "migaloo-1", Name: "Migaloo", Bech32Prefix: "migaloo", Indexer: true,
		RPC:  []string{"https://migaloo-rpc.polkachu.com"},
		REST: []string{"https://migaloo-api.polkachu.com"},
	},
	{
		ID: "kaiyo-1", Name: "Kujira", Bech32Prefix: "kujira", Indexer: true,
		RPC:  []string{"https://kujira-rpc.polkachu.com"},
		REST: []string{"https://kujira-api.polkachu.com"},
	},
	{
		ID: "phoenix-1", Name: "Terra", Bech32Prefix: "terra", Indexer: true,
		RPC:  []string{"https://terra-rpc.polkachu.com"},
		REST: []string{"https://terra-api.polkachu.com"},
	},
	{
		ID: "uni-6", Name: "Juno Testnet", Bech32Prefix: "juno",
		RPC:  []string{"https://juno-testnet-rpc.polkachu.com"},
		REST: []string{"https://juno-testnet-api.polkachu.com"},
	},
}

// Registry is a read-only chain table, loaded once at startup.
type Registry struct {
	chains map[id.ChainID]Chain
}

func New(chains []Chain) *Registry {
	r := &Registry{chains: make(map[id.ChainID]Chain, len(chains))}
	for _, c := range chains {
		r.chains[c.ID] = c
	}
	return r
}

func Default() *Registry {
	return New(defaultChains)
}

// WithOverrides returns a new registry where each override replaces the
// non-empty fields of the matching chain, or adds the chain when unknown.
func (r *Registry) WithOverrides(overrides []Chain) *Registry {
	merged := make([]Chain, 0, len(r.chains)+len(overrides))
	byID := make(map[id.ChainID]Chain, len(r.chains))
	for k, v := range r.chains {
		byID[k] = v
	}
	for _, o := range overrides {
		base, ok := byID[o.ID]
		if !ok {
			byID[o.ID] = o
			continue
		}
		if o.Name != "" {
			base.Name = o.Name
		}
		if o.Bech32Prefix != "" {
			base.Bech32Prefix = o.Bech32Prefix
		}
		if len(o.RPC) > 0 {
			base.RPC = o.RPC
		}
		if len(o.REST) > 0 {
			base.REST = o.REST
		}
		if o.Indexer {
			base.Indexer = true
		}
		if len(o.Polytone) > 0 {
			conns := make(map[id.ChainID]PolytoneConnection, len(base.Polytone)+len(o.Polytone))
			for remote, conn := range base.Polytone {
				conns[remote] = conn
			}
			for remote, conn := range o.Polytone {
				conns[remote] = conn
			}
			base.Polytone = conns
		}
		byID[o.ID] = base
	}
	for _, c := range byID {
		merged = append(merged, c)
	}
	return New(merged)
}

func (r *Registry) Chain(chainID id.ChainID) (Chain, error) {
	c, ok := r.chains[chainID]
	if !ok {
		return Chain{}, clierr.UnsupportedChain(string(chainID))
	}
	return c, nil
}

func (r *Registry) Chains() []Chain {
	out := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ContractRef validates address against the chain's bech32 prefix.
func (r *Registry) ContractRef(chainID id.ChainID, address string) (id.ContractRef, error) {
	c, err := r.Chain(chainID)
	if err != nil {
		return id.ContractRef{}, err
	}
	addr, err := id.ValidateAddress(address, c.Bech32Prefix)
	if err != nil {
		return id.ContractRef{}, err
	}
	return id.ContractRef{ChainID: c.ID, Address: addr}, nil
}

// Polytone returns the connection from home to remote, if one is configured.
func (r *Registry) Polytone(home, remote id.ChainID) (PolytoneConnection, bool) {
	c, ok := r.chains[home]
	if !ok || c.Polytone == nil {
		return PolytoneConnection{}, false
	}
	conn, ok := c.Polytone[remote]
	if !ok || strings.TrimSpace(conn.Note) == "" {
		return PolytoneConnection{}, false
	}
	return conn, true
}
