package registry

import (
	"bytes"
	"testing"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/id"
)

func TestDefaultChainsHaveEndpoints(t *testing.T) {
	for _, c := range Default().Chains() {
		if c.Bech32Prefix == "" {
			t.Fatalf("chain %s missing bech32 prefix", c.ID)
		}
		if len(c.RPC) == 0 && len(c.REST) == 0 {
			t.Fatalf("chain %s has no endpoints", c.ID)
		}
	}
}

func TestUnsupportedChain(t *testing.T) {
	_, err := Default().Chain("nope-1")
	if !clierr.HasCode(err, clierr.CodeUnsupportedChain) {
		t.Fatalf("expected unsupported chain error, got %v", err)
	}
}

func TestContractRefValidatesPrefix(t *testing.T) {
	addr, _ := id.Bech32("juno", bytes.Repeat([]byte{0x01}, 32))
	ref, err := Default().ContractRef("juno-1", addr)
	if err != nil {
		t.Fatalf("ContractRef failed: %v", err)
	}
	if ref.ChainID != "juno-1" || ref.Address != addr {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if _, err := Default().ContractRef("osmosis-1", addr); err == nil {
		t.Fatal("expected prefix mismatch for osmosis")
	}
}

func TestWithOverridesMergesPolytone(t *testing.T) {
	reg := Default().WithOverrides([]Chain{
		{ID: "juno-1", RPC: []string{"http://localhost:26657"}, Polytone: map[id.ChainID]PolytoneConnection{
			"osmosis-1": {RemoteChainID: "osmosis-1", Note: "juno1note"},
		}},
		{ID: "local-1", Bech32Prefix: "local", RPC: []string{"http://127.0.0.1:1"}},
	})
	juno, err := reg.Chain("juno-1")
	if err != nil {
		t.Fatalf("juno lookup: %v", err)
	}
	if len(juno.RPC) != 1 || juno.RPC[0] != "http://localhost:26657" {
		t.Fatalf("expected rpc override, got %v", juno.RPC)
	}
	if len(juno.REST) == 0 {
		t.Fatal("expected default rest endpoints to survive override")
	}
	if _, ok := reg.Polytone("juno-1", "osmosis-1"); !ok {
		t.Fatal("expected polytone connection")
	}
	if _, ok := reg.Polytone("juno-1", "stargaze-1"); ok {
		t.Fatal("did not expect polytone connection to stargaze")
	}
	if _, err := reg.Chain("local-1"); err != nil {
		t.Fatalf("expected added chain: %v", err)
	}
	if _, ok := Default().Polytone("juno-1", "osmosis-1"); ok {
		t.Fatal("override must not mutate the default registry")
	}
}
