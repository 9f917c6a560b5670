package crosschain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/quasar-finance/daoresolve/internal/chain/chaintest"
	"github.com/quasar-finance/daoresolve/internal/contracts"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/model"
	"github.com/quasar-finance/daoresolve/internal/registry"
	"github.com/quasar-finance/daoresolve/internal/resolve"
)

var dao = id.ContractRef{ChainID: "juno-1", Address: "juno1dao"}

func testRegistry() *registry.Registry {
	return registry.New([]registry.Chain{
		{ID: "juno-1", Bech32Prefix: "juno", Polytone: map[id.ChainID]registry.PolytoneConnection{
			"osmosis-1":  {RemoteChainID: "osmosis-1", Note: "juno1noteosmo"},
			"stargaze-1": {RemoteChainID: "stargaze-1", Note: "juno1notestars"},
		}},
		{ID: "osmosis-1", Bech32Prefix: "osmo"},
		{ID: "stargaze-1", Bech32Prefix: "stars"},
		{ID: "neutron-1", Bech32Prefix: "neutron"},
	})
}

func newResolver(t *testing.T, c *chaintest.Client) *Resolver {
	t.Helper()
	chains := testRegistry()
	res, err := resolve.New(chains, chaintest.Provider{"juno-1": c}, nil, nil)
	if err != nil {
		t.Fatalf("resolve.New failed: %v", err)
	}
	t.Cleanup(func() { _ = res.Close() })
	return New(chains, contracts.NewRegistry(res), res, nil)
}

func daoContract(items [][2]string) chaintest.ContractFunc {
	return func(method string, _ json.RawMessage) (any, error) {
		switch method {
		case "info":
			return chaintest.Info("crates.io:dao-dao-core", "2.4.0"), nil
		case "list_items":
			return items, nil
		}
		return nil, clierr.New(clierr.CodeUnavailable, "unknown variant "+method)
	}
}

func noteContract(proxy any) chaintest.ContractFunc {
	return func(method string, args json.RawMessage) (any, error) {
		if method != "remote_address" {
			return nil, clierr.New(clierr.CodeUnavailable, "unknown variant "+method)
		}
		var a struct {
			LocalAddress string `json:"local_address"`
		}
		_ = json.Unmarshal(args, &a)
		if a.LocalAddress != "juno1dao" {
			return nil, clierr.New(clierr.CodeUnavailable, "unexpected local address "+a.LocalAddress)
		}
		return proxy, nil
	}
}

func TestAccountsMergesProxiesPerChain(t *testing.T) {
	c := chaintest.New("juno-1").
		Handle("juno1dao", daoContract([][2]string{
			{"cw20:juno-1:juno1token", ""},
			{"cw20:osmosis-1:osmo1tokenb", ""},
			{"cw20:osmosis-1:osmo1tokena", ""},
			{"cw721:osmosis-1:osmo1nft", ""},
			{"cw721:stargaze-1:stars1nft", ""},
			{"cw20:neutron-1:neutron1token", ""},
			{"website", "https://example.org"},
		})).
		Handle("juno1noteosmo", noteContract("osmo1proxy")).
		Handle("juno1notestars", noteContract(nil))
	r := newResolver(t, c)

	accounts, err := r.Accounts(context.Background(), dao, resolve.Options{})
	if err != nil {
		t.Fatalf("Accounts failed: %v", err)
	}

	home := accounts["juno-1"]
	if len(home) != 1 || home[0].Address != "juno1dao" || home[0].Type != model.AccountNative || len(home[0].CW20s) != 1 {
		t.Fatalf("unexpected home accounts %+v", home)
	}
	osmo := accounts["osmosis-1"]
	if len(osmo) != 1 || osmo[0].Address != "osmo1proxy" || osmo[0].Type != model.AccountPolytone {
		t.Fatalf("unexpected osmosis accounts %+v", osmo)
	}
	if len(osmo[0].CW20s) != 2 || osmo[0].CW20s[0] != "osmo1tokena" || len(osmo[0].CW721s) != 1 {
		t.Fatalf("unexpected osmosis tokens %+v", osmo[0])
	}
	// stargaze has a relay but no proxy yet, neutron has no relay at all.
	if _, ok := accounts["stargaze-1"]; ok {
		t.Fatal("chain without proxy must be skipped")
	}
	if _, ok := accounts["neutron-1"]; ok {
		t.Fatal("chain without relay must be skipped")
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(accounts))
	}
}

func TestAccountsSurfacesLookupFailure(t *testing.T) {
	boom := clierr.New(clierr.CodeUnavailable, "rpc down")
	c := chaintest.New("juno-1").
		Handle("juno1dao", daoContract([][2]string{{"cw20:osmosis-1:osmo1token", ""}})).
		Handle("juno1noteosmo", func(string, json.RawMessage) (any, error) { return nil, boom })
	r := newResolver(t, c)

	if _, err := r.Accounts(context.Background(), dao, resolve.Options{}); err == nil {
		t.Fatal("expected proxy lookup failure")
	}
}

func TestProxyMissingNoteContractIsSkipped(t *testing.T) {
	c := chaintest.New("juno-1")
	r := newResolver(t, c)
	proxy, ok, err := r.Proxy(context.Background(), dao, "osmosis-1", resolve.Options{})
	if err != nil || ok || proxy != "" {
		t.Fatalf("expected silent skip, got %q %v %v", proxy, ok, err)
	}
}

func TestGroupItems(t *testing.T) {
	groups := groupItems("juno-1", []model.Item{
		{Key: "cw20:juno1legacy"},
		{Key: "cw721:osmosis-1:osmo1nft"},
		{Key: "cw20::"},
		{Key: "other:osmosis-1:x"},
	})
	if len(groups) != 2 {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if got := groups["juno-1"].cw20; len(got) != 1 || got[0] != "juno1legacy" {
		t.Fatalf("legacy key should land on home chain, got %v", got)
	}
	if got := groups["osmosis-1"].cw721; len(got) != 1 || got[0] != "osmo1nft" {
		t.Fatalf("unexpected nft group %v", got)
	}
}
