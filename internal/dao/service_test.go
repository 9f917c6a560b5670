package dao

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/quasar-finance/daoresolve/internal/chain"
	"github.com/quasar-finance/daoresolve/internal/chain/chaintest"
	"github.com/quasar-finance/daoresolve/internal/contracts"
	"github.com/quasar-finance/daoresolve/internal/crosschain"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/indexer"
	"github.com/quasar-finance/daoresolve/internal/model"
	"github.com/quasar-finance/daoresolve/internal/refresh"
	"github.com/quasar-finance/daoresolve/internal/registry"
	"github.com/quasar-finance/daoresolve/internal/resolve"
)

type indexerFunc func(ctx context.Context, req indexer.Request) (json.RawMessage, error)

func (f indexerFunc) Query(ctx context.Context, req indexer.Request) (json.RawMessage, error) {
	return f(ctx, req)
}

var (
	core    = id.ContractRef{ChainID: "juno-1", Address: "juno1core"}
	module  = id.ContractRef{ChainID: "juno-1", Address: "juno1proposals"}
	voting  = id.ContractRef{ChainID: "juno-1", Address: "juno1voting"}
	staker  = "juno1staker"
	tokens  = make([]string, 0, 45)
	unavail = clierr.New(clierr.CodeUnavailable, "indexer unavailable")
)

func init() {
	for i := 0; i < 45; i++ {
		tokens = append(tokens, fmt.Sprintf("token-%02d", i))
	}
}

type harness struct {
	service *Service
	chain   *chaintest.Client
	bus     *refresh.Bus
}

func newHarness(t *testing.T, idx resolve.IndexerClient) *harness {
	t.Helper()
	reg := registry.New([]registry.Chain{{ID: "juno-1", Bech32Prefix: "juno", Indexer: true}})
	bus := refresh.New()
	fake := chaintest.New("juno-1").
		Handle(core.Address, coreContract).
		Handle(module.Address, proposalContract).
		Handle(voting.Address, votingContract)
	provider := chain.NewProvider(reg, nil, bus, nil)
	provider.Register(fake)

	res, err := resolve.New(reg, provider, idx, bus)
	if err != nil {
		t.Fatalf("resolve.New failed: %v", err)
	}
	t.Cleanup(func() { _ = res.Close() })
	contractsReg := contracts.NewRegistry(res)
	svc := NewService(contractsReg, res, crosschain.New(reg, contractsReg, res, nil), WithSigner(provider))
	return &harness{service: svc, chain: fake, bus: bus}
}

func coreContract(method string, _ json.RawMessage) (any, error) {
	switch method {
	case "info":
		return chaintest.Info("crates.io:dao-dao-core", "2.4.0"), nil
	case "config":
		return map[string]any{"name": "Chain DAO", "description": "d", "automatically_add_cw20s": true}, nil
	case "proposal_modules":
		return []map[string]any{
			{"address": module.Address, "prefix": "A", "status": "enabled"},
			{"address": "juno1old", "prefix": "B", "status": "disabled"},
		}, nil
	case "voting_module":
		return voting.Address, nil
	case "list_items":
		return [][2]string{{"cw20:juno-1:juno1token", ""}}, nil
	}
	return nil, clierr.New(clierr.CodeUnavailable, "unknown variant "+method)
}

func proposalContract(method string, _ json.RawMessage) (any, error) {
	switch method {
	case "info":
		return chaintest.Info("crates.io:dao-proposal-single", "2.4.0"), nil
	case "list_proposals":
		return map[string]any{"proposals": []map[string]any{{"id": 1, "proposal": map[string]any{"title": "first", "status": "open"}}}}, nil
	case "proposal":
		return map[string]any{"id": 1, "proposal": map[string]any{"title": "first", "status": "open", "votes": map[string]string{"yes": "0", "no": "0", "abstain": "0"}}}, nil
	}
	return nil, clierr.New(clierr.CodeUnavailable, "unknown variant "+method)
}

func votingContract(method string, args json.RawMessage) (any, error) {
	if method != "staked_nfts" {
		return nil, clierr.New(clierr.CodeUnavailable, "unknown variant "+method)
	}
	var a struct {
		Address    string  `json:"address"`
		StartAfter *string `json:"start_after"`
		Limit      int     `json:"limit"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Address != staker {
		return nil, clierr.New(clierr.CodeUsage, "bad staked_nfts args")
	}
	start := 0
	if a.StartAfter != nil {
		for start < len(tokens) && tokens[start] <= *a.StartAfter {
			start++
		}
	}
	end := start + a.Limit
	if end > len(tokens) {
		end = len(tokens)
	}
	return tokens[start:end], nil
}

func TestStakedNFTsFallbackPaginates(t *testing.T) {
	h := newHarness(t, indexerFunc(func(context.Context, indexer.Request) (json.RawMessage, error) {
		return nil, unavail
	}))

	nfts, err := h.service.StakedNFTs(context.Background(), voting, staker, resolve.Options{})
	if err != nil {
		t.Fatalf("StakedNFTs failed: %v", err)
	}
	if len(nfts) != 45 {
		t.Fatalf("expected 45 nfts, got %d", len(nfts))
	}
	history := h.chain.History()
	if len(history) != 2 {
		t.Fatalf("expected exactly 2 page queries, got %d", len(history))
	}
	var second struct {
		StartAfter string `json:"start_after"`
	}
	_ = json.Unmarshal(history[1].Args, &second)
	if second.StartAfter != tokens[29] {
		t.Fatalf("second page must start after item 29, got %q", second.StartAfter)
	}
}

func TestStakedNFTsServedByIndexer(t *testing.T) {
	h := newHarness(t, indexerFunc(func(_ context.Context, req indexer.Request) (json.RawMessage, error) {
		if req.Formula != "daoVotingCw721Staked/stakedNfts" || req.Args["address"] != staker {
			t.Errorf("unexpected indexer request %+v", req)
		}
		return json.Marshal(tokens)
	}))
	nfts, err := h.service.StakedNFTs(context.Background(), voting, staker, resolve.Options{})
	if err != nil || len(nfts) != 45 {
		t.Fatalf("unexpected result %d err=%v", len(nfts), err)
	}
	if h.chain.Calls("") != 0 {
		t.Fatalf("chain must not be queried, got %d", h.chain.Calls(""))
	}
}

func TestConfigFallsBackWhenIndexerFails(t *testing.T) {
	h := newHarness(t, indexerFunc(func(context.Context, indexer.Request) (json.RawMessage, error) {
		return nil, unavail
	}))
	cfg, err := h.service.Config(context.Background(), core, resolve.Options{})
	if err != nil {
		t.Fatalf("Config failed: %v", err)
	}
	if cfg.Name != "Chain DAO" || !cfg.AutomaticallyAddCW20s {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestDAOProposalsSkipsDisabledModules(t *testing.T) {
	h := newHarness(t, nil)
	byModule, err := h.service.DAOProposals(context.Background(), core, resolve.Options{})
	if err != nil {
		t.Fatalf("DAOProposals failed: %v", err)
	}
	if len(byModule) != 1 || len(byModule[module.Address]) != 1 || byModule[module.Address][0].Title != "first" {
		t.Fatalf("unexpected proposals %+v", byModule)
	}
}

func TestVotingModuleAndAccounts(t *testing.T) {
	h := newHarness(t, nil)
	vm, err := h.service.VotingModule(context.Background(), core, resolve.Options{})
	if err != nil || vm != voting {
		t.Fatalf("unexpected voting module %v err=%v", vm, err)
	}
	accounts, err := h.service.Accounts(context.Background(), core, resolve.Options{})
	if err != nil {
		t.Fatalf("Accounts failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Type != model.AccountNative || accounts[0].CW20s[0] != "juno1token" {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
}

type wallet struct {
	address string
	sent    []chain.ExecuteMsg
}

func (w *wallet) Connected() bool                    { return true }
func (w *wallet) Address(id.ChainID) (string, error) { return w.address, nil }
func (w *wallet) SignAndBroadcast(_ context.Context, _ id.ChainID, msgs []chain.ExecuteMsg) (chain.TxResult, error) {
	w.sent = append(w.sent, msgs...)
	return chain.TxResult{Hash: "TX", Height: 1}, nil
}

func TestVoteInvalidatesProposalReads(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	voter, err := id.Bech32("juno", bytes.Repeat([]byte{7}, 20))
	if err != nil {
		t.Fatalf("encode voter: %v", err)
	}
	w := &wallet{address: voter}

	if _, err := h.service.Proposal(ctx, module, 1, resolve.Options{}); err != nil {
		t.Fatalf("Proposal failed: %v", err)
	}
	if _, err := h.service.Proposal(ctx, module, 1, resolve.Options{}); err != nil {
		t.Fatalf("Proposal failed: %v", err)
	}
	if got := h.chain.Calls("proposal"); got != 1 {
		t.Fatalf("expected cached proposal, got %d queries", got)
	}

	if _, err := h.service.Vote(ctx, w, module, 1, "yes"); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	if len(w.sent) != 1 || w.sent[0].Contract != module.Address || !bytes.Contains(w.sent[0].Msg, []byte(`"vote":"yes"`)) {
		t.Fatalf("unexpected execute messages %+v", w.sent)
	}
	if h.bus.Epoch(refresh.Scope(module.Address)) != 1 || h.bus.Epoch(refresh.Scope(voter)) != 1 {
		t.Fatal("vote must bump module and voter scopes")
	}

	if _, err := h.service.Proposal(ctx, module, 1, resolve.Options{}); err != nil {
		t.Fatalf("Proposal failed: %v", err)
	}
	if got := h.chain.Calls("proposal"); got != 2 {
		t.Fatalf("expected fresh proposal query after vote, got %d", got)
	}
}

func TestVoteValidation(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.service.Vote(context.Background(), &wallet{}, module, 1, "maybe"); !clierr.HasCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if _, err := h.service.Vote(context.Background(), nil, module, 1, "yes"); !clierr.HasCode(err, clierr.CodeWalletNotConnected) {
		t.Fatalf("expected wallet error, got %v", err)
	}
	noSigner := NewService(nil, nil, nil)
	if _, err := noSigner.UnstakeNFTs(context.Background(), &wallet{}, voting, []string{"1"}); !clierr.HasCode(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported without signer, got %v", err)
	}
}
