// Package crosschain resolves the accounts a DAO controls on other chains
// through its polytone proxies.
package crosschain

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quasar-finance/daoresolve/internal/contracts"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/logging"
	"github.com/quasar-finance/daoresolve/internal/model"
	"github.com/quasar-finance/daoresolve/internal/refresh"
	"github.com/quasar-finance/daoresolve/internal/registry"
	"github.com/quasar-finance/daoresolve/internal/resolve"
)

// Item key prefixes, one per asset class. The remainder of the key is
// "<chainId>:<contract>".
const (
	PrefixCW20  = "cw20:"
	PrefixCW721 = "cw721:"
)

const maxConcurrentLookups = 8

type Resolver struct {
	chains    *registry.Registry
	contracts *contracts.Registry
	resolver  *resolve.Resolver
	logger    *zap.Logger
}

func New(chains *registry.Registry, reg *contracts.Registry, resolver *resolve.Resolver, logger *zap.Logger) *Resolver {
	return &Resolver{chains: chains, contracts: reg, resolver: resolver, logger: logging.OrNop(logger)}
}

type tokens struct {
	cw20  []string
	cw721 []string
}

// Accounts returns the DAO's accounts keyed by chain. The home chain entry
// is the DAO itself. Every other chain named in the item store gets the
// DAO's polytone proxy there; chains without a relay or without a proxy
// are left out.
func (r *Resolver) Accounts(ctx context.Context, dao id.ContractRef, opts resolve.Options) (map[id.ChainID][]model.Account, error) {
	items, err := contracts.Call[[]model.Item](ctx, r.contracts, dao, contracts.OpCoreItems, nil, opts)
	if err != nil {
		return nil, err
	}
	byChain := groupItems(dao.ChainID, items)

	out := map[id.ChainID][]model.Account{
		dao.ChainID: {account(dao.ChainID, dao.Address, model.AccountNative, byChain[dao.ChainID])},
	}

	remotes := make([]id.ChainID, 0, len(byChain))
	for chainID := range byChain {
		if chainID != dao.ChainID {
			remotes = append(remotes, chainID)
		}
	}
	sort.Slice(remotes, func(i, j int) bool { return remotes[i] < remotes[j] })

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for _, remote := range remotes {
		remote := remote
		g.Go(func() error {
			proxy, ok, err := r.Proxy(gctx, dao, remote, opts)
			if err != nil || !ok {
				return err
			}
			mu.Lock()
			out[remote] = append(out[remote], account(remote, proxy, model.AccountPolytone, byChain[remote]))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Proxy returns the DAO's proxy address on remote. ok is false when no relay
// is configured between the chains or the proxy has not been created yet.
func (r *Resolver) Proxy(ctx context.Context, dao id.ContractRef, remote id.ChainID, opts resolve.Options) (string, bool, error) {
	conn, ok := r.chains.Polytone(dao.ChainID, remote)
	if !ok {
		r.logger.Debug("no polytone connection", zap.String("home", string(dao.ChainID)), zap.String("remote", string(remote)))
		return "", false, nil
	}
	proxy, _, err := resolve.Value[*string](ctx, r.resolver, resolve.Descriptor{
		Ref:         id.ContractRef{ChainID: dao.ChainID, Address: conn.Note},
		Method:      "remote_address",
		Args:        map[string]any{"local_address": dao.Address},
		Formula:     "polytone/note/remoteAddress",
		FormulaArgs: map[string]any{"address": dao.Address},
		Scopes:      []refresh.Scope{refresh.Scope(dao.Address)},
	}, opts)
	if err != nil {
		if clierr.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if proxy == nil || *proxy == "" {
		return "", false, nil
	}
	return *proxy, true, nil
}

// groupItems picks the token registrations out of a DAO's item store and
// groups the contracts by chain. Keys without a chain belong to home.
func groupItems(home id.ChainID, items []model.Item) map[id.ChainID]tokens {
	out := make(map[id.ChainID]tokens)
	for _, item := range items {
		var rest string
		var nft bool
		switch {
		case strings.HasPrefix(item.Key, PrefixCW20):
			rest = strings.TrimPrefix(item.Key, PrefixCW20)
		case strings.HasPrefix(item.Key, PrefixCW721):
			rest, nft = strings.TrimPrefix(item.Key, PrefixCW721), true
		default:
			continue
		}
		chainID, contract := home, rest
		if i := strings.IndexByte(rest, ':'); i >= 0 {
			chainID, contract = id.ChainID(rest[:i]), rest[i+1:]
		}
		if chainID == "" || contract == "" {
			continue
		}
		t := out[chainID]
		if nft {
			t.cw721 = append(t.cw721, contract)
		} else {
			t.cw20 = append(t.cw20, contract)
		}
		out[chainID] = t
	}
	return out
}

func account(chainID id.ChainID, address, kind string, t tokens) model.Account {
	sort.Strings(t.cw20)
	sort.Strings(t.cw721)
	return model.Account{ChainID: string(chainID), Address: address, Type: kind, CW20s: t.cw20, CW721s: t.cw721}
}
