package contracts

import (
	"context"
	"encoding/json"

	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/model"
	"github.com/quasar-finance/daoresolve/internal/refresh"
	"github.com/quasar-finance/daoresolve/internal/resolve"
)

// DAO core operations.
const (
	OpCoreConfig          Operation = "core.config"
	OpCoreProposalModules Operation = "core.proposal_modules"
	OpCoreVotingModule    Operation = "core.voting_module"
	OpCoreItems           Operation = "core.items"
)

func registerCore(r *Registry) {
	// The config shape only grew dao_uri between families.
	r.Register(OpCoreConfig, V1, coreConfig)
	r.Register(OpCoreConfig, V2, coreConfig)
	r.Register(OpCoreProposalModules, V1, coreProposalModulesV1)
	r.Register(OpCoreProposalModules, V2, coreProposalModulesV2)
	r.Register(OpCoreVotingModule, V1, coreVotingModule)
	r.Register(OpCoreVotingModule, V2, coreVotingModule)
	r.Register(OpCoreItems, V1, coreItems)
	r.Register(OpCoreItems, V2, coreItems)
}

func contractScope(ref id.ContractRef) []refresh.Scope {
	return []refresh.Scope{refresh.Scope(ref.Address)}
}

func coreConfig(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
	cfg, _, err := resolve.Value[model.DAOConfig](ctx, env.Resolver, resolve.Descriptor{
		Ref:     ref,
		Method:  "config",
		Formula: "daoCore/config",
		Scopes:  contractScope(ref),
	}, env.Options)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func coreVotingModule(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
	addr, _, err := resolve.Value[string](ctx, env.Resolver, resolve.Descriptor{
		Ref:     ref,
		Method:  "voting_module",
		Formula: "daoCore/votingModule",
		Scopes:  contractScope(ref),
	}, env.Options)
	if err != nil {
		return nil, err
	}
	return addr, nil
}

func stringCursorArgs(startAfter *string, limit int) map[string]any {
	args := map[string]any{"limit": limit}
	if startAfter != nil {
		args["start_after"] = *startAfter
	}
	return args
}

// v1 cores list bare addresses and have no module status.
func coreProposalModulesV1(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
	list := resolve.List[string, string]{
		Address:  ref.Address,
		Method:   "proposal_modules",
		PageSize: env.PageSize,
		Args:     stringCursorArgs,
		Decode:   resolve.DecodeArray[string],
		Cursor:   func(s string) string { return s },
		OnPage:   env.Resolver.PageHook(),
	}
	addrs, _, err := resolve.Value[[]string](ctx, env.Resolver, resolve.Descriptor{
		Ref:    ref,
		Method: "proposal_modules",
		Scopes: contractScope(ref),
		Query:  list.Query(),
	}, env.Options)
	if err != nil {
		return nil, err
	}
	modules := make([]model.ProposalModule, 0, len(addrs))
	for _, a := range addrs {
		modules = append(modules, model.ProposalModule{Address: a, Status: "enabled"})
	}
	return modules, nil
}

type proposalModuleV2 struct {
	Address string          `json:"address"`
	Prefix  string          `json:"prefix"`
	Status  json.RawMessage `json:"status"`
}

func coreProposalModulesV2(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
	list := resolve.List[proposalModuleV2, string]{
		Address:  ref.Address,
		Method:   "proposal_modules",
		PageSize: env.PageSize,
		Args:     stringCursorArgs,
		Decode:   resolve.DecodeArray[proposalModuleV2],
		Cursor:   func(m proposalModuleV2) string { return m.Address },
		OnPage:   env.Resolver.PageHook(),
	}
	raw, _, err := resolve.Value[[]proposalModuleV2](ctx, env.Resolver, resolve.Descriptor{
		Ref:     ref,
		Method:  "proposal_modules",
		Formula: "daoCore/proposalModules",
		Scopes:  contractScope(ref),
		Query:   list.Query(),
	}, env.Options)
	if err != nil {
		return nil, err
	}
	modules := make([]model.ProposalModule, 0, len(raw))
	for _, m := range raw {
		modules = append(modules, model.ProposalModule{Address: m.Address, Prefix: m.Prefix, Status: enumName(m.Status)})
	}
	return modules, nil
}

// enumName reads a serde enum that is either "variant" or {"variant": {...}}.
func enumName(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for k := range obj {
			return k
		}
	}
	return ""
}

// coreItems lists the DAO's key-value item store. Pages are [key, value]
// tuples ordered by key.
func coreItems(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
	list := resolve.List[[2]string, string]{
		Address:  ref.Address,
		Method:   "list_items",
		PageSize: env.PageSize,
		Args:     stringCursorArgs,
		Decode:   resolve.DecodeArray[[2]string],
		Cursor:   func(kv [2]string) string { return kv[0] },
		OnPage:   env.Resolver.PageHook(),
	}
	raw, _, err := resolve.Value[[][2]string](ctx, env.Resolver, resolve.Descriptor{
		Ref:     ref,
		Method:  "list_items",
		Formula: "daoCore/listItems",
		Scopes:  contractScope(ref),
		Query:   list.Query(),
	}, env.Options)
	if err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(raw))
	for _, kv := range raw {
		items = append(items, model.Item{Key: kv[0], Value: kv[1]})
	}
	return items, nil
}
