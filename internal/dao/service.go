// Package dao answers DAO-level questions by composing the version registry,
// the resolver and the cross-chain account lookup.
package dao

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/quasar-finance/daoresolve/internal/chain"
	"github.com/quasar-finance/daoresolve/internal/contracts"
	"github.com/quasar-finance/daoresolve/internal/crosschain"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/logging"
	"github.com/quasar-finance/daoresolve/internal/model"
	"github.com/quasar-finance/daoresolve/internal/refresh"
	"github.com/quasar-finance/daoresolve/internal/resolve"
)

// NFTPageSize is the page size for staked NFT listings.
const NFTPageSize = 30

type Service struct {
	contracts *contracts.Registry
	resolver  *resolve.Resolver
	accounts  *crosschain.Resolver
	signer    *chain.Provider
	logger    *zap.Logger
}

type Option func(*Service)

// WithSigner enables the state-changing helpers.
func WithSigner(p *chain.Provider) Option {
	return func(s *Service) { s.signer = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(reg *contracts.Registry, resolver *resolve.Resolver, accounts *crosschain.Resolver, opts ...Option) *Service {
	s := &Service{contracts: reg, resolver: resolver, accounts: accounts}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

func (s *Service) ContractInfo(ctx context.Context, ref id.ContractRef) (model.ContractInfo, error) {
	info, err := s.contracts.Info(ctx, ref)
	if err != nil {
		return model.ContractInfo{}, err
	}
	ops := s.contracts.Operations(info.Family)
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, string(op))
	}
	return model.ContractInfo{
		ChainID:    string(ref.ChainID),
		Address:    ref.Address,
		Contract:   info.Contract,
		Version:    info.Version,
		Family:     info.Family.String(),
		Operations: names,
	}, nil
}

func (s *Service) Config(ctx context.Context, core id.ContractRef, opts resolve.Options) (model.DAOConfig, error) {
	return contracts.Call[model.DAOConfig](ctx, s.contracts, core, contracts.OpCoreConfig, nil, opts)
}

func (s *Service) ProposalModules(ctx context.Context, core id.ContractRef, opts resolve.Options) ([]model.ProposalModule, error) {
	return contracts.Call[[]model.ProposalModule](ctx, s.contracts, core, contracts.OpCoreProposalModules, nil, opts)
}

func (s *Service) VotingModule(ctx context.Context, core id.ContractRef, opts resolve.Options) (id.ContractRef, error) {
	addr, err := contracts.Call[string](ctx, s.contracts, core, contracts.OpCoreVotingModule, nil, opts)
	if err != nil {
		return id.ContractRef{}, err
	}
	return id.ContractRef{ChainID: core.ChainID, Address: addr}, nil
}

func (s *Service) Items(ctx context.Context, core id.ContractRef, opts resolve.Options) ([]model.Item, error) {
	return contracts.Call[[]model.Item](ctx, s.contracts, core, contracts.OpCoreItems, nil, opts)
}

func (s *Service) ProposalConfig(ctx context.Context, module id.ContractRef, opts resolve.Options) (model.ProposalConfig, error) {
	return contracts.Call[model.ProposalConfig](ctx, s.contracts, module, contracts.OpProposalConfig, nil, opts)
}

// Proposals lists every proposal of one module, oldest first.
func (s *Service) Proposals(ctx context.Context, module id.ContractRef, opts resolve.Options) ([]model.Proposal, error) {
	return contracts.Call[[]model.Proposal](ctx, s.contracts, module, contracts.OpProposalList, nil, opts)
}

// DAOProposals lists the proposals of every enabled module of a DAO, keyed
// by module address.
func (s *Service) DAOProposals(ctx context.Context, core id.ContractRef, opts resolve.Options) (map[string][]model.Proposal, error) {
	modules, err := s.ProposalModules(ctx, core, opts)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.Proposal, len(modules))
	for _, m := range modules {
		if m.Status != "enabled" {
			continue
		}
		proposals, err := s.Proposals(ctx, id.ContractRef{ChainID: core.ChainID, Address: m.Address}, opts)
		if err != nil {
			return nil, err
		}
		out[m.Address] = proposals
	}
	return out, nil
}

func (s *Service) Proposal(ctx context.Context, module id.ContractRef, proposalID uint64, opts resolve.Options) (model.Proposal, error) {
	return contracts.Call[model.Proposal](ctx, s.contracts, module, contracts.OpProposalGet, contracts.ProposalArgs{ID: proposalID}, opts)
}

func (s *Service) Votes(ctx context.Context, module id.ContractRef, proposalID uint64, opts resolve.Options) ([]model.Vote, error) {
	return contracts.Call[[]model.Vote](ctx, s.contracts, module, contracts.OpProposalVotes, contracts.VotesArgs{ProposalID: proposalID}, opts)
}

func (s *Service) ProposalCount(ctx context.Context, module id.ContractRef, opts resolve.Options) (uint64, error) {
	return contracts.Call[uint64](ctx, s.contracts, module, contracts.OpProposalCount, nil, opts)
}

// NextProposalID is only answered by v2 modules.
func (s *Service) NextProposalID(ctx context.Context, module id.ContractRef, opts resolve.Options) (uint64, error) {
	return contracts.Call[uint64](ctx, s.contracts, module, contracts.OpProposalNextID, nil, opts)
}

func (s *Service) CreationPolicy(ctx context.Context, module id.ContractRef, opts resolve.Options) (model.CreationPolicy, error) {
	return contracts.Call[model.CreationPolicy](ctx, s.contracts, module, contracts.OpProposalCreationPolicy, nil, opts)
}

// StakedNFTs lists the token ids staker has staked in an NFT voting module.
func (s *Service) StakedNFTs(ctx context.Context, votingModule id.ContractRef, staker string, opts resolve.Options) ([]model.StakedNFT, error) {
	list := resolve.List[string, string]{
		Address:  votingModule.Address,
		Method:   "staked_nfts",
		PageSize: NFTPageSize,
		Args: func(startAfter *string, limit int) map[string]any {
			args := map[string]any{"address": staker, "limit": limit}
			if startAfter != nil {
				args["start_after"] = *startAfter
			}
			return args
		},
		Decode: resolve.DecodeArray[string],
		Cursor: func(tokenID string) string { return tokenID },
		OnPage: s.resolver.PageHook(),
	}
	ids, _, err := resolve.Value[[]string](ctx, s.resolver, resolve.Descriptor{
		Ref:         votingModule,
		Method:      "staked_nfts",
		Args:        map[string]any{"address": staker},
		Formula:     "daoVotingCw721Staked/stakedNfts",
		FormulaArgs: map[string]any{"address": staker},
		Scopes:      []refresh.Scope{refresh.Scope(staker), refresh.Scope(votingModule.Address)},
		Query:       list.Query(),
	}, opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.StakedNFT, 0, len(ids))
	for _, tokenID := range ids {
		out = append(out, model.StakedNFT{TokenID: tokenID})
	}
	return out, nil
}

// Accounts returns the DAO's accounts per chain, as a sorted list.
func (s *Service) Accounts(ctx context.Context, core id.ContractRef, opts resolve.Options) ([]model.Account, error) {
	byChain, err := s.accounts.Accounts(ctx, core, opts)
	if err != nil {
		return nil, err
	}
	var out []model.Account
	for _, accounts := range byChain {
		out = append(out, accounts...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChainID != out[j].ChainID {
			return out[i].ChainID < out[j].ChainID
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

func (s *Service) signing(ctx context.Context, chainID id.ChainID, wallet chain.Wallet) (*chain.SigningClient, error) {
	if s.signer == nil {
		return nil, clierr.New(clierr.CodeUnsupported, "no signer configured")
	}
	return s.signer.SigningClient(ctx, chainID, wallet)
}

// Vote casts a vote on a proposal-single module. The voter and module
// scopes are bumped by the signing client.
func (s *Service) Vote(ctx context.Context, wallet chain.Wallet, module id.ContractRef, proposalID uint64, vote string) (chain.TxResult, error) {
	switch vote {
	case "yes", "no", "abstain":
	default:
		return chain.TxResult{}, clierr.New(clierr.CodeUsage, "vote must be yes, no or abstain")
	}
	sc, err := s.signing(ctx, module.ChainID, wallet)
	if err != nil {
		return chain.TxResult{}, err
	}
	msg := map[string]any{"vote": map[string]any{"proposal_id": proposalID, "vote": vote}}
	return sc.Execute(ctx, module.Address, msg, nil)
}

// StakeNFT sends tokenID from collection to the voting module, which stakes
// it for the sender.
func (s *Service) StakeNFT(ctx context.Context, wallet chain.Wallet, votingModule id.ContractRef, collection, tokenID string) (chain.TxResult, error) {
	sc, err := s.signing(ctx, votingModule.ChainID, wallet)
	if err != nil {
		return chain.TxResult{}, err
	}
	msg := map[string]any{"send_nft": map[string]any{
		"contract": votingModule.Address,
		"token_id": tokenID,
		"msg":      "",
	}}
	return sc.Execute(ctx, collection, msg, nil, refresh.Scope(votingModule.Address))
}

func (s *Service) UnstakeNFTs(ctx context.Context, wallet chain.Wallet, votingModule id.ContractRef, tokenIDs []string) (chain.TxResult, error) {
	if len(tokenIDs) == 0 {
		return chain.TxResult{}, clierr.New(clierr.CodeUsage, "no token ids to unstake")
	}
	sc, err := s.signing(ctx, votingModule.ChainID, wallet)
	if err != nil {
		return chain.TxResult{}, err
	}
	msg := map[string]any{"unstake": map[string]any{"token_ids": tokenIDs}}
	return sc.Execute(ctx, votingModule.Address, msg, nil)
}
