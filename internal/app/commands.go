package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quasar-finance/daoresolve/internal/dao"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/model"
)

// target is the --chain/--address pair most commands take.
type target struct {
	chain   string
	address string
}

func (t *target) bind(cmd *cobra.Command, what string) {
	cmd.Flags().StringVar(&t.chain, "chain", "", "Chain id (e.g. juno-1)")
	cmd.Flags().StringVar(&t.address, "address", "", what+" address")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("address")
}

func (s *runtimeState) ref(chainArg, address string) (id.ContractRef, error) {
	chainID, err := id.ParseChainID(chainArg)
	if err != nil {
		return id.ContractRef{}, err
	}
	return s.registry.ContractRef(chainID, address)
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Configured chains"}
	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List configured chains with their endpoints and polytone routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			wanted := map[string]bool{}
			for _, c := range splitCSV(filter) {
				wanted[c] = true
			}
			chains := s.registry.Chains()
			data := make([]model.ChainInfo, 0, len(chains))
			for _, c := range chains {
				if len(wanted) > 0 && !wanted[string(c.ID)] {
					continue
				}
				info := model.ChainInfo{
					ChainID:      string(c.ID),
					Name:         c.Name,
					Bech32Prefix: c.Bech32Prefix,
					RPC:          c.RPC,
					REST:         c.REST,
					Indexer:      c.Indexer,
				}
				for remote := range c.Polytone {
					if _, ok := s.registry.Polytone(c.ID, remote); ok {
						info.Polytone = append(info.Polytone, string(remote))
					}
				}
				sort.Strings(info.Polytone)
				data = append(data, info)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
	list.Flags().StringVar(&filter, "chains", "", "Only these chain ids (comma-separated)")
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newContractCommand() *cobra.Command {
	root := &cobra.Command{Use: "contract", Short: "Contract metadata"}
	var t target
	info := &cobra.Command{
		Use:   "info",
		Short: "Show a contract's self-reported name, version and API family",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := s.ref(t.chain, t.address)
			if err != nil {
				return err
			}
			return s.runQuery(cmd, func(ctx context.Context, svc *dao.Service) (any, error) {
				return svc.ContractInfo(ctx, ref)
			})
		},
	}
	t.bind(info, "Contract")
	root.AddCommand(info)
	return root
}

// coreCommand builds a dao subcommand that reads from the DAO core contract.
func (s *runtimeState) coreCommand(use, short string, fn func(ctx context.Context, svc *dao.Service, core id.ContractRef) (any, error)) *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := s.ref(t.chain, t.address)
			if err != nil {
				return err
			}
			return s.runQuery(cmd, func(ctx context.Context, svc *dao.Service) (any, error) {
				return fn(ctx, svc, core)
			})
		},
	}
	t.bind(cmd, "DAO core")
	return cmd
}

func (s *runtimeState) newDAOCommand() *cobra.Command {
	root := &cobra.Command{Use: "dao", Short: "DAO core queries"}

	root.AddCommand(s.coreCommand("config", "DAO name, description and token auto-registration flags", func(ctx context.Context, svc *dao.Service, core id.ContractRef) (any, error) {
		return svc.Config(ctx, core, s.query)
	}))
	root.AddCommand(s.coreCommand("modules", "Proposal modules with their status", func(ctx context.Context, svc *dao.Service, core id.ContractRef) (any, error) {
		return svc.ProposalModules(ctx, core, s.query)
	}))
	root.AddCommand(s.coreCommand("voting-module", "Voting module address", func(ctx context.Context, svc *dao.Service, core id.ContractRef) (any, error) {
		ref, err := svc.VotingModule(ctx, core, s.query)
		if err != nil {
			return nil, err
		}
		return map[string]string{"chain_id": string(ref.ChainID), "address": ref.Address}, nil
	}))
	root.AddCommand(s.coreCommand("items", "Key/value items stored on the DAO core", func(ctx context.Context, svc *dao.Service, core id.ContractRef) (any, error) {
		return svc.Items(ctx, core, s.query)
	}))

	var chainFilter string
	accounts := s.coreCommand("accounts", "Accounts the DAO controls on every chain", func(ctx context.Context, svc *dao.Service, core id.ContractRef) (any, error) {
		all, err := svc.Accounts(ctx, core, s.query)
		if err != nil {
			return nil, err
		}
		wanted := splitCSV(chainFilter)
		if len(wanted) == 0 {
			return all, nil
		}
		keep := make([]model.Account, 0, len(all))
		for _, a := range all {
			for _, w := range wanted {
				if a.ChainID == w {
					keep = append(keep, a)
					break
				}
			}
		}
		return keep, nil
	})
	accounts.Flags().StringVar(&chainFilter, "chains", "", "Only accounts on these chain ids (comma-separated)")
	root.AddCommand(accounts)

	var module string
	proposals := s.coreCommand("proposals", "Proposals of every enabled module, or of --module", func(ctx context.Context, svc *dao.Service, core id.ContractRef) (any, error) {
		if strings.TrimSpace(module) == "" {
			return svc.DAOProposals(ctx, core, s.query)
		}
		ref, err := s.ref(string(core.ChainID), module)
		if err != nil {
			return nil, err
		}
		return svc.Proposals(ctx, ref, s.query)
	})
	proposals.Flags().StringVar(&module, "module", "", "Only this proposal module")
	root.AddCommand(proposals)

	var votingModule, staker string
	staked := s.coreCommand("staked-nfts", "NFTs a wallet has staked in the DAO's NFT voting module", func(ctx context.Context, svc *dao.Service, core id.ContractRef) (any, error) {
		if strings.TrimSpace(staker) == "" {
			return nil, clierr.New(clierr.CodeUsage, "--staker is required")
		}
		var ref id.ContractRef
		var err error
		if strings.TrimSpace(votingModule) != "" {
			ref, err = s.ref(string(core.ChainID), votingModule)
		} else {
			ref, err = svc.VotingModule(ctx, core, s.query)
		}
		if err != nil {
			return nil, err
		}
		return svc.StakedNFTs(ctx, ref, strings.ToLower(strings.TrimSpace(staker)), s.query)
	})
	staked.Flags().StringVar(&votingModule, "voting-module", "", "Voting module address (default: the DAO's)")
	staked.Flags().StringVar(&staker, "staker", "", "Staker wallet address")
	root.AddCommand(staked)

	root.AddCommand(s.proposalCommand("proposal", "One proposal of a proposal module", func(ctx context.Context, svc *dao.Service, module id.ContractRef, proposalID uint64) (any, error) {
		return svc.Proposal(ctx, module, proposalID, s.query)
	}))
	root.AddCommand(s.proposalCommand("votes", "Every vote cast on a proposal", func(ctx context.Context, svc *dao.Service, module id.ContractRef, proposalID uint64) (any, error) {
		return svc.Votes(ctx, module, proposalID, s.query)
	}))

	return root
}

func (s *runtimeState) proposalCommand(use, short string, fn func(ctx context.Context, svc *dao.Service, module id.ContractRef, proposalID uint64) (any, error)) *cobra.Command {
	var chainArg, module string
	var proposalID uint64
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := s.ref(chainArg, module)
			if err != nil {
				return err
			}
			if proposalID == 0 {
				return clierr.New(clierr.CodeUsage, "--id must be a positive proposal id")
			}
			return s.runQuery(cmd, func(ctx context.Context, svc *dao.Service) (any, error) {
				return fn(ctx, svc, ref, proposalID)
			})
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain id (e.g. juno-1)")
	cmd.Flags().StringVar(&module, "module", "", "Proposal module address")
	cmd.Flags().Uint64Var(&proposalID, "id", 0, "Proposal id")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func (s *runtimeState) newModuleCommand() *cobra.Command {
	root := &cobra.Command{Use: "module", Short: "Proposal module queries"}
	sub := func(use, short string, fn func(ctx context.Context, svc *dao.Service, module id.ContractRef) (any, error)) *cobra.Command {
		var t target
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				ref, err := s.ref(t.chain, t.address)
				if err != nil {
					return err
				}
				return s.runQuery(cmd, func(ctx context.Context, svc *dao.Service) (any, error) {
					return fn(ctx, svc, ref)
				})
			},
		}
		t.bind(cmd, "Proposal module")
		return cmd
	}

	root.AddCommand(sub("config", "Voting threshold, periods and deposit settings", func(ctx context.Context, svc *dao.Service, module id.ContractRef) (any, error) {
		return svc.ProposalConfig(ctx, module, s.query)
	}))
	root.AddCommand(sub("proposals", "Every proposal of the module", func(ctx context.Context, svc *dao.Service, module id.ContractRef) (any, error) {
		return svc.Proposals(ctx, module, s.query)
	}))
	root.AddCommand(sub("count", "Number of proposals created", func(ctx context.Context, svc *dao.Service, module id.ContractRef) (any, error) {
		n, err := svc.ProposalCount(ctx, module, s.query)
		return map[string]uint64{"count": n}, err
	}))
	root.AddCommand(sub("next-id", "Id the next proposal will get (v2 modules)", func(ctx context.Context, svc *dao.Service, module id.ContractRef) (any, error) {
		n, err := svc.NextProposalID(ctx, module, s.query)
		return map[string]uint64{"next_id": n}, err
	}))
	root.AddCommand(sub("creation-policy", "Who may create proposals (v2 modules)", func(ctx context.Context, svc *dao.Service, module id.ContractRef) (any, error) {
		return svc.CreationPolicy(ctx, module, s.query)
	}))
	return root
}

func (s *runtimeState) newCacheCommand() *cobra.Command {
	root := &cobra.Command{Use: "cache", Short: "Persisted contract facts"}
	var maxAge time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Drop persisted contract facts older than --max-age",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !s.settings.CacheEnabled {
				return clierr.New(clierr.CodeUsage, "cache is disabled")
			}
			if maxAge <= 0 {
				return clierr.New(clierr.CodeUsage, "--max-age must be positive")
			}
			if _, err := s.backend(); err != nil {
				return err
			}
			if err := s.cache.Prune(maxAge); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "prune cache", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]string{"pruned_before": s.runner.now().Add(-maxAge).UTC().Format(time.RFC3339)}, nil)
		},
	}
	prune.Flags().DurationVar(&maxAge, "max-age", 0, "Maximum age of kept facts (e.g. 720h)")
	root.AddCommand(prune)
	return root
}
