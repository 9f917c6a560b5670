package contracts

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/model"
	"github.com/quasar-finance/daoresolve/internal/resolve"
)

// Proposal module operations.
const (
	OpProposalConfig         Operation = "proposal.config"
	OpProposalList           Operation = "proposal.list"
	OpProposalGet            Operation = "proposal.get"
	OpProposalVotes          Operation = "proposal.votes"
	OpProposalCount          Operation = "proposal.count"
	OpProposalNextID         Operation = "proposal.next_id"
	OpProposalCreationPolicy Operation = "proposal.creation_policy"
)

type ProposalArgs struct {
	ID uint64
}

type VotesArgs struct {
	ProposalID uint64
}

func registerProposalSingle(r *Registry) {
	r.Register(OpProposalConfig, V1, proposalConfigV1)
	r.Register(OpProposalConfig, V2, proposalConfigV2)
	for _, v := range []Version{V1, V2} {
		r.Register(OpProposalList, v, proposalList(v))
		r.Register(OpProposalGet, v, proposalGet(v))
		r.Register(OpProposalVotes, v, proposalVotes(v))
		r.Register(OpProposalCount, v, proposalCount)
	}
	r.Register(OpProposalNextID, V2, proposalNextID)
	r.Register(OpProposalCreationPolicy, V2, proposalCreationPolicy)
}

type configV1 struct {
	Threshold          json.RawMessage `json:"threshold"`
	MaxVotingPeriod    json.RawMessage `json:"max_voting_period"`
	MinVotingPeriod    json.RawMessage `json:"min_voting_period"`
	OnlyMembersExecute bool            `json:"only_members_execute"`
	AllowRevoting      bool            `json:"allow_revoting"`
	DepositInfo        json.RawMessage `json:"deposit_info"`
}

type configV2 struct {
	Threshold                       json.RawMessage `json:"threshold"`
	MaxVotingPeriod                 json.RawMessage `json:"max_voting_period"`
	MinVotingPeriod                 json.RawMessage `json:"min_voting_period"`
	OnlyMembersExecute              bool            `json:"only_members_execute"`
	AllowRevoting                   bool            `json:"allow_revoting"`
	DAO                             string          `json:"dao"`
	CloseProposalOnExecutionFailure bool            `json:"close_proposal_on_execution_failure"`
}

func configDescriptor(ref id.ContractRef) resolve.Descriptor {
	return resolve.Descriptor{
		Ref:     ref,
		Method:  "config",
		Formula: "daoProposalSingle/config",
		Scopes:  contractScope(ref),
	}
}

func proposalConfigV1(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
	c, _, err := resolve.Value[configV1](ctx, env.Resolver, configDescriptor(ref), env.Options)
	if err != nil {
		return nil, err
	}
	return model.ProposalConfig{
		Threshold:          c.Threshold,
		MaxVotingPeriod:    c.MaxVotingPeriod,
		MinVotingPeriod:    nullToEmpty(c.MinVotingPeriod),
		AllowRevoting:      c.AllowRevoting,
		OnlyMembersExecute: c.OnlyMembersExecute,
		Deposit:            nullToEmpty(c.DepositInfo),
	}, nil
}

func proposalConfigV2(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
	c, _, err := resolve.Value[configV2](ctx, env.Resolver, configDescriptor(ref), env.Options)
	if err != nil {
		return nil, err
	}
	return model.ProposalConfig{
		Threshold:                       c.Threshold,
		MaxVotingPeriod:                 c.MaxVotingPeriod,
		MinVotingPeriod:                 nullToEmpty(c.MinVotingPeriod),
		AllowRevoting:                   c.AllowRevoting,
		OnlyMembersExecute:              c.OnlyMembersExecute,
		DAO:                             c.DAO,
		CloseProposalOnExecutionFailure: c.CloseProposalOnExecutionFailure,
	}, nil
}

type tally struct {
	Yes     string `json:"yes"`
	No      string `json:"no"`
	Abstain string `json:"abstain"`
}

// proposalBody holds the fields both families share. V2 adds veto.
type proposalBody struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Proposer    string            `json:"proposer"`
	StartHeight uint64            `json:"start_height"`
	Expiration  json.RawMessage   `json:"expiration"`
	Threshold   json.RawMessage   `json:"threshold"`
	TotalPower  string            `json:"total_power"`
	Msgs        []json.RawMessage `json:"msgs"`
	Status      json.RawMessage   `json:"status"`
	Votes       tally             `json:"votes"`
	Veto        json.RawMessage   `json:"veto"`
}

type proposalResponse struct {
	ID       uint64       `json:"id"`
	Proposal proposalBody `json:"proposal"`
}

func (p proposalResponse) normalize(v Version) model.Proposal {
	out := model.Proposal{
		ID:          p.ID,
		Title:       p.Proposal.Title,
		Description: p.Proposal.Description,
		Proposer:    p.Proposal.Proposer,
		Status:      enumName(p.Proposal.Status),
		StartHeight: p.Proposal.StartHeight,
		Expiration:  nullToEmpty(p.Proposal.Expiration),
		Threshold:   nullToEmpty(p.Proposal.Threshold),
		TotalPower:  p.Proposal.TotalPower,
		Votes:       model.VoteTally(p.Proposal.Votes),
		MsgCount:    len(p.Proposal.Msgs),
	}
	if v == V2 {
		out.Vetoable = len(nullToEmpty(p.Proposal.Veto)) > 0
	}
	return out
}

func proposalList(v Version) Impl {
	return func(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
		list := resolve.List[proposalResponse, uint64]{
			Address:  ref.Address,
			Method:   "list_proposals",
			PageSize: env.PageSize,
			Args: func(startAfter *uint64, limit int) map[string]any {
				args := map[string]any{"limit": limit}
				if startAfter != nil {
					args["start_after"] = *startAfter
				}
				return args
			},
			Decode: resolve.DecodeField[proposalResponse]("proposals"),
			Cursor: func(p proposalResponse) uint64 { return p.ID },
			OnPage: env.Resolver.PageHook(),
		}
		raw, _, err := resolve.Value[[]proposalResponse](ctx, env.Resolver, resolve.Descriptor{
			Ref:     ref,
			Method:  "list_proposals",
			Formula: "daoProposalSingle/listProposals",
			Scopes:  contractScope(ref),
			Query:   list.Query(),
		}, env.Options)
		if err != nil {
			return nil, err
		}
		proposals := make([]model.Proposal, 0, len(raw))
		for _, p := range raw {
			proposals = append(proposals, p.normalize(v))
		}
		return proposals, nil
	}
}

func proposalGet(v Version) Impl {
	return func(ctx context.Context, env Env, ref id.ContractRef, args any) (any, error) {
		a, ok := args.(ProposalArgs)
		if !ok {
			return nil, badArgs(OpProposalGet, args)
		}
		p, _, err := resolve.Value[proposalResponse](ctx, env.Resolver, resolve.Descriptor{
			Ref:         ref,
			Method:      "proposal",
			Args:        map[string]any{"proposal_id": a.ID},
			Formula:     "daoProposalSingle/proposal",
			FormulaArgs: map[string]any{"id": a.ID},
			Scopes:      contractScope(ref),
		}, env.Options)
		if err != nil {
			return nil, err
		}
		return p.normalize(v), nil
	}
}

type voteInfo struct {
	Voter     string `json:"voter"`
	Vote      string `json:"vote"`
	Power     string `json:"power"`
	Rationale string `json:"rationale"`
}

func proposalVotes(v Version) Impl {
	return func(ctx context.Context, env Env, ref id.ContractRef, args any) (any, error) {
		a, ok := args.(VotesArgs)
		if !ok {
			return nil, badArgs(OpProposalVotes, args)
		}
		list := resolve.List[voteInfo, string]{
			Address:  ref.Address,
			Method:   "list_votes",
			PageSize: env.PageSize,
			Args: func(startAfter *string, limit int) map[string]any {
				out := stringCursorArgs(startAfter, limit)
				out["proposal_id"] = a.ProposalID
				return out
			},
			Decode: resolve.DecodeField[voteInfo]("votes"),
			Cursor: func(vi voteInfo) string { return vi.Voter },
			OnPage: env.Resolver.PageHook(),
		}
		raw, _, err := resolve.Value[[]voteInfo](ctx, env.Resolver, resolve.Descriptor{
			Ref:         ref,
			Method:      "list_votes",
			Args:        map[string]any{"proposal_id": a.ProposalID},
			Formula:     "daoProposalSingle/listVotes",
			FormulaArgs: map[string]any{"proposalId": a.ProposalID},
			Scopes:      contractScope(ref),
			Query:       list.Query(),
		}, env.Options)
		if err != nil {
			return nil, err
		}
		votes := make([]model.Vote, 0, len(raw))
		for _, vi := range raw {
			vote := model.Vote{Voter: vi.Voter, Vote: vi.Vote, Power: vi.Power}
			// v1 modules have no rationale field.
			if v == V2 {
				vote.Rationale = vi.Rationale
			}
			votes = append(votes, vote)
		}
		return votes, nil
	}
}

func proposalCount(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
	return resolveUint(ctx, env, resolve.Descriptor{
		Ref:     ref,
		Method:  "proposal_count",
		Formula: "daoProposalSingle/proposalCount",
		Scopes:  contractScope(ref),
	})
}

func proposalNextID(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
	return resolveUint(ctx, env, resolve.Descriptor{
		Ref:     ref,
		Method:  "next_proposal_id",
		Formula: "daoProposalSingle/nextProposalId",
		Scopes:  contractScope(ref),
	})
}

type creationPolicy struct {
	Anyone *struct{} `json:"anyone"`
	Module *struct {
		Addr string `json:"addr"`
	} `json:"module"`
}

func proposalCreationPolicy(ctx context.Context, env Env, ref id.ContractRef, _ any) (any, error) {
	p, _, err := resolve.Value[creationPolicy](ctx, env.Resolver, resolve.Descriptor{
		Ref:     ref,
		Method:  "proposal_creation_policy",
		Formula: "daoProposalSingle/creationPolicy",
		Scopes:  contractScope(ref),
	}, env.Options)
	if err != nil {
		return nil, err
	}
	switch {
	case p.Module != nil:
		return model.CreationPolicy{Module: p.Module.Addr}, nil
	case p.Anyone != nil:
		return model.CreationPolicy{Anyone: true}, nil
	}
	return nil, clierr.New(clierr.CodeUnavailable, "unrecognized proposal creation policy")
}

// resolveUint accepts counters encoded as JSON numbers or strings.
func resolveUint(ctx context.Context, env Env, d resolve.Descriptor) (uint64, error) {
	raw, _, err := resolve.Value[json.RawMessage](ctx, env.Resolver, d, env.Options)
	if err != nil {
		return 0, err
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("decode %s: unexpected value %s", d.Method, raw))
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func badArgs(op Operation, args any) error {
	return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s: unexpected arguments %T", op, args))
}
