package model

import (
	"encoding/json"
	"time"
)

const EnvelopeVersion = "v1"

// Account types.
const (
	AccountNative   = "native"
	AccountPolytone = "polytone"
)

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Command   string         `json:"command"`
	Sources   []SourceStatus `json:"sources,omitempty"`
	Partial   bool           `json:"partial"`
}

// SourceStatus records which tier answered one query of a command.
type SourceStatus struct {
	ChainID   string `json:"chain_id"`
	Contract  string `json:"contract"`
	Query     string `json:"query"`
	Source    string `json:"source"`
	Cached    bool   `json:"cached"`
	LatencyMS int64  `json:"latency_ms"`
}

type ChainInfo struct {
	ChainID      string   `json:"chain_id"`
	Name         string   `json:"name"`
	Bech32Prefix string   `json:"bech32_prefix"`
	RPC          []string `json:"rpc"`
	REST         []string `json:"rest"`
	Indexer      bool     `json:"indexer"`
	Polytone     []string `json:"polytone,omitempty"`
}

type ContractInfo struct {
	ChainID    string   `json:"chain_id"`
	Address    string   `json:"address"`
	Contract   string   `json:"contract"`
	Version    string   `json:"version"`
	Family     string   `json:"family"`
	Operations []string `json:"operations"`
}

type DAOConfig struct {
	Name                   string `json:"name"`
	Description            string `json:"description"`
	ImageURL               string `json:"image_url,omitempty"`
	AutomaticallyAddCW20s  bool   `json:"automatically_add_cw20s"`
	AutomaticallyAddCW721s bool   `json:"automatically_add_cw721s"`
	DAOURI                 string `json:"dao_uri,omitempty"`
}

type ProposalModule struct {
	Address string `json:"address"`
	Prefix  string `json:"prefix,omitempty"`
	Status  string `json:"status"`
}

// ProposalConfig is the version-agnostic view of a proposal module's config.
// Fields absent from a version stay empty.
type ProposalConfig struct {
	Threshold                       json.RawMessage `json:"threshold"`
	MaxVotingPeriod                 json.RawMessage `json:"max_voting_period"`
	MinVotingPeriod                 json.RawMessage `json:"min_voting_period,omitempty"`
	AllowRevoting                   bool            `json:"allow_revoting"`
	OnlyMembersExecute              bool            `json:"only_members_execute"`
	DAO                             string          `json:"dao,omitempty"`
	CloseProposalOnExecutionFailure bool            `json:"close_proposal_on_execution_failure"`
	Deposit                         json.RawMessage `json:"deposit,omitempty"`
}

type VoteTally struct {
	Yes     string `json:"yes"`
	No      string `json:"no"`
	Abstain string `json:"abstain"`
}

type Proposal struct {
	ID          uint64          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Proposer    string          `json:"proposer"`
	Status      string          `json:"status"`
	StartHeight uint64          `json:"start_height"`
	Expiration  json.RawMessage `json:"expiration,omitempty"`
	Threshold   json.RawMessage `json:"threshold,omitempty"`
	TotalPower  string          `json:"total_power"`
	Votes       VoteTally       `json:"votes"`
	MsgCount    int             `json:"msg_count"`
	Vetoable    bool            `json:"vetoable"`
}

type Vote struct {
	Voter     string `json:"voter"`
	Vote      string `json:"vote"`
	Power     string `json:"power"`
	Rationale string `json:"rationale,omitempty"`
}

// CreationPolicy says who may open proposals on a module.
type CreationPolicy struct {
	Anyone bool   `json:"anyone"`
	Module string `json:"module,omitempty"`
}

type Item struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Account is an address a DAO controls on one chain, with the token
// contracts registered for that chain.
type Account struct {
	ChainID string   `json:"chain_id"`
	Address string   `json:"address"`
	Type    string   `json:"type"`
	CW20s   []string `json:"cw20s,omitempty"`
	CW721s  []string `json:"cw721s,omitempty"`
}

type StakedNFT struct {
	TokenID string `json:"token_id"`
}
