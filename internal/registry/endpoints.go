package registry

import "strings"

const (
	// DefaultIndexerURL serves precomputed contract formulas for indexed chains.
	DefaultIndexerURL = "https://indexer.daodao.zone"

	SmartQueryPath = "/cosmwasm.wasm.v1.Query/SmartContractState"
	NodeInfoPath   = "/cosmos/base/tendermint/v1beta1/node_info"
)

// NormalizeEndpoint trims whitespace and trailing slashes.
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}
