package id

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
)

// ChainID is an opaque network identifier such as "juno-1".
type ChainID string

func (c ChainID) String() string { return string(c) }

// ContractRef identifies one deployed contract instance.
type ContractRef struct {
	ChainID ChainID `json:"chain_id"`
	Address string  `json:"address"`
}

func (r ContractRef) String() string {
	return string(r.ChainID) + "/" + r.Address
}

func (r ContractRef) IsZero() bool {
	return r.ChainID == "" && r.Address == ""
}

// ParseChainID normalizes user input into a ChainID.
func ParseChainID(input string) (ChainID, error) {
	norm := strings.TrimSpace(input)
	if norm == "" {
		return "", clierr.New(clierr.CodeUsage, "chain id is required")
	}
	if strings.ContainsAny(norm, " \t\r\n/") {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid chain id: %q", input))
	}
	return ChainID(norm), nil
}

// ValidateAddress checks that addr is a well-formed bech32 string. When prefix
// is non-empty the human-readable part must match it.
func ValidateAddress(addr, prefix string) (string, error) {
	norm := strings.ToLower(strings.TrimSpace(addr))
	if norm == "" {
		return "", clierr.New(clierr.CodeUsage, "address is required")
	}
	hrp, _, err := bech32.DecodeNoLimit(norm)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid bech32 address %q", addr), err)
	}
	if prefix != "" && hrp != prefix {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("address %q has prefix %q, expected %q", addr, hrp, prefix))
	}
	return norm, nil
}

// AddressPrefix returns the human-readable part of a bech32 address.
func AddressPrefix(addr string) (string, error) {
	hrp, _, err := bech32.DecodeNoLimit(strings.ToLower(strings.TrimSpace(addr)))
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid bech32 address %q", addr), err)
	}
	return hrp, nil
}

// Bech32 encodes raw bytes with prefix. Used to derive fixture addresses.
func Bech32(prefix string, data []byte) (string, error) {
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, conv)
}
