package indexer

import (
	"strings"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/httpx"
)

// Reasons reported for non-authoritative failures.
const (
	ReasonContractNotFound = "contract_not_found"
	ReasonKeyNotFound      = "key_not_found"
	ReasonFormulaNotFound  = "formula_not_found"
	ReasonUnavailable      = "unavailable"
	ReasonRateLimited      = "rate_limited"
)

// classify turns a transport error into an indexer error. "contract not
// found" and "key not found" are authoritative and carry CodeNotFound.
// Everything else means the indexer could not answer and keeps
// CodeUnavailable.
func classify(err error) error {
	status, ok := httpx.AsStatus(err)
	if !ok {
		return clierr.Wrap(clierr.CodeUnavailable, "indexer request failed", err)
	}
	body := strings.ToLower(status.Body)
	switch {
	case strings.Contains(body, "contract not found"):
		return clierr.Wrap(clierr.CodeNotFound, "indexer: contract not found", err)
	case strings.Contains(body, "key not found"):
		return clierr.Wrap(clierr.CodeNotFound, "indexer: key not found", err)
	case strings.Contains(body, "formula not found"):
		return clierr.Wrap(clierr.CodeUnavailable, "indexer: formula not found", err)
	}
	if clierr.HasCode(err, clierr.CodeRateLimited) {
		return err
	}
	return clierr.Wrap(clierr.CodeUnavailable, "indexer unavailable", err)
}

// IsAuthoritative reports whether err proves the contract does not exist.
func IsAuthoritative(err error) bool {
	return clierr.IsNotFound(err)
}

// Reason labels err for logs and metrics.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if IsAuthoritative(err) {
		if status, ok := httpx.AsStatus(err); ok && strings.Contains(strings.ToLower(status.Body), "key not found") {
			return ReasonKeyNotFound
		}
		return ReasonContractNotFound
	}
	if clierr.HasCode(err, clierr.CodeRateLimited) {
		return ReasonRateLimited
	}
	if status, ok := httpx.AsStatus(err); ok && strings.Contains(strings.ToLower(status.Body), "formula not found") {
		return ReasonFormulaNotFound
	}
	return ReasonUnavailable
}
