package contracts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
)

// Version is the API family a deployed contract speaks.
type Version int

const (
	VersionUnknown Version = iota
	V1
	V2
)

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return "unknown"
	}
}

// ParseVersion maps a cw2 semver string to its family: 0.1.x is V1, while
// the 0.2.x pre-releases and every 2.x release are V2. Anything else is
// rejected rather than guessed.
func ParseVersion(raw string) (Version, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return VersionUnknown, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unrecognized contract version %q", raw))
	}
	major, errMajor := strconv.Atoi(parts[0])
	minor, errMinor := strconv.Atoi(parts[1])
	if errMajor != nil || errMinor != nil {
		return VersionUnknown, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unrecognized contract version %q", raw))
	}
	switch {
	case major == 0 && minor == 1:
		return V1, nil
	case major == 0 && minor == 2, major == 2:
		return V2, nil
	}
	return VersionUnknown, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported contract version %q", raw))
}

// Info is a contract's self-reported cw2 identity.
type Info struct {
	Contract string  `json:"contract"`
	Version  string  `json:"version"`
	Family   Version `json:"-"`
}

// decodeInfo accepts both the chain answer {"info":{...}} and the bare
// object the indexer serves.
func decodeInfo(raw json.RawMessage) (Info, error) {
	var wrapped struct {
		Info *Info `json:"info"`
		cw2Fields
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return Info{}, clierr.Wrap(clierr.CodeUnavailable, "decode contract info", err)
	}
	info := Info{Contract: wrapped.Contract, Version: wrapped.Version}
	if wrapped.Info != nil {
		info = *wrapped.Info
	}
	if info.Version == "" {
		return Info{}, clierr.New(clierr.CodeUnavailable, "contract info has no version")
	}
	family, err := ParseVersion(info.Version)
	if err != nil {
		return Info{}, err
	}
	info.Family = family
	return info, nil
}

type cw2Fields struct {
	Contract string `json:"contract"`
	Version  string `json:"version"`
}
