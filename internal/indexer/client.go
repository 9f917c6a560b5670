// Package indexer queries the off-chain formula service. Formulas are
// precomputed views over contract state keyed by chain, contract and name.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/httpx"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/registry"
)

// Request addresses one formula evaluation. BlockHeight 0 means latest.
type Request struct {
	ChainID     id.ChainID
	Contract    string
	Formula     string
	Args        map[string]any
	BlockHeight int64
}

type Client struct {
	baseURL string
	http    *httpx.Client
}

func New(baseURL string, httpClient *httpx.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.DefaultIndexerURL
	}
	return &Client{baseURL: registry.NormalizeEndpoint(baseURL), http: httpClient}
}

// Query evaluates the formula. A missing value (204 or empty body) is
// returned as JSON null.
func (c *Client) Query(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Formula == "" {
		return nil, clierr.New(clierr.CodeUsage, "indexer formula is required")
	}
	u, err := c.url(req)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if _, err := httpx.GetJSON(ctx, c.http, u, &raw); err != nil {
		return nil, classify(err)
	}
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	return raw, nil
}

func (c *Client) url(req Request) (string, error) {
	u := fmt.Sprintf("%s/%s/contract/%s/%s", c.baseURL,
		url.PathEscape(string(req.ChainID)), url.PathEscape(req.Contract), strings.Trim(req.Formula, "/"))
	values := url.Values{}
	keys := make([]string, 0, len(req.Args))
	for k := range req.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := argString(req.Args[k])
		if err != nil {
			return "", clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("encode indexer arg %s", k), err)
		}
		values.Set(k, v)
	}
	if req.BlockHeight > 0 {
		values.Set("block", strconv.FormatInt(req.BlockHeight, 10)+":0")
	}
	if len(values) > 0 {
		u += "?" + values.Encode()
	}
	return u, nil
}

func argString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
