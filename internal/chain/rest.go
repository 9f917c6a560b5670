package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/httpx"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/registry"
)

// restClient runs smart queries through the LCD REST gateway.
type restClient struct {
	chainID  id.ChainID
	endpoint string
	http     *httpx.Client
}

func newRESTClient(chainID id.ChainID, endpoint string, httpClient *httpx.Client) *restClient {
	return &restClient{chainID: chainID, endpoint: registry.NormalizeEndpoint(endpoint), http: httpClient}
}

func (c *restClient) ChainID() id.ChainID { return c.chainID }
func (c *restClient) Endpoint() string    { return c.endpoint }

type nodeInfoResp struct {
	DefaultNodeInfo struct {
		Network string `json:"network"`
	} `json:"default_node_info"`
}

func (c *restClient) probe(ctx context.Context) error {
	var info nodeInfoResp
	if _, err := httpx.GetJSON(ctx, c.http, c.endpoint+registry.NodeInfoPath, &info); err != nil {
		return err
	}
	if info.DefaultNodeInfo.Network != string(c.chainID) {
		return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("endpoint serves network %q", info.DefaultNodeInfo.Network))
	}
	return nil
}

type smartResp struct {
	Data json.RawMessage `json:"data"`
}

func (c *restClient) QuerySmart(ctx context.Context, address string, msg any) (json.RawMessage, error) {
	query, err := json.Marshal(msg)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode smart query", err)
	}
	u := fmt.Sprintf("%s/cosmwasm/wasm/v1/contract/%s/smart/%s",
		c.endpoint, url.PathEscape(address), url.PathEscape(base64.StdEncoding.EncodeToString(query)))
	var resp smartResp
	if _, err := httpx.GetJSON(ctx, c.http, u, &resp); err != nil {
		if status, ok := httpx.AsStatus(err); ok && status.Body != "" && status.StatusCode != http.StatusTooManyRequests {
			return nil, classifyQueryError(status.Body)
		}
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "smart query returned no data")
	}
	return resp.Data, nil
}
