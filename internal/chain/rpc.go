package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	ethrpc "github.com/ethereum/go-ethereum/rpc"
	"google.golang.org/protobuf/encoding/protowire"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/httpx"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/registry"
)

// rpcClient talks Tendermint JSON-RPC and runs smart queries via abci_query.
type rpcClient struct {
	chainID  id.ChainID
	endpoint string
	rpc      *ethrpc.Client
}

func dialRPC(ctx context.Context, chainID id.ChainID, endpoint string, httpClient *httpx.Client) (*rpcClient, error) {
	endpoint = registry.NormalizeEndpoint(endpoint)
	opts := []ethrpc.ClientOption{}
	if httpClient != nil {
		opts = append(opts, ethrpc.WithHTTPClient(httpClient.HTTPClient()))
	}
	c, err := ethrpc.DialOptions(ctx, endpoint, opts...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "dial rpc", err)
	}
	return &rpcClient{chainID: chainID, endpoint: endpoint, rpc: c}, nil
}

func (c *rpcClient) ChainID() id.ChainID { return c.chainID }
func (c *rpcClient) Endpoint() string    { return c.endpoint }
func (c *rpcClient) Close()              { c.rpc.Close() }

type statusResult struct {
	NodeInfo struct {
		Network string `json:"network"`
	} `json:"node_info"`
}

func (c *rpcClient) probe(ctx context.Context) error {
	var status statusResult
	if err := c.rpc.CallContext(ctx, &status, "status"); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "rpc status", err)
	}
	if status.NodeInfo.Network != string(c.chainID) {
		return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("endpoint serves network %q", status.NodeInfo.Network))
	}
	return nil
}

type abciQueryResult struct {
	Response struct {
		Code      uint32 `json:"code"`
		Log       string `json:"log"`
		Codespace string `json:"codespace"`
		Value     []byte `json:"value"`
	} `json:"response"`
}

func (c *rpcClient) QuerySmart(ctx context.Context, address string, msg any) (json.RawMessage, error) {
	query, err := json.Marshal(msg)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode smart query", err)
	}
	req := encodeSmartQueryRequest(address, query)

	var res abciQueryResult
	if err := c.rpc.CallContext(ctx, &res, "abci_query", registry.SmartQueryPath, hex.EncodeToString(req), "0", false); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "abci_query", err)
	}
	if res.Response.Code != 0 {
		return nil, classifyQueryError(res.Response.Log)
	}
	data, err := decodeSmartQueryResponse(res.Response.Value)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode smart query response", err)
	}
	return json.RawMessage(data), nil
}

// encodeSmartQueryRequest builds QuerySmartContractStateRequest{address=1, query_data=2}.
func encodeSmartQueryRequest(address string, query []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, address)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, query)
	return b
}

// decodeSmartQueryResponse extracts QuerySmartContractStateResponse.data (field 1).
func decodeSmartQueryResponse(buf []byte) ([]byte, error) {
	var data []byte
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]
		if num == 1 && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = v
			buf = buf[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, buf)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		buf = buf[m:]
	}
	if data == nil {
		return nil, errors.New("missing data field")
	}
	return data, nil
}

// classifyQueryError maps a failed contract query to NotFound when the chain
// reports the contract or key as absent.
func classifyQueryError(msg string) error {
	if strings.Contains(strings.ToLower(msg), "not found") {
		return clierr.New(clierr.CodeNotFound, msg)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "contract query failed", errors.New(msg))
}
