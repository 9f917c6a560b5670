// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/quasar-finance/daoresolve/internal/chain"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/id"
)

// ContractFunc answers one smart query. Returning json.RawMessage passes the
// bytes through unchanged.
type ContractFunc func(method string, args json.RawMessage) (any, error)

type Call struct {
	Address string
	Method  string
	Args    json.RawMessage
}

type Client struct {
	chainID id.ChainID

	mu        sync.Mutex
	contracts map[string]ContractFunc
	calls     []Call
}

func New(chainID id.ChainID) *Client {
	return &Client{chainID: chainID, contracts: make(map[string]ContractFunc)}
}

// Handle routes queries for address to fn.
func (c *Client) Handle(address string, fn ContractFunc) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[address] = fn
	return c
}

func (c *Client) ChainID() id.ChainID { return c.chainID }
func (c *Client) Endpoint() string    { return "memory://" + string(c.chainID) }

func (c *Client) QuerySmart(_ context.Context, address string, msg any) (json.RawMessage, error) {
	buf, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(buf, &body); err != nil || len(body) != 1 {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("malformed smart query %s", buf))
	}
	var method string
	var args json.RawMessage
	for k, v := range body {
		method, args = k, v
	}

	c.mu.Lock()
	c.calls = append(c.calls, Call{Address: address, Method: method, Args: args})
	fn, ok := c.contracts[address]
	c.mu.Unlock()
	if !ok {
		return nil, clierr.New(clierr.CodeNotFound, fmt.Sprintf("contract %s: not found", address))
	}

	out, err := fn(method, args)
	if err != nil {
		return nil, err
	}
	if raw, ok := out.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(out)
}

// Calls counts queries for method. An empty method counts every query.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if method == "" || call.Method == method {
			n++
		}
	}
	return n
}

func (c *Client) History() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Provider serves fixed clients by chain.
type Provider map[id.ChainID]*Client

func (p Provider) Client(_ context.Context, chainID id.ChainID) (chain.Client, error) {
	c, ok := p[chainID]
	if !ok {
		return nil, clierr.UnsupportedChain(string(chainID))
	}
	return c, nil
}

// Info answers the cw2 info query.
func Info(contract, version string) map[string]any {
	return map[string]any{"info": map[string]string{"contract": contract, "version": version}}
}
