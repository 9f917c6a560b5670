package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/flight"
	"github.com/quasar-finance/daoresolve/internal/httpx"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/logging"
	"github.com/quasar-finance/daoresolve/internal/refresh"
	"github.com/quasar-finance/daoresolve/internal/registry"
)

// Client is a read-only connection to one chain.
type Client interface {
	ChainID() id.ChainID
	Endpoint() string
	// QuerySmart runs a contract smart query and returns the raw JSON answer.
	QuerySmart(ctx context.Context, address string, msg any) (json.RawMessage, error)
}

// Provider lazily discovers and memoizes one Client per chain for the life of
// the process. Concurrent first calls for a chain share one discovery.
type Provider struct {
	reg    *registry.Registry
	http   *httpx.Client
	bus    *refresh.Bus
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[id.ChainID]Client
	group   flight.Group[Client]
}

func NewProvider(reg *registry.Registry, httpClient *httpx.Client, bus *refresh.Bus, logger *zap.Logger) *Provider {
	return &Provider{
		reg:     reg,
		http:    httpClient,
		bus:     bus,
		logger:  logging.OrNop(logger),
		clients: make(map[id.ChainID]Client),
	}
}

// Client returns the memoized client for chainID, discovering an endpoint on
// first use. Discovery failures are not memoized.
func (p *Provider) Client(ctx context.Context, chainID id.ChainID) (Client, error) {
	p.mu.RLock()
	c, ok := p.clients[chainID]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	chain, err := p.reg.Chain(chainID)
	if err != nil {
		return nil, err
	}

	c, _, err = p.group.Do(ctx, string(chainID), func(ctx context.Context) (Client, error) {
		p.mu.RLock()
		existing, ok := p.clients[chainID]
		p.mu.RUnlock()
		if ok {
			return existing, nil
		}
		discovered, err := p.discover(ctx, chain)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.clients[chainID] = discovered
		p.mu.Unlock()
		return discovered, nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Register installs a client for chainID, bypassing discovery.
func (p *Provider) Register(c Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[c.ChainID()] = c
}

// discover probes RPC endpoints in preference order, then REST endpoints.
// The first endpoint that answers for the expected network wins.
func (p *Provider) discover(ctx context.Context, chain registry.Chain) (Client, error) {
	var errs []error
	for _, endpoint := range chain.RPC {
		c, err := dialRPC(ctx, chain.ID, endpoint, p.http)
		if err == nil {
			err = c.probe(ctx)
			if err == nil {
				p.logger.Debug("chain endpoint selected", zap.String("chain", string(chain.ID)), zap.String("rpc", c.Endpoint()))
				return c, nil
			}
			c.Close()
		}
		p.logger.Debug("rpc endpoint rejected", zap.String("chain", string(chain.ID)), zap.String("endpoint", endpoint), zap.Error(err))
		errs = append(errs, fmt.Errorf("rpc %s: %w", endpoint, err))
	}
	for _, endpoint := range chain.REST {
		c := newRESTClient(chain.ID, endpoint, p.http)
		err := c.probe(ctx)
		if err == nil {
			p.logger.Debug("chain endpoint selected", zap.String("chain", string(chain.ID)), zap.String("rest", c.Endpoint()))
			return c, nil
		}
		p.logger.Debug("rest endpoint rejected", zap.String("chain", string(chain.ID)), zap.String("endpoint", endpoint), zap.Error(err))
		errs = append(errs, fmt.Errorf("rest %s: %w", endpoint, err))
	}
	if len(errs) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no endpoints configured for chain %s", chain.ID))
	}
	return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("no reachable endpoint for chain %s", chain.ID), errors.Join(errs...))
}
