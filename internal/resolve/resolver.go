// Package resolve implements the indexer-first read path. A descriptor is
// answered from the indexer when the chain has one, and from a direct
// contract query otherwise or when the indexer cannot answer. Results are
// cached under a key that embeds the refresh epochs read at request time.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"

	"github.com/quasar-finance/daoresolve/internal/chain"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/flight"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/indexer"
	"github.com/quasar-finance/daoresolve/internal/logging"
	"github.com/quasar-finance/daoresolve/internal/metrics"
	"github.com/quasar-finance/daoresolve/internal/refresh"
	"github.com/quasar-finance/daoresolve/internal/registry"
)

type Source string

const (
	SourceIndexer Source = "indexer"
	SourceChain   Source = "chain"
)

// ChainQuery runs the chain side of a descriptor against a connected client.
type ChainQuery func(ctx context.Context, c chain.Client) (json.RawMessage, error)

// Descriptor is the unit of cacheable work. Two descriptors with equal
// Ref, Method, Args, Formula, FormulaArgs and Scopes share a cache entry.
type Descriptor struct {
	Ref         id.ContractRef
	Method      string
	Args        any
	Formula     string
	FormulaArgs map[string]any
	Scopes      []refresh.Scope
	// Query replaces the default {Method: Args} smart query, e.g. to
	// accumulate pages. It must depend only on Method and Args.
	Query ChainQuery
}

type Options struct {
	// NoFallback skips the indexer tier and reads the chain directly.
	NoFallback bool
	// BlockHeight pins the indexer read. Zero means latest.
	BlockHeight int64
	// Bypass skips the cache read. The fresh result is still stored.
	Bypass bool
}

// Result is an immutable resolved value. A newer resolution supersedes it
// under a new cache key.
type Result struct {
	Value  json.RawMessage `json:"value"`
	Source Source          `json:"source"`
	Epochs []uint64        `json:"epochs"`
	Cached bool            `json:"-"`
}

type IndexerClient interface {
	Query(ctx context.Context, req indexer.Request) (json.RawMessage, error)
}

type ClientProvider interface {
	Client(ctx context.Context, chainID id.ChainID) (chain.Client, error)
}

type Resolver struct {
	reg      *registry.Registry
	chains   ClientProvider
	indexer  IndexerClient
	bus      *refresh.Bus
	cache    *bigcache.BigCache
	large    *largeEntries
	maxEntry int
	group    flight.Group[Result]
	metrics  *metrics.Collectors
	logger   *zap.Logger
}

type Option func(*settings)

type settings struct {
	cache   CacheConfig
	metrics *metrics.Collectors
	logger  *zap.Logger
}

func WithCache(cfg CacheConfig) Option {
	return func(s *settings) { s.cache = cfg }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(s *settings) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// New builds a resolver. idx may be nil when no indexer is configured.
func New(reg *registry.Registry, chains ClientProvider, idx IndexerClient, bus *refresh.Bus, opts ...Option) (*Resolver, error) {
	s := settings{cache: DefaultCacheConfig()}
	for _, opt := range opts {
		opt(&s)
	}
	if bus == nil {
		bus = refresh.New()
	}
	store, err := newStore(s.cache)
	if err != nil {
		return nil, err
	}
	life := s.cache.LifeWindow
	if life <= 0 {
		life = DefaultCacheConfig().LifeWindow
	}
	return &Resolver{
		reg:      reg,
		chains:   chains,
		indexer:  idx,
		bus:      bus,
		cache:    store,
		large:    newLargeEntries(life, positiveOr(s.cache.LargeEntriesMB, DefaultCacheConfig().LargeEntriesMB)*1024*1024),
		maxEntry: shardLimit(s.cache),
		metrics:  s.metrics,
		logger:   logging.OrNop(s.logger),
	}, nil
}

func (r *Resolver) Close() error {
	return r.cache.Close()
}

func (r *Resolver) Bus() *refresh.Bus { return r.bus }

// Resolve answers d from cache, indexer or chain, in that order. Within one
// resolution the indexer attempt always completes before the chain query
// starts. Nothing is retried here.
func (r *Resolver) Resolve(ctx context.Context, d Descriptor, opts Options) (Result, error) {
	if d.Ref.IsZero() || (d.Method == "" && d.Query == nil) {
		return Result{}, clierr.New(clierr.CodeUsage, "descriptor needs a contract and a method")
	}
	started := time.Now()
	scopes := append([]refresh.Scope{refresh.AllScope}, d.Scopes...)
	epochs := r.bus.Snapshot(scopes...)
	key, err := cacheKey(d, opts, scopes, epochs)
	if err != nil {
		return Result{}, err
	}

	if !opts.Bypass {
		if res, ok := r.lookup(key); ok {
			r.metrics.Resolved(metrics.SourceCache)
			record(ctx, d, res, time.Since(started))
			return res, nil
		}
	}

	flightKey := key
	if opts.Bypass {
		flightKey += "|bypass"
	}
	res, _, err := r.group.Do(ctx, flightKey, func(ctx context.Context) (Result, error) {
		res, err := r.resolveUncached(ctx, d, opts)
		if err != nil {
			return Result{}, err
		}
		res.Epochs = epochs
		r.store(key, res)
		r.metrics.Resolved(string(res.Source))
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	record(ctx, d, res, time.Since(started))
	return res, nil
}

func (r *Resolver) resolveUncached(ctx context.Context, d Descriptor, opts Options) (Result, error) {
	info, err := r.reg.Chain(d.Ref.ChainID)
	if err != nil {
		return Result{}, err
	}
	if d.Formula != "" && !opts.NoFallback {
		if r.indexer == nil || !info.Indexer {
			r.metrics.Fallback("no_indexer")
		} else {
			raw, err := r.queryIndexer(ctx, d, opts)
			if err == nil {
				return Result{Value: raw, Source: SourceIndexer}, nil
			}
			if indexer.IsAuthoritative(err) {
				return Result{}, err
			}
			reason := indexer.Reason(err)
			if errors.Is(err, errEmptyIndexerValue) {
				reason = "empty"
			}
			r.logger.Warn("indexer query failed, falling back to chain",
				zap.String("chain", string(d.Ref.ChainID)),
				zap.String("contract", d.Ref.Address),
				zap.String("formula", d.Formula),
				zap.String("reason", reason),
				zap.Error(err))
			r.metrics.Fallback(reason)
		}
	}

	raw, err := r.queryChain(ctx, d)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: raw, Source: SourceChain}, nil
}

// errEmptyIndexerValue marks a formula that evaluated to nothing. The chain
// is asked instead.
var errEmptyIndexerValue = clierr.New(clierr.CodeUnavailable, "indexer returned no value")

func (r *Resolver) queryIndexer(ctx context.Context, d Descriptor, opts Options) (json.RawMessage, error) {
	raw, err := r.indexer.Query(ctx, indexer.Request{
		ChainID:     d.Ref.ChainID,
		Contract:    d.Ref.Address,
		Formula:     d.Formula,
		Args:        d.FormulaArgs,
		BlockHeight: opts.BlockHeight,
	})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, errEmptyIndexerValue
	}
	return raw, nil
}

func (r *Resolver) queryChain(ctx context.Context, d Descriptor) (json.RawMessage, error) {
	client, err := r.chains.Client(ctx, d.Ref.ChainID)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("querying chain",
		zap.String("chain", string(d.Ref.ChainID)),
		zap.String("contract", d.Ref.Address),
		zap.String("method", d.Method))
	query := d.Query
	if query == nil {
		query = SmartQuery(d.Ref.Address, d.Method, d.Args)
	}
	raw, err := query(ctx, client)
	r.metrics.ChainQuery(string(d.Ref.ChainID), err)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// SmartQuery returns the default chain query {method: args}.
func SmartQuery(address, method string, args any) ChainQuery {
	return func(ctx context.Context, c chain.Client) (json.RawMessage, error) {
		body := args
		if body == nil {
			body = struct{}{}
		}
		return c.QuerySmart(ctx, address, map[string]any{method: body})
	}
}

// Value resolves d and decodes the answer into T.
func Value[T any](ctx context.Context, r *Resolver, d Descriptor, opts Options) (T, Source, error) {
	var out T
	res, err := r.Resolve(ctx, d, opts)
	if err != nil {
		return out, "", err
	}
	if err := json.Unmarshal(res.Value, &out); err != nil {
		return out, res.Source, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s answer from %s", d.Method, res.Source), err)
	}
	return out, res.Source, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
