// Package contracts dispatches logical operations to the implementation that
// matches a contract's deployed API version. Call sites ask for an operation
// by name and never branch on versions themselves.
package contracts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/quasar-finance/daoresolve/internal/cache"
	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/flight"
	"github.com/quasar-finance/daoresolve/internal/id"
	"github.com/quasar-finance/daoresolve/internal/logging"
	"github.com/quasar-finance/daoresolve/internal/paginate"
	"github.com/quasar-finance/daoresolve/internal/resolve"
)

const infoNamespace = "contract_info"

type Operation string

// UnsupportedOperationError means no implementation is registered for the
// operation at the contract's version.
type UnsupportedOperationError struct {
	Operation Operation
	Version   Version
	Contract  id.ContractRef
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("operation %s is not supported by %s at version %s", e.Operation, e.Contract, e.Version)
}

// Env is what an implementation needs to run its queries.
type Env struct {
	Resolver *resolve.Resolver
	PageSize int
	Options  resolve.Options
}

type Impl func(ctx context.Context, env Env, ref id.ContractRef, args any) (any, error)

type dispatchKey struct {
	op      Operation
	version Version
}

type Registry struct {
	resolver *resolve.Resolver
	store    *cache.Store
	pageSize int
	logger   *zap.Logger

	mu    sync.RWMutex
	infos map[id.ContractRef]Info
	group flight.Group[Info]
	table map[dispatchKey]Impl
}

type Option func(*Registry)

// WithStore persists resolved versions across runs.
func WithStore(store *cache.Store) Option {
	return func(r *Registry) { r.store = store }
}

func WithPageSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithoutBuiltins starts from an empty dispatch table.
func WithoutBuiltins() Option {
	return func(r *Registry) { r.table = make(map[dispatchKey]Impl) }
}

// NewRegistry returns a registry preloaded with the DAO core and
// proposal-single implementations.
func NewRegistry(resolver *resolve.Resolver, opts ...Option) *Registry {
	r := &Registry{
		resolver: resolver,
		pageSize: paginate.DefaultPageSize,
		infos:    make(map[id.ContractRef]Info),
		table:    make(map[dispatchKey]Impl),
	}
	registerCore(r)
	registerProposalSingle(r)
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

func (r *Registry) Register(op Operation, v Version, impl Impl) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[dispatchKey{op: op, version: v}] = impl
}

// Operations lists the operations registered for v, sorted by name.
func (r *Registry) Operations(v Version) []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ops []Operation
	for key := range r.table {
		if key.version == v {
			ops = append(ops, key.op)
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Info returns the contract's cw2 identity. It is read once per contract and
// kept for the life of the process (and in the store, when configured).
// Failures propagate; no version is ever assumed.
func (r *Registry) Info(ctx context.Context, ref id.ContractRef) (Info, error) {
	r.mu.RLock()
	info, ok := r.infos[ref]
	r.mu.RUnlock()
	if ok {
		return info, nil
	}

	info, _, err := r.group.Do(ctx, ref.String(), func(ctx context.Context) (Info, error) {
		if info, ok := r.loadPersisted(ref); ok {
			r.remember(ref, info)
			return info, nil
		}
		res, err := r.resolver.Resolve(ctx, resolve.Descriptor{
			Ref:     ref,
			Method:  "info",
			Formula: "info",
		}, resolve.Options{})
		if err != nil {
			return Info{}, err
		}
		info, err := decodeInfo(res.Value)
		if err != nil {
			return Info{}, err
		}
		r.remember(ref, info)
		r.persist(ref, info)
		return info, nil
	})
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

func (r *Registry) ResolveVersion(ctx context.Context, ref id.ContractRef) (Version, error) {
	info, err := r.Info(ctx, ref)
	if err != nil {
		return VersionUnknown, err
	}
	return info.Family, nil
}

// Dispatch invokes the implementation registered for (op, version).
func (r *Registry) Dispatch(ctx context.Context, ref id.ContractRef, version Version, op Operation, args any, opts resolve.Options) (any, error) {
	r.mu.RLock()
	impl, ok := r.table[dispatchKey{op: op, version: version}]
	r.mu.RUnlock()
	if !ok {
		unsupported := &UnsupportedOperationError{Operation: op, Version: version, Contract: ref}
		return nil, clierr.Wrap(clierr.CodeUnsupported, "unsupported operation", unsupported)
	}
	return impl(ctx, Env{Resolver: r.resolver, PageSize: r.pageSize, Options: opts}, ref, args)
}

// Call resolves the contract's version, then dispatches op.
func (r *Registry) Call(ctx context.Context, ref id.ContractRef, op Operation, args any, opts resolve.Options) (any, error) {
	version, err := r.ResolveVersion(ctx, ref)
	if err != nil {
		return nil, err
	}
	return r.Dispatch(ctx, ref, version, op, args, opts)
}

// Call is the typed form of Registry.Call.
func Call[T any](ctx context.Context, r *Registry, ref id.ContractRef, op Operation, args any, opts resolve.Options) (T, error) {
	var zero T
	v, err := r.Call(ctx, ref, op, args, opts)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, clierr.New(clierr.CodeInternal, fmt.Sprintf("operation %s returned %T", op, v))
	}
	return out, nil
}

func (r *Registry) remember(ref id.ContractRef, info Info) {
	r.mu.Lock()
	r.infos[ref] = info
	r.mu.Unlock()
}

func (r *Registry) loadPersisted(ref id.ContractRef) (Info, bool) {
	if r.store == nil {
		return Info{}, false
	}
	fact, ok, err := r.store.Lookup(infoNamespace, ref.String())
	if err != nil {
		r.logger.Debug("contract info store read failed", zap.String("contract", ref.String()), zap.Error(err))
		return Info{}, false
	}
	if !ok {
		return Info{}, false
	}
	var info Info
	family := VersionUnknown
	if err = json.Unmarshal(fact.Value, &info); err == nil {
		family, err = ParseVersion(info.Version)
	}
	if err != nil {
		r.logger.Debug("dropping unreadable contract info", zap.String("contract", ref.String()), zap.Error(err))
		_ = r.store.Forget(infoNamespace, ref.String())
		return Info{}, false
	}
	info.Family = family
	return info, true
}

func (r *Registry) persist(ref id.ContractRef, info Info) {
	if r.store == nil {
		return
	}
	buf, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := r.store.Remember(infoNamespace, ref.String(), buf); err != nil {
		r.logger.Debug("contract info store write failed", zap.String("contract", ref.String()), zap.Error(err))
	}
}
