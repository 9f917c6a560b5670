package resolve

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
	"github.com/quasar-finance/daoresolve/internal/refresh"
)

type CacheConfig struct {
	// LifeWindow bounds how long an entry lives even without a bump.
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	Shards             int
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int
	// LargeEntriesMB caps results that do not fit a bigcache shard.
	LargeEntriesMB     int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		LifeWindow:         30 * time.Minute,
		CleanWindow:        5 * time.Minute,
		Shards:             64,
		MaxEntriesInWindow: 4096,
		MaxEntrySize:       2048,
		HardMaxCacheSizeMB: 64,
		LargeEntriesMB:     256,
	}
}

func newStore(cfg CacheConfig) (*bigcache.BigCache, error) {
	def := DefaultCacheConfig()
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = def.LifeWindow
	}
	conf := bigcache.DefaultConfig(cfg.LifeWindow)
	conf.CleanWindow = cfg.CleanWindow
	conf.Shards = positiveOr(cfg.Shards, def.Shards)
	conf.MaxEntriesInWindow = positiveOr(cfg.MaxEntriesInWindow, def.MaxEntriesInWindow)
	conf.MaxEntrySize = positiveOr(cfg.MaxEntrySize, def.MaxEntrySize)
	conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	conf.Verbose = false
	store, err := bigcache.New(context.Background(), conf)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "create resolution cache", err)
	}
	return store, nil
}

// entryHeader precedes the raw value bytes in a cache entry. The value is
// kept verbatim so a hit returns exactly the bytes first resolved.
type entryHeader struct {
	Source Source   `json:"source"`
	Epochs []uint64 `json:"epochs"`
}

func encodeEntry(res Result) ([]byte, error) {
	head, err := json.Marshal(entryHeader{Source: res.Source, Epochs: res.Epochs})
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(head)+1+len(res.Value))
	buf = append(buf, head...)
	buf = append(buf, '\n')
	return append(buf, res.Value...), nil
}

func decodeEntry(buf []byte) (Result, error) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return Result{}, errors.New("cache entry has no header")
	}
	var head entryHeader
	if err := json.Unmarshal(buf[:i], &head); err != nil {
		return Result{}, err
	}
	value := make(json.RawMessage, len(buf)-i-1)
	copy(value, buf[i+1:])
	return Result{Value: value, Source: head.Source, Epochs: head.Epochs}, nil
}

func (r *Resolver) lookup(key string) (Result, bool) {
	buf, err := r.cache.Get(key)
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			r.logger.Debug("resolution cache read failed", zap.Error(err))
		}
		var ok bool
		if buf, ok = r.large.get(key); !ok {
			return Result{}, false
		}
	}
	res, err := decodeEntry(buf)
	if err != nil {
		r.logger.Debug("resolution cache entry unreadable", zap.Error(err))
		return Result{}, false
	}
	res.Cached = true
	return res, true
}

func (r *Resolver) store(key string, res Result) {
	buf, err := encodeEntry(res)
	if err != nil {
		return
	}
	if len(buf) < r.maxEntry {
		err := r.cache.Set(key, buf)
		if err == nil {
			return
		}
		r.logger.Warn("resolution cache write failed, keeping entry aside", zap.Int("bytes", len(buf)), zap.Error(err))
	}
	if !r.large.put(key, buf) {
		r.logger.Warn("resolution too large to cache", zap.Int("bytes", len(buf)))
	}
}

// largeEntries holds results too big for a bigcache shard. Entries expire
// after the same life window and the total size is capped.
type largeEntries struct {
	mu      sync.Mutex
	life    time.Duration
	maxSize int
	size    int
	entries map[string]largeEntry
	now     func() time.Time
}

type largeEntry struct {
	buf    []byte
	stored time.Time
}

func newLargeEntries(life time.Duration, maxSize int) *largeEntries {
	return &largeEntries{life: life, maxSize: maxSize, entries: map[string]largeEntry{}, now: time.Now}
}

func (l *largeEntries) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	if l.now().Sub(e.stored) > l.life {
		l.drop(key, e)
		return nil, false
	}
	return e.buf, true
}

func (l *largeEntries) put(key string, buf []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, e := range l.entries {
		if k == key || now.Sub(e.stored) > l.life {
			l.drop(k, e)
		}
	}
	if l.size+len(buf) > l.maxSize {
		return false
	}
	l.entries[key] = largeEntry{buf: buf, stored: now}
	l.size += len(buf)
	return true
}

func (l *largeEntries) drop(key string, e largeEntry) {
	delete(l.entries, key)
	l.size -= len(e.buf)
}

// shardLimit is the largest entry a bigcache shard accepts.
func shardLimit(cfg CacheConfig) int {
	def := DefaultCacheConfig()
	shards := positiveOr(cfg.Shards, def.Shards)
	if cfg.HardMaxCacheSizeMB <= 0 {
		return math.MaxInt
	}
	return cfg.HardMaxCacheSizeMB * 1024 * 1024 / shards
}

// cacheKey hashes the descriptor identity together with the epoch of every
// scope it depends on, AllScope included.
func cacheKey(d Descriptor, opts Options, scopes []refresh.Scope, epochs []uint64) (string, error) {
	args, err := json.Marshal(d.Args)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "encode query args", err)
	}
	formulaArgs, err := json.Marshal(d.FormulaArgs)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "encode formula args", err)
	}
	var b strings.Builder
	b.WriteString(string(d.Ref.ChainID))
	b.WriteByte('|')
	b.WriteString(d.Ref.Address)
	b.WriteByte('|')
	b.WriteString(d.Method)
	b.WriteByte('|')
	b.Write(args)
	b.WriteByte('|')
	b.WriteString(d.Formula)
	b.WriteByte('|')
	b.Write(formulaArgs)
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(opts.NoFallback))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(opts.BlockHeight, 10))
	for i, s := range scopes {
		b.WriteString("|")
		b.WriteString(string(s))
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(epochs[i], 10))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
