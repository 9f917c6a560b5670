// Package refresh holds the cooperative invalidation counters. Every resolved
// value's cache key embeds the epochs of its scopes as read at request time,
// so bumping a scope makes the next read miss and re-resolve.
//
// Counters only increase and are never persisted.
package refresh

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

// Scope is an invalidation key: a wallet address, a contract address,
// GlobalScope or AllScope.
type Scope string

const (
	// GlobalScope is the unscoped marker used for global balance reads.
	GlobalScope Scope = ""
	// AllScope is embedded in every cache key; bumping it invalidates everything.
	AllScope Scope = "all"
)

// Handler receives the scope that was bumped and its new epoch.
type Handler func(scope Scope, epoch uint64)

type Bus struct {
	mu         sync.Mutex
	epochs     map[Scope]uint64
	subscribed map[Scope]int
	events     evbus.Bus
}

func New() *Bus {
	return &Bus{
		epochs:     make(map[Scope]uint64),
		subscribed: make(map[Scope]int),
		events:     evbus.New(),
	}
}

// Bump increments scope's epoch and notifies its subscribers. Bumping
// AllScope notifies every subscriber; any other bump also notifies
// AllScope subscribers.
func (b *Bus) Bump(scope Scope) uint64 {
	b.mu.Lock()
	b.epochs[scope]++
	epoch := b.epochs[scope]
	var topics []Scope
	if scope == AllScope {
		topics = make([]Scope, 0, len(b.subscribed))
		for s := range b.subscribed {
			topics = append(topics, s)
		}
	} else {
		topics = []Scope{scope}
		if b.subscribed[AllScope] > 0 {
			topics = append(topics, AllScope)
		}
	}
	b.mu.Unlock()

	for _, t := range topics {
		b.events.Publish(topic(t), scope, epoch)
	}
	return epoch
}

// BumpAll bumps each distinct scope once.
func (b *Bus) BumpAll(scopes ...Scope) {
	seen := make(map[Scope]struct{}, len(scopes))
	for _, s := range scopes {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		b.Bump(s)
	}
}

func (b *Bus) Epoch(scope Scope) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epochs[scope]
}

// Snapshot reads several epochs atomically, in argument order.
func (b *Bus) Snapshot(scopes ...Scope) []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint64, len(scopes))
	for i, s := range scopes {
		out[i] = b.epochs[s]
	}
	return out
}

// Subscribe registers fn for bumps of scope. Handlers run synchronously on the
// bumping goroutine, after the counter has been updated.
func (b *Bus) Subscribe(scope Scope, fn Handler) error {
	if err := b.events.Subscribe(topic(scope), fn); err != nil {
		return err
	}
	b.mu.Lock()
	b.subscribed[scope]++
	b.mu.Unlock()
	return nil
}

func (b *Bus) Unsubscribe(scope Scope, fn Handler) error {
	if err := b.events.Unsubscribe(topic(scope), fn); err != nil {
		return err
	}
	b.mu.Lock()
	if b.subscribed[scope] > 1 {
		b.subscribed[scope]--
	} else {
		delete(b.subscribed, scope)
	}
	b.mu.Unlock()
	return nil
}

func topic(scope Scope) string {
	return "refresh:" + string(scope)
}
