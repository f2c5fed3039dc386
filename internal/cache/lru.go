package cache

import (
	"container/list"
	"sync"
)

// LRU is a fixed-capacity map with least-recently-used eviction. Both
// reads and writes refresh recency. Losing an entry must only ever cost
// a recomputation or a routing default, never data.
type LRU[V any] struct {
	mu  sync.Mutex
	cap int
	ll  *list.List
	idx map[string]*list.Element
}

type lruEntry[V any] struct {
	key   string
	value V
}

// NewLRU builds an LRU holding at most capacity entries.
func NewLRU[V any](capacity int) *LRU[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[V]{
		cap: capacity,
		ll:  list.New(),
		idx: make(map[string]*list.Element),
	}
}

// Put inserts or replaces key, evicting the least recently used entry
// when the table is full.
func (l *LRU[V]) Put(key string, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.idx[key]; ok {
		el.Value.(*lruEntry[V]).value = value
		l.ll.MoveToFront(el)
		return
	}
	l.idx[key] = l.ll.PushFront(&lruEntry[V]{key: key, value: value})
	if l.ll.Len() > l.cap {
		oldest := l.ll.Back()
		l.ll.Remove(oldest)
		delete(l.idx, oldest.Value.(*lruEntry[V]).key)
	}
}

// Get returns the value for key and refreshes its recency.
func (l *LRU[V]) Get(key string) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.idx[key]
	if !ok {
		var zero V
		return zero, false
	}
	l.ll.MoveToFront(el)
	return el.Value.(*lruEntry[V]).value, true
}

// Remove drops key if present.
func (l *LRU[V]) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.idx[key]; ok {
		l.ll.Remove(el)
		delete(l.idx, key)
	}
}

// Len reports the current entry count.
func (l *LRU[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}
