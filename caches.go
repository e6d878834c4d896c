package dbus

import (
	"errors"
	"sync"
)

// errNotFound is returned by cache.Get when the key has no entry yet.
var errNotFound = errors.New("not found in cache")

// cache is a concurrent memoization table keyed by K, used to avoid
// recomputing reflection-derived facts (encoders, decoders,
// signatures) about the same type repeatedly.
//
// A cache distinguishes "no entry" from "entry is a recorded error"
// so that a type which fails analysis once doesn't pay the cost of
// re-analysis (and re-failure) on every subsequent lookup.
type cache[K comparable, V any] struct {
	m sync.Map // K -> cacheEntry[V]
}

type cacheEntry[V any] struct {
	val V
	err error
}

func (c *cache[K, V]) Get(k K) (V, error) {
	v, ok := c.m.Load(k)
	if !ok {
		var zero V
		return zero, errNotFound
	}
	ent := v.(cacheEntry[V])
	return ent.val, ent.err
}

func (c *cache[K, V]) Set(k K, val V) {
	c.m.Store(k, cacheEntry[V]{val: val})
}

func (c *cache[K, V]) SetErr(k K, err error) {
	var zero V
	c.m.Store(k, cacheEntry[V]{val: zero, err: err})
}
