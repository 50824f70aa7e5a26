// Package lrustore provides an in-process byte cache for deployments
// without Redis. Entries expire by TTL and evict LRU beyond the size
// bound.
package lrustore

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	body    []byte
	expires time.Time
}

type Store struct {
	lru *lru.Cache[string, entry]
	now func() time.Time // for tests
}

func New(size int) *Store {
	if size <= 0 {
		size = 256
	}
	c, _ := lru.New[string, entry](size)
	return &Store{lru: c, now: time.Now}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && s.now().After(e.expires) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return e.body, true, nil
}

func (s *Store) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.lru.Add(key, entry{body: val, expires: exp})
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.lru.Remove(k)
	}
	return nil
}
