/*
Copyright 2024 KubeAGI.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// lru keeps the most recently used entries up to a fixed limit. Entries
// optionally carry a TTL so stale marketplace metadata is re-resolved
// instead of being served forever. Eviction removes the entry at the tail
// of the list; every access moves the entry to the front.
type lru struct {
	m sync.Mutex

	// maximum number of entries
	limit int

	// ttl of zero means entries never expire
	ttl time.Duration

	cache map[string]*list.Element
	list  *list.List
}

// lruItem is the payload stored in each list element. expireAt is the
// zero time when the cache was built without a TTL.
type lruItem struct {
	key      string
	val      any
	expireAt time.Time
}

func NewLRU(limit int, ttl time.Duration) (Cache, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit needs to be greater than 0")
	}
	return &lru{limit: limit, ttl: ttl, cache: make(map[string]*list.Element), list: list.New()}, nil
}

// Set adds or refreshes an entry and restarts its TTL window.
func (l *lru) Set(key string, val any) error {
	l.m.Lock()
	defer l.m.Unlock()

	item := lruItem{key: key, val: val}
	if l.ttl > 0 {
		item.expireAt = time.Now().Add(l.ttl)
	}

	if v, ok := l.cache[key]; ok {
		v.Value = item
		l.list.MoveToFront(v)
		return nil
	}

	if l.list.Len() >= l.limit {
		last := l.list.Back()
		delete(l.cache, last.Value.(lruItem).key)
		l.list.Remove(last)
	}

	l.cache[key] = l.list.PushFront(item)
	return nil
}

// Get returns the cached value when present and not expired. An expired
// entry is dropped on access and reported as a miss.
func (l *lru) Get(key string) (any, bool) {
	l.m.Lock()
	defer l.m.Unlock()

	v, ok := l.cache[key]
	if !ok {
		return nil, false
	}

	item := v.Value.(lruItem)
	if !item.expireAt.IsZero() && time.Now().After(item.expireAt) {
		l.list.Remove(v)
		delete(l.cache, key)
		return nil, false
	}

	l.list.MoveToFront(v)
	return item.val, true
}

// Delete removes an entry; deleting an absent key is not an error.
func (l *lru) Delete(key string) error {
	l.m.Lock()
	defer l.m.Unlock()

	v, ok := l.cache[key]
	if !ok {
		return nil
	}

	l.list.Remove(v)
	delete(l.cache, key)
	return nil
}
