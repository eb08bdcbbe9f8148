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
	"reflect"
	"testing"
	"time"
)

func toValArray(l *lru) []int {
	result := make([]int, 0)
	for e := l.list.Front(); e != nil; e = e.Next() {
		result = append(result, e.Value.(lruItem).val.(int))
	}
	return result
}

type lruInput struct {
	action    string // get, set, del
	key       string
	val       int
	expResult []int
}

func TestLRUCache(t *testing.T) {
	if _, err := NewLRU(0, 0); err == nil {
		t.Fatalf("limit is 0, should return error")
	}

	// Direct struct construction so the internal list order can be checked.
	lc := &lru{limit: 3, cache: make(map[string]*list.Element), list: list.New()}
	testCases := []lruInput{
		{action: "set", key: "a", val: 1, expResult: []int{1}},
		{action: "set", key: "b", val: 2, expResult: []int{2, 1}},
		{action: "set", key: "c", val: 3, expResult: []int{3, 2, 1}},
		// access moves to front
		{action: "get", key: "a", val: 1, expResult: []int{1, 3, 2}},
		// update refreshes value and position
		{action: "set", key: "b", val: 20, expResult: []int{20, 1, 3}},
		// over the limit evicts the tail
		{action: "set", key: "d", val: 4, expResult: []int{4, 20, 1}},
		{action: "del", key: "b", expResult: []int{4, 1}},
		{action: "del", key: "nonexistent", expResult: []int{4, 1}},
		{action: "set", key: "e", val: 5, expResult: []int{5, 4, 1}},
	}
	for _, tc := range testCases {
		switch tc.action {
		case "set":
			_ = lc.Set(tc.key, tc.val)
		case "get":
			r, ok := lc.Get(tc.key)
			if !ok || r.(int) != tc.val {
				t.Fatalf("with input %v, expect value %v, get value %v", tc, tc.val, r)
			}
		case "del":
			_ = lc.Delete(tc.key)
		}
		if r := toValArray(lc); !reflect.DeepEqual(r, tc.expResult) {
			t.Fatalf("with input %v, expect %v get %v", tc, tc.expResult, r)
		}
	}
}

func TestLRUCacheTTL(t *testing.T) {
	c, err := NewLRU(4, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Set("meta", "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v, ok := c.Get("meta"); !ok || v.(string) != "v1" {
		t.Fatalf("fresh entry should be served, got %v %v", v, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("meta"); ok {
		t.Fatalf("expired entry should be a miss")
	}

	// re-set after expiry works as normal
	if err := c.Set("meta", "v2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := c.Get("meta"); !ok || v.(string) != "v2" {
		t.Fatalf("refreshed entry should be served, got %v %v", v, ok)
	}
}
