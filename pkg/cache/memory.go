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
	"sync"
)

type memory struct {
	s sync.Map
}

var (
	m    *memory
	once sync.Once
)

// NewMemCache returns the process-wide map cache. Entries never expire;
// it backs lookups that stay valid for a whole run, such as fetched
// remote link lists.
func NewMemCache() Cache {
	once.Do(func() {
		m = &memory{}
	})
	return m
}

func (m *memory) Set(key string, val any) error {
	m.s.Store(key, val)
	return nil
}

func (m *memory) Get(key string) (any, bool) {
	return m.s.Load(key)
}

func (m *memory) Delete(key string) error {
	m.s.Delete(key)
	return nil
}
