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

package batch

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/kubeagi/modelfetch/pkg/cache"
	"github.com/kubeagi/modelfetch/pkg/fetcher"
	"github.com/kubeagi/modelfetch/pkg/link"
)

const maxListBytes = 4 << 20

// Collector gathers link tokens from inline text, local link files and
// remote link lists. A broken source is skipped with an error log, it
// never sinks the batch.
type Collector struct {
	client *http.Client
	cache  cache.Cache
}

type CollectorOption func(*Collector)

func WithListHTTPClient(hc *http.Client) CollectorOption {
	return func(c *Collector) {
		c.client = hc
	}
}

// WithListCache caches remote list bodies so repeated runs against the
// same list URL skip the fetch.
func WithListCache(cc cache.Cache) CollectorOption {
	return func(c *Collector) {
		c.cache = cc
	}
}

func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 30 * time.Second}
	}
	if c.cache == nil {
		c.cache = cache.NewMemCache()
	}
	return c
}

// Collect merges every source in order and drops exact duplicate
// tokens, first occurrence wins.
func (c *Collector) Collect(ctx context.Context, inline string, files, urls []string) []string {
	tokens := link.Split(inline)
	for _, p := range files {
		ts, err := c.File(p)
		if err != nil {
			klog.Errorf("link file %s skipped: %s", p, err)
			continue
		}
		tokens = append(tokens, ts...)
	}
	for _, u := range urls {
		ts, err := c.Remote(ctx, u)
		if err != nil {
			klog.Errorf("link list %s skipped: %s", u, err)
			continue
		}
		tokens = append(tokens, ts...)
	}
	return Dedup(tokens)
}

// File reads a local link file: one line per entry, blank lines and
// lines starting with # are skipped.
func (c *Collector) File(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseLines(f)
}

// Remote fetches a link list over HTTP(S) in the same text format as a
// local file.
func (c *Collector) Remote(ctx context.Context, rawURL string) ([]string, error) {
	if cached, ok := c.cache.Get(rawURL); ok {
		if tokens, ok := cached.([]string); ok {
			klog.V(4).Infof("link list cache hit for %s", rawURL)
			return tokens, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fetcher.StatusError(rawURL, resp.StatusCode)
	}

	tokens, err := parseLines(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(rawURL, tokens); err != nil {
		klog.Warningf("caching link list %s failed: %s", rawURL, err)
	}
	return tokens, nil
}

func parseLines(r io.Reader) ([]string, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, link.Split(line)...)
	}
	return tokens, scanner.Err()
}

// Dedup removes exact duplicate tokens keeping the first occurrence.
func Dedup(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			klog.V(4).Infof("dropping duplicate link %s", t)
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
