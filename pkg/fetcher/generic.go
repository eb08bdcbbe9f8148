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

package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/kubeagi/modelfetch/pkg/utils"
)

const (
	// segments only pay off for large files
	defaultSegmentMin = int64(32 << 20)
	maxSegments       = 8

	headerTimeout = 30 * time.Second
)

// Generic fetches arbitrary HTTP(S) artifacts. When the server supports
// ranged requests and the file is large enough, the transfer is split
// into concurrent segments written directly into the destination file.
type Generic struct {
	client      *http.Client
	retry       RetryPolicy
	hfToken     string
	connections int
	segmentMin  int64
	limiters    *hostLimiters
}

var _ Fetcher = (*Generic)(nil)

type GenericOption func(*Generic)

func WithHTTPClient(c *http.Client) GenericOption {
	return func(g *Generic) {
		g.client = c
	}
}

func WithRetryPolicy(p RetryPolicy) GenericOption {
	return func(g *Generic) {
		g.retry = p
	}
}

// WithHFToken sets the HuggingFace access token attached to requests
// against huggingface.co, needed for gated repositories.
func WithHFToken(token string) GenericOption {
	return func(g *Generic) {
		g.hfToken = token
	}
}

// WithConnections bounds the number of concurrent segments per file.
func WithConnections(n int) GenericOption {
	return func(g *Generic) {
		if n > 0 {
			g.connections = n
		}
	}
}

// WithSegmentMin sets the minimum bytes each segment must cover before
// a transfer is split.
func WithSegmentMin(n int64) GenericOption {
	return func(g *Generic) {
		if n > 0 {
			g.segmentMin = n
		}
	}
}

// WithPerHostRate throttles requests per host to rps. Zero means
// unlimited.
func WithPerHostRate(rps float64) GenericOption {
	return func(g *Generic) {
		g.limiters = newHostLimiters(rps)
	}
}

func NewGeneric(opts ...GenericOption) *Generic {
	g := &Generic{
		client:      defaultHTTPClient(),
		retry:       DefaultRetryPolicy(),
		connections: 4,
		segmentMin:  defaultSegmentMin,
		limiters:    newHostLimiters(0),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func defaultHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: tr}
}

func (g *Generic) Name() string {
	return "generic"
}

func (g *Generic) Fetch(ctx context.Context, l *ResolvedLink) (*Result, error) {
	dest := l.DestPath()
	if ArtifactComplete(dest, l.ExpectedSHA256) {
		klog.Infof("%s already present, skipping download", dest)
		return &Result{Path: dest}, nil
	}

	size, ranged := g.probe(ctx, l)
	segs := g.segmentPlan(size, ranged)

	var written int64
	var err error
	if segs > 1 {
		klog.V(4).Infof("downloading %s in %d segments of ~%s", l.URL, segs, utils.BytesToSizedStr(size/int64(segs)))
		written, err = g.fetchSegmented(ctx, l, dest, size, segs)
	} else {
		written, err = g.fetchSingle(ctx, l, dest)
	}
	if err != nil {
		if !IsPermanent(err) {
			err = &NetworkError{URL: l.URL, Attempts: g.retry.Attempts, Err: err}
		}
		return nil, err
	}

	if l.ExpectedSHA256 != "" {
		sum, herr := utils.FileSHA256(dest)
		if herr != nil {
			return nil, herr
		}
		if !utils.SameSHA256(l.ExpectedSHA256, sum) {
			return nil, &HashMismatchError{Path: dest, Expected: strings.ToLower(l.ExpectedSHA256), Actual: sum}
		}
	}
	return &Result{Path: dest, Bytes: written}, nil
}

// probe asks the server for size and range support. Failures just mean
// a plain single stream download.
func (g *Generic) probe(ctx context.Context, l *ResolvedLink) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, l.URL, nil)
	if err != nil {
		return -1, false
	}
	g.decorate(req, l.Request.AuthToken)
	if err := g.limiters.wait(ctx, req.URL.Hostname()); err != nil {
		return -1, false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return -1, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return -1, false
	}
	return resp.ContentLength, strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
}

func (g *Generic) segmentPlan(size int64, ranged bool) int {
	if !ranged || g.connections <= 1 || size < g.segmentMin*2 {
		return 1
	}
	segs := int(size / g.segmentMin)
	if segs > g.connections {
		segs = g.connections
	}
	if segs > maxSegments {
		segs = maxSegments
	}
	return segs
}

func (g *Generic) fetchSingle(ctx context.Context, l *ResolvedLink, dest string) (int64, error) {
	var written int64
	err := g.retry.Do(ctx, "download "+l.URL, func() error {
		if err := g.limiters.wait(ctx, hostOf(l.URL)); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
		if err != nil {
			return Permanent(err)
		}
		g.decorate(req, l.Request.AuthToken)
		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return StatusError(l.URL, resp.StatusCode)
		}

		f, err := os.Create(dest)
		if err != nil {
			return Permanent(err)
		}
		written, err = io.Copy(f, resp.Body)
		cerr := f.Close()
		if err != nil {
			return err
		}
		return cerr
	})
	return written, err
}

func (g *Generic) fetchSegmented(ctx context.Context, l *ResolvedLink, dest string, size int64, segs int) (int64, error) {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, Permanent(err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return 0, Permanent(err)
	}

	part := size / int64(segs)
	eg, gctx := errgroup.WithContext(ctx)
	for i := 0; i < segs; i++ {
		start := int64(i) * part
		end := start + part - 1
		if i == segs-1 {
			end = size - 1
		}
		eg.Go(func() error {
			return g.fetchRange(gctx, l, f, start, end)
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return size, nil
}

func (g *Generic) fetchRange(ctx context.Context, l *ResolvedLink, f *os.File, start, end int64) error {
	return g.retry.Do(ctx, fmt.Sprintf("segment %d-%d of %s", start, end, l.URL), func() error {
		if err := g.limiters.wait(ctx, hostOf(l.URL)); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
		if err != nil {
			return Permanent(err)
		}
		g.decorate(req, l.Request.AuthToken)
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		// a server that ignores the range would corrupt the layout
		if resp.StatusCode != http.StatusPartialContent {
			return StatusError(l.URL, resp.StatusCode)
		}
		_, err = io.Copy(io.NewOffsetWriter(f, start), resp.Body)
		return err
	})
}

// decorate attaches auth headers: an explicit per-request token wins,
// otherwise the configured HuggingFace token for HuggingFace hosts.
func (g *Generic) decorate(req *http.Request, token string) {
	host := strings.ToLower(req.URL.Hostname())
	switch {
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	case g.hfToken != "" && (host == "huggingface.co" || strings.HasSuffix(host, ".huggingface.co")):
		req.Header.Set("Authorization", "Bearer "+g.hfToken)
	}
}

// ArtifactComplete reports whether dest already holds the artifact: a
// non-empty file, digest-verified when a digest is known. An unreadable
// file simply forces a refetch.
func ArtifactComplete(dest, expected string) bool {
	st, err := os.Stat(dest)
	if err != nil || st.IsDir() || st.Size() == 0 {
		return false
	}
	if expected == "" {
		return true
	}
	sum, err := utils.FileSHA256(dest)
	return err == nil && utils.SameSHA256(expected, sum)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// hostLimiters throttles request dispatch per host so segment fan-out
// does not hammer a single mirror.
type hostLimiters struct {
	mu  sync.Mutex
	rps rate.Limit
	m   map[string]*rate.Limiter
}

func newHostLimiters(rps float64) *hostLimiters {
	return &hostLimiters{rps: rate.Limit(rps), m: make(map[string]*rate.Limiter)}
}

func (h *hostLimiters) wait(ctx context.Context, host string) error {
	if h == nil || h.rps <= 0 {
		return nil
	}
	h.mu.Lock()
	lim, ok := h.m[host]
	if !ok {
		burst := int(h.rps)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(h.rps, burst)
		h.m[host] = lim
	}
	h.mu.Unlock()
	return lim.Wait(ctx)
}
