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

// Package civitai talks to the CivitAI marketplace: it resolves page,
// download and version URLs into typed model version metadata and
// fetches the artifact, a preview image and a metadata sidecar.
package civitai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kubeagi/modelfetch/pkg/cache"
	"github.com/kubeagi/modelfetch/pkg/fetcher"
	"github.com/kubeagi/modelfetch/pkg/link"
)

const (
	defaultBaseURL = "https://civitai.com/api/v1"

	requestTimeout   = 30 * time.Second
	maxMetadataBytes = 8 << 20

	// metadata barely changes while a batch runs, a short TTL keeps
	// repeated lookups off the API
	metadataCacheSize = 128
	metadataCacheTTL  = 5 * time.Minute
)

// Client is a CivitAI API client with response caching and bounded
// retries.
type Client struct {
	token   string
	baseURL string
	client  *http.Client
	cache   cache.Cache
	retry   fetcher.RetryPolicy
}

type Option func(*Client)

// WithToken sets the API token sent as a bearer header and attached to
// signed download URLs.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

func WithCache(cc cache.Cache) Option {
	return func(c *Client) {
		c.cache = cc
	}
}

func WithRetry(p fetcher.RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		retry:   fetcher.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: requestTimeout}
	}
	if c.cache == nil {
		c.cache, _ = cache.NewLRU(metadataCacheSize, metadataCacheTTL)
	}
	return c
}

// Token returns the configured API token, empty for anonymous clients.
func (c *Client) Token() string {
	return c.token
}

// ResolveMetadata maps any supported marketplace URL onto the full
// model version record. Page URLs without an explicit version resolve
// to the model's default version, which costs one extra API call.
func (c *Client) ResolveMetadata(ctx context.Context, rawURL string) (*ModelVersion, error) {
	id, err := c.extractVersionID(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	var version ModelVersion
	if err := c.getJSON(ctx, "model-versions/"+id, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// extractVersionID pulls the version id out of the three supported URL
// shapes: an explicit modelVersionId query param, an API download path
// and a model page path.
func (c *Client) extractVersionID(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &link.ParseError{Token: rawURL, Reason: "not an http(s) marketplace URL"}
	}
	if id := u.Query().Get("modelVersionId"); id != "" {
		return id, nil
	}
	if id := pathSegmentAfter(u.Path, "/api/download/models/"); id != "" {
		return id, nil
	}
	if id := pathSegmentAfter(u.Path, "/models/"); isDigits(id) {
		return c.defaultVersionOf(ctx, id)
	}
	return "", &link.ParseError{Token: rawURL, Reason: "no model version id in URL"}
}

// defaultVersionOf resolves a bare model page to its first listed
// version, the one the site preselects.
func (c *Client) defaultVersionOf(ctx context.Context, modelID string) (string, error) {
	var page modelPage
	if err := c.getJSON(ctx, "models/"+modelID, &page); err != nil {
		return "", err
	}
	if len(page.ModelVersions) == 0 {
		return "", &fetcher.NotFoundError{URL: c.baseURL + "/models/" + modelID}
	}
	return strconv.FormatInt(page.ModelVersions[0].ID, 10), nil
}

// getJSON performs a cached, retried GET against the API and decodes
// the response into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	u := c.baseURL + "/" + endpoint
	if raw, ok := c.cache.Get(u); ok {
		if body, ok := raw.([]byte); ok {
			klog.V(4).Infof("metadata cache hit for %s", u)
			return errors.Wrap(json.Unmarshal(body, out), "decoding cached marketplace response")
		}
	}

	var body []byte
	err := c.retry.Do(ctx, "civitai GET "+endpoint, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fetcher.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fetcher.StatusError(u, resp.StatusCode)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
		return err
	})
	if err != nil {
		return err
	}

	if err := c.cache.Set(u, body); err != nil {
		klog.Warningf("caching %s failed: %s", u, err)
	}
	return errors.Wrap(json.Unmarshal(body, out), "decoding marketplace response")
}

// resignURL strips whatever token the metadata embedded in the
// download URL and signs it with the client's own.
func (c *Client) resignURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Del("token")
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func pathSegmentAfter(path, marker string) string {
	i := strings.Index(path, marker)
	if i < 0 {
		return ""
	}
	rest := path[i+len(marker):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
