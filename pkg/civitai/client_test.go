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

package civitai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeagi/modelfetch/pkg/fetcher"
	"github.com/kubeagi/modelfetch/pkg/link"
)

func TestExtractVersionID(t *testing.T) {
	c := NewClient()
	tests := []struct {
		url string
		id  string
	}{
		{"https://civitai.com/models/4384?modelVersionId=128713", "128713"},
		{"https://civitai.com/api/download/models/128713", "128713"},
		{"https://civitai.com/api/download/models/128713?type=Model&format=SafeTensor", "128713"},
		{"https://civitai.com/api/download/models/999999?token=upstream", "999999"},
	}
	for _, test := range tests {
		id, err := c.extractVersionID(context.Background(), test.url)
		if err != nil || id != test.id {
			t.Fatalf("extractVersionID(%q) = (%q, %v), expected %q", test.url, id, err, test.id)
		}
	}

	var pe *link.ParseError
	for _, bad := range []string{
		"not a url",
		"ftp://civitai.com/models/1",
		"https://civitai.com/user/somebody",
		"https://civitai.com/models/not-a-number",
	} {
		_, err := c.extractVersionID(context.Background(), bad)
		if !errors.As(err, &pe) {
			t.Fatalf("extractVersionID(%q) error = %v, expected *link.ParseError", bad, err)
		}
	}
}

func TestExtractVersionIDFromModelPage(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		require.Equal(t, "/models/4384", r.URL.Path)
		fmt.Fprint(w, `{"id": 4384, "modelVersions": [{"id": 128713}, {"id": 100000}]}`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	id, err := c.extractVersionID(context.Background(), "https://civitai.com/models/4384/dreamshaper")
	require.NoError(t, err)
	assert.Equal(t, "128713", id)
	assert.Equal(t, 1, hits)
}

func TestResolveMetadataCachesResponses(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		require.Equal(t, "/model-versions/128713", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id": 128713, "modelId": 4384, "baseModel": "SD 1.5", "model": {"name": "DreamShaper", "type": "Checkpoint"}}`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithToken("secret"))
	for i := 0; i < 3; i++ {
		v, err := c.ResolveMetadata(context.Background(), "https://civitai.com/api/download/models/128713")
		require.NoError(t, err)
		assert.Equal(t, int64(128713), v.ID)
		assert.Equal(t, "Checkpoint", v.Model.Type)
	}
	assert.Equal(t, 1, hits, "repeated lookups should come from the cache")
}

func TestResolveMetadataErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model-versions/1":
			w.WriteHeader(http.StatusUnauthorized)
		case "/model-versions/2":
			w.WriteHeader(http.StatusNotFound)
		default:
			fmt.Fprint(w, `{not json`)
		}
	}))
	defer srv.Close()

	c := NewClient(
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRetry(fetcher.RetryPolicy{Attempts: 1}),
	)

	_, err := c.ResolveMetadata(context.Background(), "https://civitai.com/api/download/models/1")
	var ae *fetcher.AuthError
	require.True(t, errors.As(err, &ae))

	_, err = c.ResolveMetadata(context.Background(), "https://civitai.com/api/download/models/2")
	var ne *fetcher.NotFoundError
	require.True(t, errors.As(err, &ne))

	_, err = c.ResolveMetadata(context.Background(), "https://civitai.com/api/download/models/3")
	require.Error(t, err)
}

func TestDefaultVersionOfModelWithoutVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 77, "modelVersions": []}`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	_, err := c.extractVersionID(context.Background(), "https://civitai.com/models/77")
	var ne *fetcher.NotFoundError
	require.True(t, errors.As(err, &ne))
}

func TestResignURL(t *testing.T) {
	signed := NewClient(WithToken("mine"))
	anonymous := NewClient()

	tests := []struct {
		client *Client
		in     string
		out    string
	}{
		{signed, "https://civitai.com/api/download/models/1", "https://civitai.com/api/download/models/1?token=mine"},
		{signed, "https://civitai.com/api/download/models/1?token=theirs", "https://civitai.com/api/download/models/1?token=mine"},
		{signed, "https://civitai.com/api/download/models/1?format=SafeTensor&token=theirs", "https://civitai.com/api/download/models/1?format=SafeTensor&token=mine"},
		{anonymous, "https://civitai.com/api/download/models/1?token=theirs", "https://civitai.com/api/download/models/1"},
	}
	for _, test := range tests {
		if got := test.client.resignURL(test.in); got != test.out {
			t.Fatalf("resignURL(%q) = %q, expected %q", test.in, got, test.out)
		}
	}
}

func TestSDVersion(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"SD 1.5", "SD1"},
		{"SD 1", "SD1"},
		{"SD 2.1", "SD2"},
		{"SD 3.5 Large", "SD3"},
		{"SDXL 1.0", "SDXL"},
		{"Pony", "SDXL"},
		{"Illustrious", "SDXL"},
		{"Flux.1 D", ""},
		{"", ""},
	}
	for _, test := range tests {
		v := &ModelVersion{BaseModel: test.base}
		if got := v.SDVersion(); got != test.want {
			t.Fatalf("SDVersion(%q) = %q, expected %q", test.base, got, test.want)
		}
	}
}

func TestEarlyAccess(t *testing.T) {
	assert.True(t, (&ModelVersion{Availability: "EarlyAccess"}).EarlyAccess())
	assert.True(t, (&ModelVersion{EarlyAccessEndsAt: "2024-06-01T00:00:00Z"}).EarlyAccess())
	assert.False(t, (&ModelVersion{Availability: "Public"}).EarlyAccess())
	assert.False(t, (&ModelVersion{}).EarlyAccess())
}
