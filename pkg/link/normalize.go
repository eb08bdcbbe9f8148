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

package link

import (
	"net/url"
	"path"
	"strings"
)

// Normalize rewrites vendor page URLs into direct download form:
//
//   - huggingface.co: /blob/ paths become /resolve/ and the query string
//     is dropped ("?download=true" confuses mirrors and signing)
//   - github.com: /blob/ paths become /raw/
//
// URLs of other hosts are returned byte for byte unchanged. The rewrite
// is idempotent, so normalizing twice equals normalizing once. No
// network access happens here.
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "huggingface.co" || strings.HasSuffix(host, ".huggingface.co"):
		u.Path = strings.Replace(u.Path, "/blob/", "/resolve/", 1)
		u.RawPath = strings.Replace(u.RawPath, "/blob/", "/resolve/", 1)
		u.RawQuery = ""
		u.Fragment = ""
		return u.String()
	case host == "github.com" || host == "www.github.com":
		u.Path = strings.Replace(u.Path, "/blob/", "/raw/", 1)
		u.RawPath = strings.Replace(u.RawPath, "/blob/", "/raw/", 1)
		return u.String()
	default:
		return raw
	}
}

// FilenameFromURL extracts the last path segment of a URL, query
// stripped and percent escapes decoded. Returns "" when the path has no
// usable segment, which callers turn into a synthesized name.
func FilenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
