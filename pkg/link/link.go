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

// Package link implements the input grammar of the acquisition engine:
// comma separated tokens of the form
//
//	[tag:]url[NameOverride.ext]
//
// plus the vendor URL rewrites that turn page links into direct download
// links.
package link

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrEmptyLink marks a token that is empty after trimming. Such tokens
// come from stray commas in user input and are dropped silently by the
// batch layer.
var ErrEmptyLink = errors.New("empty link token")

// ParseError reports a token whose URL part cannot be parsed. Unlike
// ErrEmptyLink these are recorded as failed items so the user sees what
// was rejected.
type ParseError struct {
	Token  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse link %q: %s", e.Token, e.Reason)
}

// Request is one tagged acquisition request, immutable once built.
// Prefix is empty when the token carried no tag; the route table maps
// empty and unknown tags to the fallback category.
type Request struct {
	// Prefix is the lowercased tag in front of the URL, e.g. "vae".
	Prefix string
	// RawURL is the URL exactly as the user wrote it, override removed.
	RawURL string
	// NameOverride is the bracket override, base name only.
	NameOverride string
	// AuthToken rides along for sources that need one. Callers set it
	// per request; it takes precedence over any configured token.
	AuthToken string
}

var (
	// tag before the first colon; http/https keep their colon and are
	// never treated as tags
	tagRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*):(.+)$`)

	// bracket override anywhere in the token, shortest match
	overrideRe = regexp.MustCompile(`\[(.*?)\]`)
)

// Split breaks one input line into trimmed tokens. Consecutive or
// trailing commas produce no tokens.
func Split(line string) []string {
	parts := strings.Split(line, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// Parse turns one token into a Request.
//
// The tag is whatever precedes the first colon, known or not; unknown
// tags are kept so the route table can log the fallback it applies.
// A bracket override is cut out of the token wherever it appears, and
// any path separators in it are discarded so overrides cannot escape
// the destination directory.
func Parse(token string) (Request, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Request{}, ErrEmptyLink
	}

	req := Request{}
	rest := token
	if m := tagRe.FindStringSubmatch(rest); m != nil {
		tag := strings.ToLower(m[1])
		if tag != "http" && tag != "https" {
			req.Prefix = tag
			rest = strings.TrimSpace(m[2])
		}
	}

	if m := overrideRe.FindStringSubmatch(rest); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			req.NameOverride = baseName(name)
		}
		rest = strings.TrimSpace(strings.Replace(rest, m[0], "", 1))
	}

	u, err := url.Parse(rest)
	if err != nil {
		return Request{}, &ParseError{Token: token, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Request{}, &ParseError{Token: token, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return Request{}, &ParseError{Token: token, Reason: "missing host"}
	}

	req.RawURL = rest
	return req, nil
}

// baseName strips directory components from an override so that
// "a/b/../c.bin" becomes "c.bin".
func baseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}
