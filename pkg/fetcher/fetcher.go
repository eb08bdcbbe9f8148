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

// Package fetcher resolves tagged link requests into concrete
// destinations and moves the bytes. Three strategies exist: a
// segmenting generic HTTP fetcher, a Google Drive fetcher that walks
// the confirmation flow, and a marketplace fetcher built on the
// metadata API. The strategy is picked per link by source kind.
package fetcher

import (
	"context"
	"net/url"
	"strings"
)

// SourceKind classifies where an artifact comes from, which decides the
// fetch strategy.
type SourceKind string

const (
	KindGeneric     SourceKind = "generic"
	KindDrive       SourceKind = "cloudDrive"
	KindMarketplace SourceKind = "marketplace"
	KindExtension   SourceKind = "extension"
)

// Result reports a finished fetch. Bytes is zero when an existing
// verified file short-circuited the transfer.
type Result struct {
	// Path is the final absolute location of the artifact. Fetchers may
	// improve on the provisional filename (content disposition,
	// marketplace metadata), so callers must read it back from here.
	Path  string
	Bytes int64
}

// Fetcher moves one resolved link to disk.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, l *ResolvedLink) (*Result, error)
}

// Selector picks the fetch strategy for a link. Extension links never
// reach a fetcher; the orchestrator diverts them to the cloner.
type Selector struct {
	generic     Fetcher
	drive       Fetcher
	marketplace Fetcher
}

func NewSelector(generic, drive, marketplace Fetcher) *Selector {
	return &Selector{generic: generic, drive: drive, marketplace: marketplace}
}

// For returns the fetcher for a source kind, defaulting to the generic
// one.
func (s *Selector) For(kind SourceKind) Fetcher {
	switch kind {
	case KindDrive:
		if s.drive != nil {
			return s.drive
		}
	case KindMarketplace:
		if s.marketplace != nil {
			return s.marketplace
		}
	}
	return s.generic
}

// marketplaceHost is the authenticated model marketplace.
const marketplaceHost = "civitai.com"

// detectKind classifies a link by its routed category and host.
func detectKind(isExtension bool, rawURL string) SourceKind {
	if isExtension {
		return KindExtension
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return KindGeneric
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == marketplaceHost || strings.HasSuffix(host, "."+marketplaceHost):
		return KindMarketplace
	case host == "drive.google.com" || host == "drive.usercontent.google.com":
		return KindDrive
	}
	return KindGeneric
}
