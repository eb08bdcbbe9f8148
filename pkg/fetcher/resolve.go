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
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/kubeagi/modelfetch/pkg/link"
	"github.com/kubeagi/modelfetch/pkg/route"
)

// fallbackFilename is the last resort when nothing else yields a name.
const fallbackFilename = "artifact.bin"

// ResolvedLink is a request bound to its destination: normalized URL,
// routed directory, final (or provisional) filename and the strategy
// that will fetch it.
type ResolvedLink struct {
	Request link.Request
	Route   route.Route
	Kind    SourceKind

	// URL is the normalized direct download URL.
	URL string
	// DestDir is the absolute destination directory.
	DestDir string
	// Filename is never empty. For marketplace links without an
	// override it is provisional until metadata resolution.
	Filename    string
	Provisional bool

	// ExpectedSHA256 enables the verify stage when known up front.
	ExpectedSHA256 string
}

// DestPath is the full path the artifact is written to.
func (l *ResolvedLink) DestPath() string {
	return filepath.Join(l.DestDir, l.Filename)
}

// Resolve binds a parsed request to the route table under root. It
// cannot fail: unknown tags fall back to the model route and the
// filename chain ends in a static fallback.
func Resolve(req link.Request, table *route.Table, root string) *ResolvedLink {
	r, known := table.Lookup(req.Prefix)
	if !known && req.Prefix != "" {
		klog.Warningf("unknown link tag %q for %s, routing to %q", req.Prefix, req.RawURL, r.Tag)
	}

	normalized := link.Normalize(req.RawURL)
	kind := detectKind(r.IsExtension(), normalized)

	l := &ResolvedLink{
		Request: req,
		Route:   r,
		Kind:    kind,
		URL:     normalized,
		DestDir: r.Dir(root),
	}
	l.Filename, l.Provisional = resolveFilename(req, kind, normalized)

	klog.V(4).Infof("resolved %s %s -> dir=%s file=%s kind=%s", r.Symbol, normalized, l.DestDir, l.Filename, kind)
	return l
}

// resolveFilename applies the name precedence: explicit override,
// source specific synthesis, last URL path segment, static fallback.
// Overrides without an extension inherit the one of the source name.
func resolveFilename(req link.Request, kind SourceKind, normalized string) (name string, provisional bool) {
	synthesized := ""
	switch kind {
	case KindMarketplace:
		synthesized = marketplaceProvisionalName(normalized)
		provisional = true
	case KindDrive:
		if id, err := DriveFileID(normalized); err == nil {
			synthesized = "gdrive_" + id + ".bin"
		}
		// the confirmation flow replaces this with the disposition name
		provisional = true
	}

	source := synthesized
	if source == "" {
		source = link.FilenameFromURL(normalized)
	}

	if req.NameOverride != "" {
		name = req.NameOverride
		if path.Ext(name) == "" {
			name += path.Ext(source)
		}
		return name, false
	}

	if source == "" {
		source = fallbackFilename
	}
	return source, provisional
}

// marketplaceProvisionalName derives a stand-in filename from the id in
// a marketplace URL. Metadata resolution supplies the real one later.
func marketplaceProvisionalName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("modelVersionId"); v != "" && isDigits(v) {
		return "model_" + v + ".safetensors"
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "models" && isDigits(parts[i+1]) {
			return "model_" + parts[i+1] + ".safetensors"
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
