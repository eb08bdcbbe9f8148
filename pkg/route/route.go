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

// Package route maps link tags to artifact categories: the directory an
// artifact lands in under the deployment root and the symbol used when
// printing plans and outcomes. Unknown tags never drop a download, they
// fall back to the model category and the caller logs the detour.
package route

import (
	"path/filepath"
	"sort"
)

// Canonical tags. Aliases from the notebook era ("ckpt", "emb", "cnet",
// ...) resolve to these.
const (
	TagModel     = "model"
	TagVAE       = "vae"
	TagLoRA      = "lora"
	TagEmbed     = "embed"
	TagExtension = "extension"
	TagADetailer = "adetailer"
	TagControl   = "control"
	TagUpscale   = "upscale"
	TagCLIP      = "clip"
	TagUNet      = "unet"
	TagVision    = "vision"
	TagEncoder   = "encoder"
	TagDiffusion = "diffusion"
	TagConfig    = "config"
)

// Route describes one artifact category. Subdir is relative to the
// deployment root; an empty Subdir means the root itself (WebUI config
// files live there).
type Route struct {
	Tag    string `json:"tag"`
	Subdir string `json:"subdir"`
	Symbol string `json:"symbol"`
}

// Dir returns the absolute destination directory under root.
func (r Route) Dir(root string) string {
	if r.Subdir == "" {
		return root
	}
	return filepath.Join(root, r.Subdir)
}

// IsExtension reports whether artifacts of this route are git
// repositories instead of downloadable files.
func (r Route) IsExtension() bool {
	return r.Tag == TagExtension
}

// Table resolves tags and aliases to routes with a fallback for
// everything it does not know.
type Table struct {
	routes   map[string]Route
	aliases  map[string]string
	fallback string
}

// Default returns the table for the standard WebUI directory layout.
func Default() *Table {
	t := &Table{
		routes:   make(map[string]Route),
		aliases:  make(map[string]string),
		fallback: TagModel,
	}

	for _, r := range []Route{
		{Tag: TagModel, Subdir: filepath.Join("models", "Stable-diffusion"), Symbol: "◈"},
		{Tag: TagVAE, Subdir: filepath.Join("models", "VAE"), Symbol: "◆"},
		{Tag: TagLoRA, Subdir: filepath.Join("models", "Lora"), Symbol: "✦"},
		{Tag: TagEmbed, Subdir: "embeddings", Symbol: "✧"},
		{Tag: TagExtension, Subdir: "extensions", Symbol: "⚙"},
		{Tag: TagADetailer, Subdir: filepath.Join("models", "adetailer"), Symbol: "◉"},
		{Tag: TagControl, Subdir: filepath.Join("models", "ControlNet"), Symbol: "⛓"},
		{Tag: TagUpscale, Subdir: filepath.Join("models", "ESRGAN"), Symbol: "⇪"},
		{Tag: TagCLIP, Subdir: filepath.Join("models", "clip"), Symbol: "▣"},
		{Tag: TagUNet, Subdir: filepath.Join("models", "unet"), Symbol: "▤"},
		{Tag: TagVision, Subdir: filepath.Join("models", "clip_vision"), Symbol: "◎"},
		{Tag: TagEncoder, Subdir: filepath.Join("models", "text_encoders"), Symbol: "▥"},
		{Tag: TagDiffusion, Subdir: filepath.Join("models", "diffusion_models"), Symbol: "∿"},
		{Tag: TagConfig, Subdir: "", Symbol: "☰"},
	} {
		t.routes[r.Tag] = r
	}

	for alias, tag := range map[string]string{
		"ckpt":       TagModel,
		"checkpoint": TagModel,
		"emb":        TagEmbed,
		"embedding":  TagEmbed,
		"ext":        TagExtension,
		"ad":         TagADetailer,
		"cnet":       TagControl,
		"controlnet": TagControl,
		"ups":        TagUpscale,
		"upscaler":   TagUpscale,
		"vis":        TagVision,
		"enc":        TagEncoder,
		"diff":       TagDiffusion,
		"cfg":        TagConfig,
	} {
		t.aliases[alias] = tag
	}

	return t
}

// Lookup resolves a tag or alias. The second return is false when the
// tag was unknown (or empty) and the fallback route was applied.
func (t *Table) Lookup(tag string) (Route, bool) {
	if canonical, ok := t.aliases[tag]; ok {
		tag = canonical
	}
	if r, ok := t.routes[tag]; ok {
		return r, true
	}
	return t.routes[t.fallback], false
}

// Routes lists all canonical routes sorted by tag, for display.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Aliases lists the aliases resolving to a tag, sorted, for display.
func (t *Table) Aliases(tag string) []string {
	out := make([]string, 0, 2)
	for alias, canonical := range t.aliases {
		if canonical == tag {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}
