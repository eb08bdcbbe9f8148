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

// Package catalog provides named sets of model, VAE, ControlNet and
// LoRA links that expand into the same link tokens the CLI accepts by
// hand. Catalogs are static YAML data, embedded at build time and
// never executed.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/kubeagi/modelfetch/pkg/route"
)

//go:embed data/sd15.yaml
var sd15YAML []byte

//go:embed data/sdxl.yaml
var sdxlYAML []byte

// Generation selects one of the built-in catalogs.
type Generation string

const (
	GenerationSD15 Generation = "sd15"
	GenerationSDXL Generation = "sdxl"
)

// Kind names a catalog section.
type Kind string

const (
	KindModel      Kind = "model"
	KindVAE        Kind = "vae"
	KindControlNet Kind = "controlnet"
	KindLoRA       Kind = "lora"
)

// Kinds lists the sections in display order.
func Kinds() []Kind {
	return []Kind{KindModel, KindVAE, KindControlNet, KindLoRA}
}

// All selects every set of a section.
const All = "ALL"

// Entry is one downloadable artifact of a named set.
type Entry struct {
	URL        string `yaml:"url"`
	Name       string `yaml:"name,omitempty"`
	Inpainting bool   `yaml:"inpainting,omitempty"`
}

// Token renders the entry as a link token for the given route tag.
func (e Entry) Token(tag string) string {
	if e.Name != "" {
		return fmt.Sprintf("%s:%s[%s]", tag, e.URL, e.Name)
	}
	return tag + ":" + e.URL
}

// Catalog holds the named sets of one model generation.
type Catalog struct {
	Models      map[string][]Entry `yaml:"models"`
	VAEs        map[string][]Entry `yaml:"vaes"`
	ControlNets map[string][]Entry `yaml:"controlnets"`
	LoRAs       map[string][]Entry `yaml:"loras"`
}

// UnknownNameError reports a selection that matches no set, carrying
// the valid names so the user can correct the spelling.
type UnknownNameError struct {
	Kind  Kind
	Name  string
	Valid []string
}

func (e *UnknownNameError) Error() string {
	return fmt.Sprintf("no %s set named %q, valid names: %s", e.Kind, e.Name, strings.Join(e.Valid, ", "))
}

// Builtin returns the embedded catalog for a generation.
func Builtin(gen Generation) (*Catalog, error) {
	switch gen {
	case GenerationSD15:
		return parse(sd15YAML)
	case GenerationSDXL:
		return parse(sdxlYAML)
	default:
		return nil, errors.Errorf("no builtin catalog for generation %q", gen)
	}
}

// Load reads a catalog with the builtin schema from an external file.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading catalog")
	}
	return parse(raw)
}

func parse(raw []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, errors.Wrap(err, "decoding catalog")
	}
	for _, kind := range Kinds() {
		sec, _ := c.Section(kind)
		for name, entries := range sec {
			if len(entries) == 0 {
				return nil, errors.Errorf("catalog set %q has no entries", name)
			}
			for _, e := range entries {
				if e.URL == "" {
					return nil, errors.Errorf("catalog set %q has an entry without a url", name)
				}
			}
		}
	}
	return c, nil
}

// Section returns the sets of one kind.
func (c *Catalog) Section(kind Kind) (map[string][]Entry, error) {
	switch kind {
	case KindModel:
		return c.Models, nil
	case KindVAE:
		return c.VAEs, nil
	case KindControlNet:
		return c.ControlNets, nil
	case KindLoRA:
		return c.LoRAs, nil
	default:
		return nil, errors.Errorf("unknown catalog section %q", kind)
	}
}

// Names lists a section's set names, sorted.
func (c *Catalog) Names(kind Kind) []string {
	sec, err := c.Section(kind)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(sec))
	for name := range sec {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// routeTags maps sections to route table tags.
var routeTags = map[Kind]string{
	KindModel:      route.TagModel,
	KindVAE:        route.TagVAE,
	KindControlNet: route.TagControl,
	KindLoRA:       route.TagLoRA,
}

// Tokens expands a selection into tagged link tokens for the normal
// ingestion path. The keyword ALL expands the whole section, "none"
// and empty strings are ignored. Inpainting variants are skipped
// unless withInpainting is set.
func (c *Catalog) Tokens(kind Kind, names []string, withInpainting bool) ([]string, error) {
	sec, err := c.Section(kind)
	if err != nil {
		return nil, err
	}

	expandAll := false
	selected := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		switch {
		case n == "" || strings.EqualFold(n, "none"):
		case strings.EqualFold(n, All):
			expandAll = true
		default:
			selected = append(selected, n)
		}
	}
	if expandAll {
		selected = c.Names(kind)
	}

	tag := routeTags[kind]
	tokens := make([]string, 0, len(selected))
	for _, name := range selected {
		entries, ok := sec[name]
		if !ok {
			return nil, &UnknownNameError{Kind: kind, Name: name, Valid: c.Names(kind)}
		}
		for _, e := range entries {
			if e.Inpainting && !withInpainting {
				continue
			}
			tokens = append(tokens, e.Token(tag))
		}
	}
	return tokens, nil
}
