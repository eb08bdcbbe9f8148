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
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		line     string
		expected []string
	}{
		{"", []string{}},
		{" , ,", []string{}},
		{"https://a/x.pt", []string{"https://a/x.pt"}},
		{"https://a/x.pt, vae:https://b/y.pt", []string{"https://a/x.pt", "vae:https://b/y.pt"}},
		{"https://a/x.pt,,https://b/y.pt, ", []string{"https://a/x.pt", "https://b/y.pt"}},
	}
	for _, test := range tests {
		if got := Split(test.line); !reflect.DeepEqual(got, test.expected) {
			t.Errorf("Split(%q) = %v, expected %v", test.line, got, test.expected)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  Request
	}{
		{
			name:  "bare url has no tag",
			token: "https://example.com/model.safetensors",
			want:  Request{RawURL: "https://example.com/model.safetensors"},
		},
		{
			name:  "tagged url",
			token: "vae:https://example.com/v.safetensors",
			want:  Request{Prefix: "vae", RawURL: "https://example.com/v.safetensors"},
		},
		{
			name:  "tag is lowercased",
			token: "LoRA:https://example.com/l.safetensors",
			want:  Request{Prefix: "lora", RawURL: "https://example.com/l.safetensors"},
		},
		{
			name:  "unknown tag survives for the route fallback",
			token: "foo:https://example.com/x.bin",
			want:  Request{Prefix: "foo", RawURL: "https://example.com/x.bin"},
		},
		{
			name:  "bracket override",
			token: "https://example.com/model.bin[custom.bin]",
			want:  Request{RawURL: "https://example.com/model.bin", NameOverride: "custom.bin"},
		},
		{
			name:  "tag and override together",
			token: "embed:https://example.com/e.pt[MyEmbed.pt]",
			want:  Request{Prefix: "embed", RawURL: "https://example.com/e.pt", NameOverride: "MyEmbed.pt"},
		},
		{
			name:  "override cannot carry directories",
			token: "https://example.com/m.bin[a/b/../c.bin]",
			want:  Request{RawURL: "https://example.com/m.bin", NameOverride: "c.bin"},
		},
		{
			name:  "empty brackets are dropped",
			token: "https://example.com/m.bin[]",
			want:  Request{RawURL: "https://example.com/m.bin"},
		},
		{
			name:  "surrounding spaces are trimmed",
			token: "  control:https://example.com/c.pth  ",
			want:  Request{Prefix: "control", RawURL: "https://example.com/c.pth"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Parse(test.token)
			assert.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, token := range []string{"", "   ", "\t"} {
		_, err := Parse(token)
		if !errors.Is(err, ErrEmptyLink) {
			t.Fatalf("Parse(%q) error = %v, expected ErrEmptyLink", token, err)
		}
	}

	for _, token := range []string{
		"foo:bar",
		"ftp://example.com/x.bin",
		"not a url at all",
		"model:",
	} {
		_, err := Parse(token)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse(%q) error = %v, expected *ParseError", token, err)
		}
	}
}
