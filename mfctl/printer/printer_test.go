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

package printer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testRow struct {
	Name string   `json:"name"`
	Size string   `json:"size,omitempty"`
	Tags []string `json:"tags"`
}

func TestFprint(t *testing.T) {
	var buf bytes.Buffer
	Fprint(&buf, []string{"name", "size", "tags"}, []any{
		testRow{Name: "one.safetensors", Size: "1.00 GB", Tags: []string{"model"}},
		testRow{Name: "two.pt"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[0], "SIZE")
	assert.Contains(t, lines[1], "one.safetensors")
	assert.Contains(t, lines[1], "1.00 GB")
	assert.Contains(t, lines[1], `["model"]`)
	assert.Contains(t, lines[2], "two.pt")
}

func TestGetByHeader(t *testing.T) {
	row := testRow{Name: "artifact.bin"}

	assert.Equal(t, "artifact.bin", GetByHeader(row, "name"))
	assert.Equal(t, "artifact.bin", GetByHeader(&row, "name"))
	// omitempty suffix is ignored when matching
	assert.Equal(t, "", GetByHeader(row, "size"))
	assert.Equal(t, noneValue, GetByHeader(row, "missing"))
	assert.Equal(t, noneValue, GetByHeader((*testRow)(nil), "name"))
	assert.Equal(t, noneValue, GetByHeader("not a struct", "name"))
}
