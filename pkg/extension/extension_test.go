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

package extension

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCloneArgs(t *testing.T) {
	args := BuildCloneArgs("https://github.com/user/ext.git", "/data/extensions/ext")
	assert.Equal(t, []string{"clone", "--depth", "1", "https://github.com/user/ext.git", "/data/extensions/ext"}, args)
}

func TestNewRepo(t *testing.T) {
	tests := []struct {
		url      string
		override string
		want     string
	}{
		{"https://github.com/user/sd-webui-tagger.git", "", "sd-webui-tagger"},
		{"https://github.com/user/sd-webui-tagger", "", "sd-webui-tagger"},
		{"https://github.com/user/sd-webui-tagger/", "", "sd-webui-tagger"},
		{"https://github.com/user/sd-webui-tagger.git", "tagger", "tagger"},
	}
	for _, test := range tests {
		r := NewRepo(test.url, test.override)
		if r.LocalName != test.want {
			t.Fatalf("NewRepo(%q, %q).LocalName = %q, expected %q", test.url, test.override, r.LocalName, test.want)
		}
		if r.URL != test.url {
			t.Fatalf("NewRepo(%q).URL = %q", test.url, r.URL)
		}
	}
}

// fakeGit writes a small shell script that mimics a git clone by
// creating the destination directory.
func fakeGit(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script based fake git")
	}
	script := filepath.Join(t.TempDir(), "fakegit")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body), 0755))
	return script
}

func TestCloneAll(t *testing.T) {
	// $5 is the destination from BuildCloneArgs
	git := fakeGit(t, `mkdir -p "$5" && echo cloned > "$5/marker"`)
	dir := t.TempDir()

	c := NewCloner(WithGitPath(git))
	s := c.CloneAll(context.Background(), []Repo{
		{URL: "https://github.com/user/one.git", LocalName: "one"},
		{URL: "https://github.com/user/two.git", LocalName: "two"},
	}, dir)

	assert.Equal(t, []string{"one", "two"}, s.Cloned)
	assert.Empty(t, s.AlreadyPresent)
	assert.Empty(t, s.Failures)

	for _, name := range []string{"one", "two"} {
		_, err := os.Stat(filepath.Join(dir, name, "marker"))
		assert.NoError(t, err)
	}
}

func TestCloneAllSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "present"), 0755))

	// the binary does not exist, a clone attempt would fail loudly
	c := NewCloner(WithGitPath(filepath.Join(dir, "no-such-git")))
	s := c.CloneAll(context.Background(), []Repo{
		{URL: "https://github.com/user/present.git", LocalName: "present"},
	}, dir)

	assert.Empty(t, s.Cloned)
	assert.Equal(t, []string{"present"}, s.AlreadyPresent)
	assert.Empty(t, s.Failures)
}

func TestCloneAllContinuesAfterFailure(t *testing.T) {
	git := fakeGit(t, `case "$4" in
*broken*) echo "fatal: repository not found" >&2; exit 128 ;;
*) mkdir -p "$5" ;;
esac`)
	dir := t.TempDir()

	c := NewCloner(WithGitPath(git))
	s := c.CloneAll(context.Background(), []Repo{
		{URL: "https://github.com/user/broken.git", LocalName: "broken"},
		{URL: "https://github.com/user/fine.git", LocalName: "fine"},
	}, dir)

	assert.Equal(t, []string{"fine"}, s.Cloned)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "https://github.com/user/broken.git", s.Failures[0].URL)
	assert.Contains(t, s.Failures[0].Stderr, "repository not found")
}
