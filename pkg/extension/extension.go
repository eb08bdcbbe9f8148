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

// Package extension clones UI extension repositories. Extensions are
// git repos, not files, so they bypass the download pool entirely and
// are cloned sequentially once all downloads have finished.
package extension

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

const defaultCloneTimeout = 5 * time.Minute

// Repo is one extension to install.
type Repo struct {
	URL       string
	LocalName string
}

// NewRepo derives the local directory name from the override when
// given, else from the repository URL minus any .git suffix.
func NewRepo(rawURL, override string) Repo {
	name := override
	if name == "" {
		name = repoName(rawURL)
	}
	return Repo{URL: rawURL, LocalName: name}
}

func repoName(rawURL string) string {
	base := path.Base(rawURL)
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		base = path.Base(strings.TrimSuffix(u.Path, "/"))
	}
	base = strings.TrimSuffix(base, ".git")
	if base == "" || base == "." || base == "/" {
		return "extension"
	}
	return base
}

// CloneError reports a failed clone together with whatever git wrote
// to stderr.
type CloneError struct {
	URL    string
	Stderr string
	Err    error
}

func (e *CloneError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("cloning %s: %v: %s", e.URL, e.Err, e.Stderr)
	}
	return fmt.Sprintf("cloning %s: %v", e.URL, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

// Summary is the aggregate result of a clone pass.
type Summary struct {
	Cloned         []string
	AlreadyPresent []string
	Failures       []*CloneError
}

// Cloner runs shallow git clones through the git binary.
type Cloner struct {
	git     string
	timeout time.Duration
}

type ClonerOption func(*Cloner)

// WithGitPath overrides the git binary, mainly for tests.
func WithGitPath(p string) ClonerOption {
	return func(c *Cloner) {
		c.git = p
	}
}

func WithCloneTimeout(d time.Duration) ClonerOption {
	return func(c *Cloner) {
		c.timeout = d
	}
}

func NewCloner(opts ...ClonerOption) *Cloner {
	c := &Cloner{
		git:     "git",
		timeout: defaultCloneTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildCloneArgs returns the argument vector for a shallow clone.
func BuildCloneArgs(repoURL, dest string) []string {
	return []string{"clone", "--depth", "1", repoURL, dest}
}

// CloneAll clones every repo into extensionsDir, sequentially. A repo
// whose directory already exists is skipped, and one failed clone
// never stops the rest.
func (c *Cloner) CloneAll(ctx context.Context, repos []Repo, extensionsDir string) Summary {
	var s Summary
	for _, r := range repos {
		dest := filepath.Join(extensionsDir, r.LocalName)
		if _, err := os.Stat(dest); err == nil {
			klog.Infof("extension %s already present, skipping clone", dest)
			s.AlreadyPresent = append(s.AlreadyPresent, r.LocalName)
			continue
		}
		if err := c.clone(ctx, r.URL, dest); err != nil {
			klog.Errorf("clone of %s failed: %s", r.URL, err)
			s.Failures = append(s.Failures, err)
			continue
		}
		klog.Infof("cloned extension %s into %s", r.URL, dest)
		s.Cloned = append(s.Cloned, r.LocalName)
	}
	return s
}

func (c *Cloner) clone(ctx context.Context, repoURL, dest string) *CloneError {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.git, BuildCloneArgs(repoURL, dest)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	klog.V(4).Infof("running %s", strings.Join(cmd.Args, " "))
	if err := cmd.Run(); err != nil {
		return &CloneError{URL: repoURL, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return nil
}
