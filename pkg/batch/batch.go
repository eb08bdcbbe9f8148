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

// Package batch turns a list of link tokens into downloaded artifacts:
// it parses and routes every link, runs the downloads on a bounded
// worker pool, unpacks archives, clones extension repos once the pool
// has drained and reports one outcome per link.
package batch

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/KawashiroNitori/butcher/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kubeagi/modelfetch/pkg/extension"
	"github.com/kubeagi/modelfetch/pkg/fetcher"
	"github.com/kubeagi/modelfetch/pkg/link"
	"github.com/kubeagi/modelfetch/pkg/route"
	"github.com/kubeagi/modelfetch/pkg/storage"
)

// ErrDuplicatePath marks a link whose destination path was already
// claimed by an earlier link in the same batch.
var ErrDuplicatePath = errors.New("destination path already claimed by another link")

// Outcome is the terminal record of one link.
type Outcome struct {
	Token    string         `json:"token"`
	Filename string         `json:"filename,omitempty"`
	DestPath string         `json:"destPath,omitempty"`
	Route    string         `json:"route,omitempty"`
	Status   fetcher.Status `json:"status"`
	Bytes    int64          `json:"bytes,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Err      error          `json:"-"`
}

// Result aggregates a whole batch run.
type Result struct {
	ID             string
	Outcomes       []Outcome
	Cloned         []string
	AlreadyPresent []string
	CloneFailures  []*extension.CloneError
	Elapsed        time.Duration
}

// Completed counts successfully finished downloads.
func (r *Result) Completed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == fetcher.StatusCompleted {
			n++
		}
	}
	return n
}

// Failed counts downloads that ended in a failed state.
func (r *Result) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == fetcher.StatusFailed {
			n++
		}
	}
	return n
}

// entry preserves input order across immediate rejections and pooled
// downloads.
type entry struct {
	immediate *Outcome
	pooled    *item
}

// Orchestrator runs batches against one destination root.
type Orchestrator struct {
	root     string
	workers  int
	table    *route.Table
	selector *fetcher.Selector
	cloner   *extension.Cloner
	mirror   *storage.Mirror
}

type Option func(*Orchestrator)

// WithWorkers bounds the download pool size.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithRouteTable(t *route.Table) Option {
	return func(o *Orchestrator) {
		o.table = t
	}
}

func WithSelector(s *fetcher.Selector) Option {
	return func(o *Orchestrator) {
		o.selector = s
	}
}

func WithCloner(c *extension.Cloner) Option {
	return func(o *Orchestrator) {
		o.cloner = c
	}
}

// WithMirror enables the post-batch artifact push to an object store.
func WithMirror(m *storage.Mirror) Option {
	return func(o *Orchestrator) {
		o.mirror = m
	}
}

func NewOrchestrator(root string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		root:    root,
		workers: defaultMaxWorkers,
		table:   route.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.selector == nil {
		o.selector = fetcher.NewSelector(fetcher.NewGeneric(), fetcher.NewDrive(), nil)
	}
	if o.cloner == nil {
		o.cloner = extension.NewCloner()
	}
	return o
}

// Run processes the tokens and returns one outcome per non-extension
// link plus a clone record per extension. The only fatal error is a
// destination directory that cannot be created; everything else is
// scoped to its item.
func (o *Orchestrator) Run(ctx context.Context, tokens []string) (*Result, error) {
	started := time.Now()
	res := &Result{ID: uuid.NewString()}
	klog.Infof("batch %s: %d links", res.ID, len(tokens))

	entries, items, repos, dirs := o.prepare(tokens)

	extDir := ""
	if len(repos) > 0 {
		r, _ := o.table.Lookup(route.TagExtension)
		extDir = r.Dir(o.root)
		dirs[extDir] = struct{}{}
	}
	for d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, errors.Wrapf(err, "creating destination directory %s", d)
		}
	}

	sink := newOutcomeSink()
	if len(items) > 0 {
		runner, err := butcher.NewButcher[*item](
			&executor{items: items, selector: o.selector, sink: sink},
			butcher.BufferSize(bufSize),
			butcher.MaxWorker(o.workers),
		)
		if err != nil {
			return nil, errors.Wrap(err, "creating worker pool")
		}
		if err := runner.Run(ctx); err != nil {
			klog.Errorf("batch %s: worker pool aborted: %s", res.ID, err)
		}
	}

	// one outcome per link, dispatched or not
	for _, e := range entries {
		if e.immediate != nil {
			res.Outcomes = append(res.Outcomes, *e.immediate)
			continue
		}
		if out, ok := sink.outcomeOf(e.pooled); ok {
			res.Outcomes = append(res.Outcomes, out)
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = errors.New("never dispatched")
		}
		res.Outcomes = append(res.Outcomes, Outcome{
			Token:    e.pooled.Token,
			Filename: e.pooled.Resolved.Filename,
			DestPath: e.pooled.Resolved.DestPath(),
			Route:    e.pooled.Resolved.Route.Tag,
			Status:   fetcher.StatusFailed,
			Err:      err,
		})
	}

	// extensions clone strictly after the pool has drained
	if len(repos) > 0 {
		summary := o.cloner.CloneAll(ctx, repos, extDir)
		res.Cloned = summary.Cloned
		res.AlreadyPresent = summary.AlreadyPresent
		res.CloneFailures = summary.Failures
	}

	if o.mirror != nil {
		o.pushCompleted(ctx, res.Outcomes)
	}

	res.Elapsed = time.Since(started).Round(time.Millisecond)
	klog.Infof("batch %s finished: %d completed, %d failed, %d cloned in %s",
		res.ID, res.Completed(), res.Failed(), len(res.Cloned), res.Elapsed)
	return res, nil
}

// prepare parses and routes the tokens: extension links divert to the
// clone list, links with an already claimed destination are rejected
// before dispatch so no two writers ever share a path.
func (o *Orchestrator) prepare(tokens []string) (entries []entry, items []*item, repos []extension.Repo, dirs map[string]struct{}) {
	dirs = make(map[string]struct{})
	claimed := make(map[string]string)

	for _, token := range tokens {
		req, err := link.Parse(token)
		if err != nil {
			if errors.Is(err, link.ErrEmptyLink) {
				continue
			}
			klog.Errorf("rejected link %q: %s", token, err)
			entries = append(entries, entry{immediate: &Outcome{
				Token:  token,
				Status: fetcher.StatusFailed,
				Err:    err,
			}})
			continue
		}

		resolved := fetcher.Resolve(req, o.table, o.root)
		if resolved.Route.IsExtension() {
			repos = append(repos, extension.NewRepo(resolved.URL, req.NameOverride))
			continue
		}

		it := &item{Token: token, Resolved: resolved, status: fetcher.StatusPending}
		it.transition(fetcher.StatusResolving)

		dest := resolved.DestPath()
		if first, ok := claimed[dest]; ok {
			klog.Warningf("link %q resolves to %s, already claimed by %q, skipping", token, dest, first)
			entries = append(entries, entry{immediate: &Outcome{
				Token:    token,
				Filename: resolved.Filename,
				DestPath: dest,
				Route:    resolved.Route.Tag,
				Status:   fetcher.StatusFailed,
				Err:      errors.Wrapf(ErrDuplicatePath, "claimed by %q", first),
			}})
			continue
		}
		claimed[dest] = token

		dirs[resolved.DestDir] = struct{}{}
		entries = append(entries, entry{pooled: it})
		items = append(items, it)
	}
	return entries, items, repos, dirs
}

// pushCompleted mirrors finished artifacts, best effort.
func (o *Orchestrator) pushCompleted(ctx context.Context, outcomes []Outcome) {
	if err := o.mirror.EnsureBucket(ctx); err != nil {
		klog.Warningf("mirror bucket check failed, skipping push: %s", err)
		return
	}
	for _, out := range outcomes {
		if out.Status != fetcher.StatusCompleted || out.DestPath == "" {
			continue
		}
		fi, err := os.Stat(out.DestPath)
		if err != nil {
			// extracted archives leave nothing behind to push
			continue
		}
		key := out.Filename
		if r, ok := o.table.Lookup(out.Route); ok && r.Subdir != "" {
			key = path.Join(filepath.ToSlash(r.Subdir), out.Filename)
		}
		if o.mirror.Has(ctx, key, fi.Size()) {
			klog.V(4).Infof("%s already mirrored, skipping", key)
			continue
		}
		if err := o.mirror.Push(ctx, out.DestPath, key); err != nil {
			klog.Warningf("mirror push of %s failed: %s", out.DestPath, err)
		}
	}
}
