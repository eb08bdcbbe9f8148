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

package batch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kubeagi/modelfetch/pkg/archive"
	"github.com/kubeagi/modelfetch/pkg/fetcher"
)

const (
	defaultMaxWorkers = 3
	bufSize           = 5
)

// item is one link travelling through the download pool.
type item struct {
	Token    string
	Resolved *fetcher.ResolvedLink

	status  fetcher.Status
	result  *fetcher.Result
	started time.Time
}

func (it *item) transition(s fetcher.Status) {
	klog.V(4).Infof("%s: %s -> %s", it.Token, it.status, s)
	it.status = s
}

// executor adapts the per-item download pipeline to the worker pool:
// fetch, verify, unpack.
type executor struct {
	items    []*item
	selector *fetcher.Selector
	sink     *outcomeSink
}

func (e *executor) GenerateJob(ctx context.Context, jobCh chan<- *item) error {
	for _, it := range e.items {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		jobCh <- it
	}
	return nil
}

func (e *executor) Task(ctx context.Context, it *item) error {
	it.started = time.Now()
	it.transition(fetcher.StatusFetching)

	res, err := e.selector.For(it.Resolved.Kind).Fetch(ctx, it.Resolved)
	if err != nil {
		return err
	}
	it.result = res

	it.transition(fetcher.StatusVerifying)
	if err := verifyArtifact(res); err != nil {
		return err
	}

	if archive.IsArchive(res.Path) {
		it.transition(fetcher.StatusPostProcessing)
		if err := archive.ExtractAndRemove(res.Path, it.Resolved.DestDir); err != nil {
			return err
		}
	}
	return nil
}

func (e *executor) OnFinish(ctx context.Context, it *item, err error) {
	if err != nil {
		it.transition(fetcher.StatusFailed)
		klog.Errorf("download of %s failed: %s", it.Token, err)
	} else {
		it.transition(fetcher.StatusCompleted)
		klog.Infof("download of %s completed: %s", it.Token, it.result.Path)
	}
	e.sink.record(it, err)
}

// verifyArtifact confirms the fetcher left a usable file behind. Digest
// checks already ran on the stream, this catches empty or vanished
// outputs.
func verifyArtifact(res *fetcher.Result) error {
	st, err := os.Stat(res.Path)
	if err != nil {
		return err
	}
	if st.Size() == 0 {
		return errors.Errorf("artifact %s is empty", res.Path)
	}
	return nil
}

// outcomeSink collects per-item outcomes from concurrent workers.
type outcomeSink struct {
	mu sync.Mutex
	m  map[*item]Outcome
}

func newOutcomeSink() *outcomeSink {
	return &outcomeSink{m: make(map[*item]Outcome)}
}

func (s *outcomeSink) record(it *item, err error) {
	o := Outcome{
		Token:    it.Token,
		Route:    it.Resolved.Route.Tag,
		Status:   it.status,
		Err:      err,
		DestPath: it.Resolved.DestPath(),
		Filename: it.Resolved.Filename,
	}
	if it.result != nil {
		o.DestPath = it.result.Path
		o.Filename = filepath.Base(it.result.Path)
		o.Bytes = it.result.Bytes
	}
	if !it.started.IsZero() {
		o.Duration = time.Since(it.started).Round(time.Millisecond)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[it] = o
}

func (s *outcomeSink) outcomeOf(it *item) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[it]
	return o, ok
}
