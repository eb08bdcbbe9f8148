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

package civitai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"k8s.io/klog/v2"

	"github.com/kubeagi/modelfetch/pkg/fetcher"
	"github.com/kubeagi/modelfetch/pkg/utils"
)

const (
	defaultPreviewWidth = 512

	// gallery images at this level or above stay out of previews when
	// the environment forbids them
	nsfwPreviewCutoff = 4
)

// previewTypes are the model types whose gallery images make useful
// previews in a model browser.
var previewTypes = map[string]struct{}{
	"Checkpoint":        {},
	"TextualInversion":  {},
	"LORA":              {},
	"Hypernetwork":      {},
	"AestheticGradient": {},
}

var previewWidthRe = regexp.MustCompile(`/width=\d+/`)

// Fetcher downloads marketplace artifacts: the primary file with
// digest verification, plus a best effort preview image and metadata
// sidecar next to it.
type Fetcher struct {
	client       *Client
	http         *http.Client
	retry        fetcher.RetryPolicy
	skipNSFW     bool
	previewWidth int
}

var _ fetcher.Fetcher = (*Fetcher)(nil)

type FetcherOption func(*Fetcher)

// WithSkipNSFWPreviews drops adult gallery images from preview
// selection, for hosts that forbid such content.
func WithSkipNSFWPreviews(skip bool) FetcherOption {
	return func(f *Fetcher) {
		f.skipNSFW = skip
	}
}

// WithPreviewWidth sets the width the preview image is requested at.
func WithPreviewWidth(w int) FetcherOption {
	return func(f *Fetcher) {
		if w > 0 {
			f.previewWidth = w
		}
	}
}

func WithDownloadClient(hc *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.http = hc
	}
}

func WithDownloadRetry(p fetcher.RetryPolicy) FetcherOption {
	return func(f *Fetcher) {
		f.retry = p
	}
}

func NewFetcher(client *Client, opts ...FetcherOption) *Fetcher {
	if client == nil {
		client = NewClient()
	}
	f := &Fetcher{
		client:       client,
		retry:        fetcher.DefaultRetryPolicy(),
		previewWidth: defaultPreviewWidth,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.http == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = requestTimeout
		f.http = &http.Client{Transport: tr}
	}
	return f
}

func (f *Fetcher) Name() string {
	return "civitai"
}

// Fetch resolves the link's metadata and downloads the primary file.
// Preview and sidecar failures only warn, the artifact alone decides
// the outcome.
func (f *Fetcher) Fetch(ctx context.Context, l *fetcher.ResolvedLink) (*fetcher.Result, error) {
	version, err := f.client.ResolveMetadata(ctx, l.URL)
	if err != nil {
		return nil, err
	}
	if version.EarlyAccess() && f.client.token == "" {
		return nil, &fetcher.AuthError{
			URL:    l.URL,
			Reason: "early access version, an API token is required: " + version.PageURL(),
		}
	}

	res, err := f.FetchPrimaryFile(ctx, version, l.DestDir, l.Request.NameOverride)
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(res.Path), filepath.Ext(res.Path))
	if _, ok := previewTypes[version.Model.Type]; ok {
		if err := f.FetchPreview(ctx, version, l.DestDir, stem); err != nil {
			klog.Warningf("preview for %s skipped: %s", stem, err)
		}
	}
	if err := f.PersistMetadata(version, l.DestDir, stem); err != nil {
		klog.Warningf("metadata sidecar for %s skipped: %s", stem, err)
	}
	return res, nil
}

// FetchPrimaryFile downloads the version's primary file into destDir,
// hashing the stream and comparing it against the declared SHA256. A
// present file with a matching digest short-circuits the download.
func (f *Fetcher) FetchPrimaryFile(ctx context.Context, v *ModelVersion, destDir, overrideName string) (*fetcher.Result, error) {
	name := primaryFilename(v, overrideName)
	dest := filepath.Join(destDir, name)
	expected := v.SHA256()

	if fetcher.ArtifactComplete(dest, expected) {
		klog.Infof("%s already present, skipping download", dest)
		return &fetcher.Result{Path: dest}, nil
	}
	if v.DownloadURL == "" {
		return nil, &fetcher.NotFoundError{URL: v.PageURL()}
	}

	signed := f.client.resignURL(v.DownloadURL)
	written, digest, err := f.download(ctx, signed, dest)
	if err != nil {
		if !fetcher.IsPermanent(err) {
			err = &fetcher.NetworkError{URL: v.DownloadURL, Attempts: f.retry.Attempts, Err: err}
		}
		return nil, err
	}
	if expected != "" && !utils.SameSHA256(expected, digest) {
		// the partial stays on disk for inspection
		return nil, &fetcher.HashMismatchError{Path: dest, Expected: strings.ToLower(expected), Actual: digest}
	}
	klog.V(4).Infof("downloaded %s (%s)", dest, utils.BytesToSizedStr(written))
	return &fetcher.Result{Path: dest, Bytes: written}, nil
}

// download streams the signed URL to dest while hashing it. Each retry
// attempt truncates and rewrites the file.
func (f *Fetcher) download(ctx context.Context, rawURL, dest string) (int64, string, error) {
	var (
		written int64
		digest  string
	)
	err := f.retry.Do(ctx, "civitai download "+filepath.Base(dest), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fetcher.Permanent(err)
		}
		if f.client.token != "" {
			req.Header.Set("Authorization", "Bearer "+f.client.token)
		}
		resp, err := f.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fetcher.StatusError(rawURL, resp.StatusCode)
		}
		out, err := os.Create(dest)
		if err != nil {
			return fetcher.Permanent(err)
		}
		h := sha256.New()
		written, err = io.Copy(io.MultiWriter(out, h), resp.Body)
		cerr := out.Close()
		if err != nil {
			return err
		}
		if cerr != nil {
			return cerr
		}
		digest = hex.EncodeToString(h.Sum(nil))
		return nil
	})
	return written, digest, err
}

// FetchPreview saves the version's first usable gallery image as
// <stem>.preview.<ext>. Animated formats are skipped, an existing
// preview is kept.
func (f *Fetcher) FetchPreview(ctx context.Context, v *ModelVersion, destDir, stem string) error {
	imgURL, name := f.previewFor(v.Images, stem)
	if imgURL == "" {
		klog.V(4).Infof("no usable preview image for %s", stem)
		return nil
	}
	dest := filepath.Join(destDir, name)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imgURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fetcher.StatusError(imgURL, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	klog.V(4).Infof("saved preview %s", dest)
	return nil
}

// previewFor picks the first gallery image that is not animated and,
// when NSFW filtering is on, below the cutoff. The width segment in
// the CDN URL is rewritten to the configured preview width.
func (f *Fetcher) previewFor(images []ModelImage, stem string) (string, string) {
	for _, img := range images {
		if f.skipNSFW && img.NSFWLevel >= nsfwPreviewCutoff {
			continue
		}
		clean := img.URL
		if i := strings.IndexByte(clean, '?'); i >= 0 {
			clean = clean[:i]
		}
		low := strings.ToLower(clean)
		if strings.HasSuffix(low, ".gif") || strings.HasSuffix(low, ".mp4") || strings.HasSuffix(low, ".webm") {
			continue
		}
		ext := "jpeg"
		if i := strings.LastIndexByte(clean, '.'); i >= 0 && i+1 < len(clean) {
			ext = clean[i+1:]
		}
		resized := previewWidthRe.ReplaceAllString(img.URL, fmt.Sprintf("/width=%d/", f.previewWidth))
		return resized, stem + ".preview." + ext
	}
	return "", ""
}

// sidecar is the metadata file model browsers read next to an
// artifact.
type sidecar struct {
	ModelType      string `json:"model_type"`
	SDVersion      string `json:"sd_version"`
	ModelID        int64  `json:"modelId"`
	ModelVersionID int64  `json:"modelVersionId"`
	ActivationText string `json:"activation_text"`
	SHA256         string `json:"sha256"`
}

// PersistMetadata writes the <stem>.json sidecar describing the
// version. An existing sidecar is left untouched.
func (f *Fetcher) PersistMetadata(v *ModelVersion, destDir, stem string) error {
	dest := filepath.Join(destDir, stem+".json")
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	body, err := json.MarshalIndent(sidecar{
		ModelType:      v.Model.Type,
		SDVersion:      v.SDVersion(),
		ModelID:        v.ModelID,
		ModelVersionID: v.ID,
		ActivationText: strings.Join(v.TrainedWords, ", "),
		SHA256:         v.SHA256(),
	}, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, body, 0644); err != nil {
		return err
	}
	klog.V(4).Infof("saved sidecar %s", dest)
	return nil
}

// primaryFilename resolves the on-disk name: the user override wins
// and inherits the source extension when it has none, otherwise the
// marketplace file name, otherwise a synthesized one.
func primaryFilename(v *ModelVersion, override string) string {
	name := ""
	if f := v.PrimaryFile(); f != nil {
		name = f.Name
	}
	if name == "" {
		name = fmt.Sprintf("model_%d.safetensors", v.ID)
	}
	if override == "" {
		return name
	}
	if !strings.Contains(override, ".") {
		if ext := filepath.Ext(name); ext != "" {
			override += ext
		}
	}
	return override
}
