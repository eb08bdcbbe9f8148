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
	"context"
	"html"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"k8s.io/klog/v2"

	"github.com/kubeagi/modelfetch/pkg/link"
)

// Drive fetches files shared on Google Drive. Small files stream
// directly; large ones sit behind an interstitial page whose
// confirmation token (cookie, inline token, or form) must be carried
// into a second request.
type Drive struct {
	base    *http.Client
	baseURL string
	retry   RetryPolicy
}

var _ Fetcher = (*Drive)(nil)

type DriveOption func(*Drive)

func WithDriveHTTPClient(c *http.Client) DriveOption {
	return func(d *Drive) {
		d.base = c
	}
}

// WithDriveBaseURL points the fetcher at a different endpoint, used by
// tests.
func WithDriveBaseURL(u string) DriveOption {
	return func(d *Drive) {
		d.baseURL = strings.TrimSuffix(u, "/")
	}
}

func WithDriveRetryPolicy(p RetryPolicy) DriveOption {
	return func(d *Drive) {
		d.retry = p
	}
}

func NewDrive(opts ...DriveOption) *Drive {
	d := &Drive{
		base:    defaultHTTPClient(),
		baseURL: "https://drive.google.com",
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Drive) Name() string {
	return "drive"
}

// DriveFileID pulls the file id out of the known drive URL shapes:
// /file/d/<id>/..., ?id=<id> and /uc short links. Folder links have no
// single file to fetch and are rejected.
func DriveFileID(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", &link.ParseError{Token: raw, Reason: err.Error()}
	}
	if strings.Contains(u.Path, "/folders/") {
		return "", &link.ParseError{Token: raw, Reason: "drive folders are not supported"}
	}
	if id := u.Query().Get("id"); id != "" {
		return id, nil
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "d" {
			return parts[i+1], nil
		}
	}
	return "", &link.ParseError{Token: raw, Reason: "no drive file id found"}
}

func (d *Drive) Fetch(ctx context.Context, l *ResolvedLink) (*Result, error) {
	id, err := DriveFileID(l.URL)
	if err != nil {
		return nil, Permanent(err)
	}

	if ArtifactComplete(l.DestPath(), l.ExpectedSHA256) {
		klog.Infof("%s already present, skipping download", l.DestPath())
		return &Result{Path: l.DestPath()}, nil
	}

	// fresh jar per fetch: the warning cookie is per file
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, Permanent(err)
	}
	client := &http.Client{Transport: d.base.Transport, Jar: jar, Timeout: d.base.Timeout}

	var res *Result
	err = d.retry.Do(ctx, "drive download "+id, func() error {
		r, ferr := d.fetchOnce(ctx, client, id, l)
		if ferr != nil {
			return ferr
		}
		res = r
		return nil
	})
	if err != nil {
		if !IsPermanent(err) {
			err = &NetworkError{URL: l.URL, Attempts: d.retry.Attempts, Err: err}
		}
		return nil, err
	}
	return res, nil
}

func (d *Drive) fetchOnce(ctx context.Context, client *http.Client, id string, l *ResolvedLink) (*Result, error) {
	requestURL := d.baseURL + "/uc?export=download&id=" + url.QueryEscape(id)
	resp, err := d.get(ctx, client, requestURL)
	if err != nil {
		return nil, err
	}

	if isHTML(resp) {
		confirmURL, cerr := d.confirmURL(resp, id, requestURL)
		if cerr != nil {
			return nil, cerr
		}
		klog.V(4).Infof("drive file %s needs confirmation, following %s", id, confirmURL)
		resp, err = d.get(ctx, client, confirmURL)
		if err != nil {
			return nil, err
		}
		if isHTML(resp) {
			resp.Body.Close()
			return nil, &AuthError{URL: l.URL, Reason: "confirmation flow did not yield the file"}
		}
	}
	defer resp.Body.Close()
	return d.stream(resp, l)
}

func (d *Drive) get(ctx context.Context, client *http.Client, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		code := resp.StatusCode
		resp.Body.Close()
		return nil, StatusError(u, code)
	}
	return resp, nil
}

func isHTML(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/html")
}

var (
	driveFormRe    = regexp.MustCompile(`<form[^>]+action="([^"]+)"`)
	driveInputRe   = regexp.MustCompile(`<input[^>]+name="([^"]+)"[^>]+value="([^"]*)"`)
	driveConfirmRe = regexp.MustCompile(`confirm=([0-9A-Za-z_-]+)`)
)

// confirmURL extracts the follow-up URL from an interstitial page.
// Quota and permission walls surface as AuthError; a page without any
// known token means the file is gone.
func (d *Drive) confirmURL(resp *http.Response, id, requestURL string) (string, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	page := string(body)

	switch {
	case strings.Contains(page, "Quota exceeded"),
		strings.Contains(page, "Too many users have viewed or downloaded"):
		return "", &AuthError{URL: requestURL, Reason: "download quota exceeded"}
	case strings.Contains(page, "need permission"),
		strings.Contains(page, "Request access"):
		return "", &AuthError{URL: requestURL, Reason: "file is not shared publicly"}
	}

	for _, c := range resp.Cookies() {
		if strings.HasPrefix(c.Name, "download_warning") {
			return requestURL + "&confirm=" + url.QueryEscape(c.Value), nil
		}
	}

	if m := driveFormRe.FindStringSubmatch(page); m != nil {
		action := html.UnescapeString(m[1])
		q := url.Values{}
		for _, in := range driveInputRe.FindAllStringSubmatch(page, -1) {
			q.Set(in[1], html.UnescapeString(in[2]))
		}
		if q.Get("id") == "" {
			q.Set("id", id)
		}
		if q.Get("export") == "" {
			q.Set("export", "download")
		}
		sep := "?"
		if strings.Contains(action, "?") {
			sep = "&"
		}
		return action + sep + q.Encode(), nil
	}

	if m := driveConfirmRe.FindStringSubmatch(page); m != nil {
		return requestURL + "&confirm=" + m[1], nil
	}

	return "", &NotFoundError{URL: requestURL}
}

// stream writes the payload to the destination, preferring the server's
// disposition filename over the synthesized placeholder unless the user
// overrode the name. A disposition name that collides with an existing
// file loses to the placeholder.
func (d *Drive) stream(resp *http.Response, l *ResolvedLink) (*Result, error) {
	name := l.Filename
	if l.Request.NameOverride == "" {
		if cd := dispositionFilename(resp.Header.Get("Content-Disposition")); cd != "" {
			name = cd
		}
	}
	dest := filepath.Join(l.DestDir, name)
	if dest != l.DestPath() {
		if _, err := os.Stat(dest); err == nil {
			klog.Warningf("%s already exists, keeping placeholder name %s", dest, l.Filename)
			dest = l.DestPath()
		}
	}

	f, err := os.Create(dest)
	if err != nil {
		return nil, Permanent(err)
	}
	written, err := io.Copy(f, resp.Body)
	cerr := f.Close()
	if err != nil {
		return nil, err
	}
	if cerr != nil {
		return nil, cerr
	}
	return &Result{Path: dest, Bytes: written}, nil
}

// dispositionFilename parses a Content-Disposition header into a bare
// filename. The header is remote input, so any path is flattened.
func dispositionFilename(v string) string {
	if v == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	name := strings.ReplaceAll(params["filename"], "\\", "/")
	if name == "" {
		return ""
	}
	if base := filepath.Base(name); base != "." && base != "/" {
		return base
	}
	return ""
}
