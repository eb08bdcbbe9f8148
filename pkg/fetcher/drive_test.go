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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeagi/modelfetch/pkg/link"
)

func TestDriveFileID(t *testing.T) {
	tests := []struct {
		raw     string
		id      string
		wantErr bool
	}{
		{"https://drive.google.com/file/d/ABC-123_xyz/view?usp=sharing", "ABC-123_xyz", false},
		{"https://drive.google.com/file/d/ABC123", "ABC123", false},
		{"https://drive.google.com/uc?export=download&id=XYZ789", "XYZ789", false},
		{"https://drive.google.com/open?id=QQQ", "QQQ", false},
		{"https://drive.google.com/drive/folders/FOLDERID", "", true},
		{"https://drive.google.com/drive/my-drive", "", true},
	}
	for _, test := range tests {
		id, err := DriveFileID(test.raw)
		if test.wantErr {
			var pe *link.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("DriveFileID(%q) error = %v, expected *link.ParseError", test.raw, err)
			}
			continue
		}
		if err != nil || id != test.id {
			t.Fatalf("DriveFileID(%q) = (%q, %v), expected %q", test.raw, id, err, test.id)
		}
	}
}

func driveLink(srvURL, dir, id string) *ResolvedLink {
	raw := srvURL + "/uc?export=download&id=" + id
	return &ResolvedLink{
		Request:     link.Request{RawURL: raw},
		Kind:        KindDrive,
		URL:         raw,
		DestDir:     dir,
		Filename:    "gdrive_" + id + ".bin",
		Provisional: true,
	}
}

func newTestDrive(srv *httptest.Server) *Drive {
	return NewDrive(
		WithDriveHTTPClient(srv.Client()),
		WithDriveBaseURL(srv.URL),
		WithDriveRetryPolicy(RetryPolicy{Attempts: 1}),
	)
}

func TestDriveFetchDirect(t *testing.T) {
	payload := []byte("small drive file")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/uc", r.URL.Path)
		require.Equal(t, "FILE1", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="notes.safetensors"`)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	res, err := newTestDrive(srv).Fetch(context.Background(), driveLink(srv.URL, dir, "FILE1"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), res.Bytes)
	// the disposition name replaces the placeholder
	assert.Equal(t, filepath.Join(dir, "notes.safetensors"), res.Path)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDriveFetchConfirmCookieFlow(t *testing.T) {
	payload := []byte("large drive file payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("confirm") == "" {
			http.SetCookie(w, &http.Cookie{Name: "download_warning_13058876669334088843_BIG1", Value: "tok42"})
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<html><body>Google Drive can't scan this file for viruses.</body></html>`)
			return
		}
		require.Equal(t, "tok42", r.URL.Query().Get("confirm"))
		if _, err := r.Cookie("download_warning_13058876669334088843_BIG1"); err != nil {
			t.Error("confirmation request should carry the warning cookie")
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	res, err := newTestDrive(srv).Fetch(context.Background(), driveLink(srv.URL, dir, "BIG1"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), res.Bytes)
	// no disposition header, the placeholder name stays
	assert.Equal(t, filepath.Join(dir, "gdrive_BIG1.bin"), res.Path)
}

func TestDriveFetchConfirmFormFlow(t *testing.T) {
	payload := []byte("form confirmed payload")
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/uc", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><form id="download-form" action="%s/download" method="get">
<input type="hidden" name="id" value="FORM1">
<input type="hidden" name="confirm" value="t">
<input type="hidden" name="uuid" value="u-123">
</form></body></html>`, srv.URL)
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "FORM1", r.URL.Query().Get("id"))
		require.Equal(t, "t", r.URL.Query().Get("confirm"))
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	})

	dir := t.TempDir()
	res, err := newTestDrive(srv).Fetch(context.Background(), driveLink(srv.URL, dir, "FORM1"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), res.Bytes)
}

func TestDriveQuotaAndPermissionWalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Query().Get("id") {
		case "QUOTA":
			fmt.Fprint(w, `<html><body>Sorry, you can't view or download this file at this time. Too many users have viewed or downloaded this file recently.</body></html>`)
		default:
			fmt.Fprint(w, `<html><body>You need permission to access this item.</body></html>`)
		}
	}))
	defer srv.Close()

	d := newTestDrive(srv)

	_, err := d.Fetch(context.Background(), driveLink(srv.URL, t.TempDir(), "QUOTA"))
	var ae *AuthError
	require.True(t, errors.As(err, &ae))

	_, err = d.Fetch(context.Background(), driveLink(srv.URL, t.TempDir(), "PRIVATE"))
	require.True(t, errors.As(err, &ae))
}

func TestDriveFolderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("folder links must fail before any request")
	}))
	defer srv.Close()

	l := driveLink(srv.URL, t.TempDir(), "X")
	l.URL = srv.URL + "/drive/folders/SOMEFOLDER"

	_, err := newTestDrive(srv).Fetch(context.Background(), l)
	var pe *link.ParseError
	require.True(t, errors.As(err, &pe))
}
