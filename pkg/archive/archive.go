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

// Package archive unpacks downloaded .zip and .tar.gz artifacts in
// place. Extraction is strict: an entry that would land outside the
// destination fails the whole archive, and the source file is only
// removed after everything extracted cleanly.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ArchiveError reports a failed extraction. Entry names the offending
// member when the failure is specific to one.
type ArchiveError struct {
	Path  string
	Entry string
	Err   error
}

func (e *ArchiveError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("extracting %s from %s: %v", e.Entry, e.Path, e.Err)
	}
	return fmt.Sprintf("extracting %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// IsArchive reports whether path names a supported archive format.
func IsArchive(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".zip") ||
		strings.HasSuffix(lower, ".tar.gz") ||
		strings.HasSuffix(lower, ".tgz")
}

// Extract unpacks src into destDir.
func Extract(src, destDir string) error {
	klog.V(4).Infof("extracting %s into %s", src, destDir)
	lower := strings.ToLower(src)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(src, destDir)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return extractTarGz(src, destDir)
	default:
		return &ArchiveError{Path: src, Err: errors.New("unsupported archive format")}
	}
}

// ExtractAndRemove unpacks src into destDir and deletes the archive.
// A failed extraction keeps the archive on disk.
func ExtractAndRemove(src, destDir string) error {
	if err := Extract(src, destDir); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		klog.Warningf("extracted %s but could not remove it: %s", src, err)
	}
	return nil
}

// safeJoin joins an entry name onto destDir and rejects names that
// escape it.
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if destDir != "." && !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", errors.New("entry escapes destination")
	}
	return target, nil
}

func extractZip(src, destDir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return &ArchiveError{Path: src, Err: err}
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return &ArchiveError{Path: src, Err: err}
	}
	for _, f := range r.File {
		if err := writeZipEntry(f, src, destDir); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, src, destDir string) error {
	target, err := safeJoin(destDir, f.Name)
	if err != nil {
		return &ArchiveError{Path: src, Entry: f.Name, Err: err}
	}
	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, f.Mode()); err != nil {
			return &ArchiveError{Path: src, Entry: f.Name, Err: err}
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return &ArchiveError{Path: src, Entry: f.Name, Err: err}
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return &ArchiveError{Path: src, Entry: f.Name, Err: err}
	}
	rc, err := f.Open()
	if err != nil {
		out.Close()
		return &ArchiveError{Path: src, Entry: f.Name, Err: err}
	}
	_, err = io.Copy(out, rc)
	rc.Close()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &ArchiveError{Path: src, Entry: f.Name, Err: err}
	}
	return nil
}

func extractTarGz(src, destDir string) error {
	file, err := os.Open(src)
	if err != nil {
		return &ArchiveError{Path: src, Err: err}
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return &ArchiveError{Path: src, Err: err}
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return &ArchiveError{Path: src, Err: err}
	}

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ArchiveError{Path: src, Err: err}
		}
		if err := writeTarEntry(tr, header, src, destDir); err != nil {
			return err
		}
	}
}

func writeTarEntry(tr *tar.Reader, header *tar.Header, src, destDir string) error {
	target, err := safeJoin(destDir, header.Name)
	if err != nil {
		return &ArchiveError{Path: src, Entry: header.Name, Err: err}
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
			return &ArchiveError{Path: src, Entry: header.Name, Err: err}
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return &ArchiveError{Path: src, Entry: header.Name, Err: err}
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(header.Mode))
		if err != nil {
			return &ArchiveError{Path: src, Entry: header.Name, Err: err}
		}
		_, err = io.Copy(out, tr)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return &ArchiveError{Path: src, Entry: header.Name, Err: err}
		}
	case tar.TypeSymlink, tar.TypeLink:
		// links out of an artifact archive are never needed and are a
		// traversal hazard
		klog.Warningf("skipping link entry %s in %s", header.Name, src)
	default:
		klog.V(4).Infof("skipping tar entry %s (type %c) in %s", header.Name, header.Typeflag, src)
	}
	return nil
}
