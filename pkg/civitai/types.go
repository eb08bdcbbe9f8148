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
	"fmt"
	"strings"
)

// ModelRef is the parent model a version belongs to.
type ModelRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
	NSFW bool   `json:"nsfw"`
}

// FileHashes carries the digests the marketplace publishes per file.
// Only SHA256 is used for verification.
type FileHashes struct {
	SHA256 string `json:"SHA256"`
	AutoV2 string `json:"AutoV2"`
}

// ModelFile is one downloadable file of a version.
type ModelFile struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	SizeKB      float64    `json:"sizeKB"`
	Type        string     `json:"type"`
	Primary     bool       `json:"primary"`
	Hashes      FileHashes `json:"hashes"`
	DownloadURL string     `json:"downloadUrl"`
}

// ModelImage is a gallery image attached to a version, a preview
// candidate.
type ModelImage struct {
	URL       string `json:"url"`
	NSFWLevel int    `json:"nsfwLevel"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Type      string `json:"type"`
}

// ModelVersion is the /model-versions/<id> response, reduced to the
// fields the download pipeline consumes.
type ModelVersion struct {
	ID                int64        `json:"id"`
	ModelID           int64        `json:"modelId"`
	Name              string       `json:"name"`
	BaseModel         string       `json:"baseModel"`
	TrainedWords      []string     `json:"trainedWords"`
	Availability      string       `json:"availability"`
	EarlyAccessEndsAt string       `json:"earlyAccessEndsAt"`
	DownloadURL       string       `json:"downloadUrl"`
	Model             ModelRef     `json:"model"`
	Files             []ModelFile  `json:"files"`
	Images            []ModelImage `json:"images"`
}

// modelPage is the /models/<id> response, only deep enough to find the
// default version.
type modelPage struct {
	ID            int64 `json:"id"`
	ModelVersions []struct {
		ID int64 `json:"id"`
	} `json:"modelVersions"`
}

// EarlyAccess reports whether the version is still gated behind the
// paid early access window.
func (v *ModelVersion) EarlyAccess() bool {
	return v.Availability == "EarlyAccess" || v.EarlyAccessEndsAt != ""
}

// PrimaryFile returns the file flagged primary, falling back to the
// first entry. Nil when the version has none.
func (v *ModelVersion) PrimaryFile() *ModelFile {
	for i := range v.Files {
		if v.Files[i].Primary {
			return &v.Files[i]
		}
	}
	if len(v.Files) == 0 {
		return nil
	}
	return &v.Files[0]
}

// SHA256 returns the declared digest of the primary file, empty when
// the marketplace published none.
func (v *ModelVersion) SHA256() string {
	if f := v.PrimaryFile(); f != nil {
		return f.Hashes.SHA256
	}
	return ""
}

// PageURL is the human-facing page pinned to this exact version.
func (v *ModelVersion) PageURL() string {
	return fmt.Sprintf("https://civitai.com/models/%d?modelVersionId=%d", v.ModelID, v.ID)
}

// baseModelVersions maps marketplace base model labels onto the coarse
// generation tag stored in sidecar metadata. Order matters: labels are
// matched by substring, "SD 1" covers "SD 1.5".
var baseModelVersions = []struct {
	label   string
	version string
}{
	{"SD 1", "SD1"},
	{"SD 2", "SD2"},
	{"SD 3", "SD3"},
	{"SDXL", "SDXL"},
	{"Pony", "SDXL"},
	{"Illustrious", "SDXL"},
}

// SDVersion returns the generation tag for the version's base model,
// empty for unknown families.
func (v *ModelVersion) SDVersion() string {
	for _, m := range baseModelVersions {
		if strings.Contains(v.BaseModel, m.label) {
			return m.version
		}
	}
	return ""
}
