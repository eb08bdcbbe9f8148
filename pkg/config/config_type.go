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

package config

// Config holds everything the engine reads at startup.
type Config struct {
	// Root is the deployment directory artifacts are placed under.
	Root string `yaml:"root"`

	// Workers bounds the download pool.
	Workers int `yaml:"workers"`

	// RetryAttempts is the number of tries per request.
	RetryAttempts int `yaml:"retryAttempts"`

	// RetryDelay is the initial backoff, e.g. "2s". It doubles per retry.
	RetryDelay string `yaml:"retryDelay"`

	// Connections bounds concurrent segments per file.
	Connections int `yaml:"connections"`

	// PerHostRate throttles requests per host, 0 means unlimited.
	PerHostRate float64 `yaml:"perHostRate"`

	// CivitaiToken authenticates marketplace downloads.
	CivitaiToken string `yaml:"civitaiToken"`

	// HFToken authenticates gated HuggingFace repositories.
	HFToken string `yaml:"hfToken"`

	// SkipNSFWPreviews drops adult preview images for restricted
	// environments. Artifact downloads are unaffected.
	SkipNSFWPreviews bool `yaml:"skipNsfwPreviews"`

	// Mirror enables the post-batch artifact push when set.
	Mirror *Mirror `yaml:"mirror,omitempty"`
}

// Mirror configures the optional post-batch artifact push to an S3
// compatible bucket. Credentials usually come from the environment
// rather than the file.
type Mirror struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Secure    bool   `yaml:"secure"`
	Prefix    string `yaml:"prefix"`
}

// Enabled reports whether a mirror endpoint is configured.
func (m *Mirror) Enabled() bool {
	return m != nil && m.Endpoint != ""
}
