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

// Package config loads the engine configuration: defaults, then the
// YAML config file, then environment overrides. Command line flags sit
// on top of all three and are handled by the CLI.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"k8s.io/utils/env"
)

// Environment override keys.
const (
	EnvRoot            = "MODELFETCH_ROOT"
	EnvCivitaiToken    = "MODELFETCH_CIVITAI_TOKEN"
	EnvHFToken         = "MODELFETCH_HF_TOKEN"
	EnvMirrorAccessKey = "MODELFETCH_MIRROR_ACCESS_KEY"
	EnvMirrorSecretKey = "MODELFETCH_MIRROR_SECRET_KEY"
)

func Default() *Config {
	return &Config{
		Root:          defaultRoot(),
		Workers:       3,
		RetryAttempts: 3,
		RetryDelay:    "2s",
		Connections:   4,
	}
}

func defaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "stable-diffusion-webui"
	}
	return filepath.Join(home, "stable-diffusion-webui")
}

// DefaultPath returns the default config file location, empty when the
// home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".modelfetch", "config.yaml")
}

// Load builds the effective configuration. An explicit path must
// exist; a missing file at the default path just means defaults plus
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, errors.Wrapf(err, "parsing config %s", path)
			}
		case os.IsNotExist(err) && !explicit:
		default:
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Root = env.GetString(EnvRoot, c.Root)
	c.CivitaiToken = env.GetString(EnvCivitaiToken, c.CivitaiToken)
	c.HFToken = env.GetString(EnvHFToken, c.HFToken)
	if c.Mirror != nil {
		c.Mirror.AccessKey = env.GetString(EnvMirrorAccessKey, c.Mirror.AccessKey)
		c.Mirror.SecretKey = env.GetString(EnvMirrorSecretKey, c.Mirror.SecretKey)
	}
}

func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("root directory must be set")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.RetryAttempts < 0 {
		return errors.New("retryAttempts must not be negative")
	}
	if c.RetryDelay != "" {
		if _, err := time.ParseDuration(c.RetryDelay); err != nil {
			return errors.Wrap(err, "parsing retryDelay")
		}
	}
	if c.Connections < 1 {
		return errors.New("connections must be at least 1")
	}
	if c.PerHostRate < 0 {
		return errors.New("perHostRate must not be negative")
	}
	if c.Mirror.Enabled() && c.Mirror.Bucket == "" {
		return errors.New("mirror.bucket must be set when mirror.endpoint is")
	}
	return nil
}

// RetryDelayDuration returns the parsed backoff. Validate catches
// unparsable values; they fall back to zero here.
func (c *Config) RetryDelayDuration() time.Duration {
	if c.RetryDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(c.RetryDelay)
	if err != nil {
		return 0
	}
	return d
}
