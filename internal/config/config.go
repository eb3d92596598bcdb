// Copyright 2025 Viewsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the viewsync YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from strings like "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Source configures the streaming SQL source session.
type Source struct {
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Cluster  string `yaml:"cluster"`
	TLS      bool   `yaml:"tls"`
}

// SinkConfig configures the destination cluster.
type SinkConfig struct {
	Type     string   `yaml:"type"`
	URLs     []string `yaml:"urls"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

// Admin configures the operational HTTP listener.
type Admin struct {
	Address string `yaml:"address"`
}

// SyncConfig binds one view to one destination index.
type SyncConfig struct {
	View        string            `yaml:"view"`
	Index       string            `yaml:"index"`
	IDColumn    string            `yaml:"id_column"`
	Consolidate bool              `yaml:"consolidate"`
	Schema      string            `yaml:"schema"`
	Drop        []string          `yaml:"drop"`
	Rename      map[string]string `yaml:"rename"`
}

// Tuning bundles the worker knobs shared by all syncs.
type Tuning struct {
	FetchSize      int      `yaml:"fetch_size"`
	PollTimeout    Duration `yaml:"poll_timeout"`
	BackoffInitial Duration `yaml:"backoff_initial"`
	BackoffMax     Duration `yaml:"backoff_max"`
	FlushRetries   int      `yaml:"flush_retries"`
	FlushBackoff   Duration `yaml:"flush_backoff"`
	HighWatermark  int      `yaml:"high_watermark"`
	LowWatermark   int      `yaml:"low_watermark"`
}

// Config is the root document.
type Config struct {
	Source Source       `yaml:"source"`
	Sink   SinkConfig   `yaml:"sink"`
	Admin  Admin        `yaml:"admin"`
	Syncs  []SyncConfig `yaml:"syncs"`
	Tuning Tuning       `yaml:"tuning"`
}

// Load reads, env-expands, parses and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a configuration document. `${VAR}` references are replaced
// from the environment before decoding; unknown fields are rejected.
func Parse(raw []byte) (*Config, error) {
	expanded := os.Expand(string(raw), func(name string) string {
		return os.Getenv(name)
	})

	conf := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(conf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	conf.applyDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.Source.Port == 0 {
		c.Source.Port = 6875
	}
	if c.Source.User == "" {
		c.Source.User = "materialize"
	}
	if c.Source.Database == "" {
		c.Source.Database = "materialize"
	}
	if c.Sink.Type == "" {
		c.Sink.Type = "elasticsearch"
	}
	if c.Admin.Address == "" {
		c.Admin.Address = ":9400"
	}
	for i := range c.Syncs {
		if c.Syncs[i].IDColumn == "" {
			c.Syncs[i].IDColumn = "id"
		}
	}
}

func (c *Config) validate() error {
	if c.Source.Host == "" {
		return fmt.Errorf("source.host is required")
	}
	switch c.Sink.Type {
	case "elasticsearch", "opensearch":
		if len(c.Sink.URLs) == 0 {
			return fmt.Errorf("sink.urls is required for sink type %q", c.Sink.Type)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown sink type %q", c.Sink.Type)
	}
	if len(c.Syncs) == 0 {
		return fmt.Errorf("at least one sync is required")
	}
	seen := map[string]struct{}{}
	for i, s := range c.Syncs {
		if s.View == "" {
			return fmt.Errorf("syncs[%d].view is required", i)
		}
		if s.Index == "" {
			return fmt.Errorf("syncs[%d].index is required", i)
		}
		if _, dup := seen[s.Index]; dup {
			return fmt.Errorf("syncs[%d]: index %q is bound twice; workers must not share an index", i, s.Index)
		}
		seen[s.Index] = struct{}{}
	}
	if c.Tuning.LowWatermark > c.Tuning.HighWatermark && c.Tuning.HighWatermark > 0 {
		return fmt.Errorf("tuning.low_watermark %d above tuning.high_watermark %d", c.Tuning.LowWatermark, c.Tuning.HighWatermark)
	}
	return nil
}
