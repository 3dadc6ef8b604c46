// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config holds the settings of an archive: which backend stores
// snapshots and versions, how failed saves are retried and how verbose
// logging is.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository backend types.
const (
	TypeGit    = "git"
	TypeMongo  = "mongo"
	TypeBadger = "badger"
)

const (
	DefaultLogLevel = "info"
	DefaultPoolSize = 4
)

var (
	ErrUnknownRepositoryType = errors.New("unknown repository type")
	ErrInvalidConfig         = errors.New("invalid config")
)

// DefaultRetryDelays are the waits between attempts of a failed save.
var DefaultRetryDelays = []time.Duration{5 * time.Second, 20 * time.Second, 60 * time.Second}

// RepositoryConfig selects and configures the backend of one dataset.
type RepositoryConfig struct {
	// Type is one of "git", "mongo" or "badger".
	Type string `json:"type" mapstructure:"type"`

	// Path is the on-disk location for git and badger. Empty keeps data in memory.
	Path string `json:"path,omitempty" mapstructure:"path"`

	// URI, Database and Collection address a MongoDB collection.
	URI        string `json:"uri,omitempty"        mapstructure:"uri"`
	Database   string `json:"database,omitempty"   mapstructure:"database"`
	Collection string `json:"collection,omitempty" mapstructure:"collection"`
	BatchSize  int    `json:"batch_size,omitempty" mapstructure:"batch_size"`

	// AuthorName and AuthorEmail sign git commits.
	AuthorName    string `json:"author_name,omitempty"    mapstructure:"author_name"`
	AuthorEmail   string `json:"author_email,omitempty"   mapstructure:"author_email"`
	DefaultBranch string `json:"default_branch,omitempty" mapstructure:"default_branch"`
}

// Config holds the settings of an archive.
type Config struct {
	Snapshots RepositoryConfig `json:"snapshots" mapstructure:"snapshots"`
	Versions  RepositoryConfig `json:"versions"  mapstructure:"versions"`

	// LogLevel is one of debug, info, warn or error.
	// Default: info
	LogLevel string `json:"log_level" mapstructure:"log_level"`

	// RetryDelays are the waits between attempts of a failed save. An empty
	// list disables retries.
	// Default: 5s, 20s, 60s
	RetryDelays []time.Duration `json:"retry_delays" mapstructure:"retry_delays"`

	// PoolSize is the number of concurrent recording workers.
	// Default: 4
	PoolSize int `json:"pool_size" mapstructure:"pool_size"`
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithSnapshots sets the snapshot repository settings.
func WithSnapshots(repo RepositoryConfig) ConfigOption {
	return func(c *Config) {
		c.Snapshots = repo
	}
}

// WithVersions sets the version repository settings.
func WithVersions(repo RepositoryConfig) ConfigOption {
	return func(c *Config) {
		c.Versions = repo
	}
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}

// WithRetryDelays sets the waits between save attempts.
func WithRetryDelays(delays ...time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetryDelays = delays
	}
}

// WithPoolSize sets the number of recording workers.
func WithPoolSize(size int) ConfigOption {
	return func(c *Config) {
		c.PoolSize = size
	}
}

// DefaultConfig returns a Config storing both datasets as git repositories
// under ./data.
func DefaultConfig() *Config {
	return &Config{
		Snapshots:   RepositoryConfig{Type: TypeGit, Path: "data/snapshots"},
		Versions:    RepositoryConfig{Type: TypeGit, Path: "data/versions"},
		LogLevel:    DefaultLogLevel,
		RetryDelays: append([]time.Duration(nil), DefaultRetryDelays...),
		PoolSize:    DefaultPoolSize,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithVersions(RepositoryConfig{Type: TypeBadger, Path: "data/versions"}),
//	    WithLogLevel("debug"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize lowercases enumerated values and trims whitespace.
func (c *Config) Normalize() {
	c.Snapshots.normalize()
	c.Versions.normalize()
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

func (r *RepositoryConfig) normalize() {
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	r.Path = strings.TrimSpace(r.Path)
	r.URI = strings.TrimSpace(r.URI)
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration first.
func (c *Config) Validate() error {
	c.Normalize()

	if err := c.Snapshots.Validate(); err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}
	if err := c.Versions.Validate(); err != nil {
		return fmt.Errorf("versions: %w", err)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	for _, d := range c.RetryDelays {
		if d < 0 {
			return fmt.Errorf("%w: negative retry delay %s", ErrInvalidConfig, d)
		}
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("%w: pool_size must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Validate checks the settings required by the selected backend.
func (r *RepositoryConfig) Validate() error {
	r.normalize()

	switch r.Type {
	case TypeGit, TypeBadger:
		return nil
	case TypeMongo:
		if r.URI == "" {
			return fmt.Errorf("%w: mongo uri is required", ErrInvalidConfig)
		}
		if r.Database == "" {
			return fmt.Errorf("%w: mongo database is required", ErrInvalidConfig)
		}
		if r.BatchSize < 0 {
			return fmt.Errorf("%w: batch_size must not be negative", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRepositoryType, r.Type)
	}
}
