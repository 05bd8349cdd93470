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


package importer

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tuning knobs of an import job.
type Config struct {
	// BatchSize is the number of messages a worker accumulates before it commits.
	// Default: 30
	BatchSize int

	// MaxWorkers bounds the number of workers the pool may grow to.
	// Default: 5
	MaxWorkers int

	// BatchTimeout is how long a batch may stay open after Begin before it is
	// committed regardless of its size. Zero disables the timer.
	// Default: 5s
	BatchTimeout time.Duration

	// MailboxSize is the capacity of each worker's input channel. A full
	// mailbox blocks the dispatcher.
	// Default: 2 * BatchSize
	MailboxSize int

	// ShutdownTimeout bounds how long the dispatcher waits for workers to
	// acknowledge their poison pill. Zero waits forever.
	// Default: 2m
	ShutdownTimeout time.Duration

	// MaxRate limits dispatched messages per second. Zero means unlimited.
	MaxRate float64

	// FlushContainers sends container nodes as force-batch messages so that
	// folders are committed before their content piles up behind them.
	// Default: true
	FlushContainers bool

	// UpdateExisting rewrites documents whose target path already exists.
	// When false such documents are left untouched and reported as skipped.
	// Default: true
	UpdateExisting bool
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithBatchSize sets the batch size. The mailbox size follows unless it was set explicitly.
func WithBatchSize(size int) ConfigOption {
	return func(c *Config) {
		if c.MailboxSize == 2*c.BatchSize {
			c.MailboxSize = 2 * size
		}
		c.BatchSize = size
	}
}

// WithMaxWorkers sets the upper bound of the worker pool.
func WithMaxWorkers(n int) ConfigOption {
	return func(c *Config) {
		c.MaxWorkers = n
	}
}

// WithBatchTimeout sets the batch timeout.
func WithBatchTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.BatchTimeout = d
	}
}

// WithMailboxSize sets the capacity of each worker mailbox.
func WithMailboxSize(n int) ConfigOption {
	return func(c *Config) {
		c.MailboxSize = n
	}
}

// WithShutdownTimeout sets how long shutdown waits for workers.
func WithShutdownTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

// WithMaxRate sets the dispatch rate limit in messages per second.
func WithMaxRate(perSecond float64) ConfigOption {
	return func(c *Config) {
		c.MaxRate = perSecond
	}
}

// WithFlushContainers controls whether containers force a batch flush.
func WithFlushContainers(flush bool) ConfigOption {
	return func(c *Config) {
		c.FlushContainers = flush
	}
}

// WithUpdateExisting controls whether existing documents are updated or skipped.
func WithUpdateExisting(update bool) ConfigOption {
	return func(c *Config) {
		c.UpdateExisting = update
	}
}

// DefaultConfig returns a Config with the default tuning.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:       30,
		MaxWorkers:      5,
		BatchTimeout:    5 * time.Second,
		MailboxSize:     60,
		ShutdownTimeout: 2 * time.Minute,
		FlushContainers: true,
		UpdateExisting:  true,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//   cfg := NewConfig(
//       WithBatchSize(100),
//       WithMaxWorkers(8),
//   )
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: BatchSize must be at least 1", ErrInvalidConfig)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("%w: MaxWorkers must be at least 1", ErrInvalidConfig)
	}
	if c.BatchTimeout < 0 {
		return fmt.Errorf("%w: BatchTimeout must not be negative", ErrInvalidConfig)
	}
	if c.MailboxSize < 0 {
		return fmt.Errorf("%w: MailboxSize must not be negative", ErrInvalidConfig)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: ShutdownTimeout must not be negative", ErrInvalidConfig)
	}
	if c.MaxRate < 0 {
		return fmt.Errorf("%w: MaxRate must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Duration is a time.Duration that parses from YAML strings like "500ms"
// or plain numbers, which are read as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

// fileConfig is the on-disk shape of Config.
type fileConfig struct {
	BatchSize       int      `yaml:"batch_size"`
	MaxWorkers      int      `yaml:"max_workers"`
	BatchTimeout    Duration `yaml:"batch_timeout"`
	MailboxSize     int      `yaml:"mailbox_size"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxRate         float64  `yaml:"max_rate"`
	FlushContainers bool     `yaml:"flush_containers"`
	UpdateExisting  bool     `yaml:"update_existing"`
}

// LoadConfigFile reads a YAML config file. Keys missing from the file keep
// their default values.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	return ParseConfig(b)
}

// ParseConfig parses YAML config data on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	def := DefaultConfig()
	fc := fileConfig{
		BatchSize:       def.BatchSize,
		MaxWorkers:      def.MaxWorkers,
		BatchTimeout:    Duration(def.BatchTimeout),
		ShutdownTimeout: Duration(def.ShutdownTimeout),
		MaxRate:         def.MaxRate,
		FlushContainers: def.FlushContainers,
		UpdateExisting:  def.UpdateExisting,
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := &Config{
		BatchSize:       fc.BatchSize,
		MaxWorkers:      fc.MaxWorkers,
		BatchTimeout:    time.Duration(fc.BatchTimeout),
		MailboxSize:     fc.MailboxSize,
		ShutdownTimeout: time.Duration(fc.ShutdownTimeout),
		MaxRate:         fc.MaxRate,
		FlushContainers: fc.FlushContainers,
		UpdateExisting:  fc.UpdateExisting,
	}
	if cfg.MailboxSize == 0 {
		cfg.MailboxSize = 2 * cfg.BatchSize
	}
	return cfg, cfg.Validate()
}
