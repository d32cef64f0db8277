// Package supconf holds the supplier's YAML-decodable configuration
// (SPEC_FULL.md §6), grounded on the teacher's
// internal/component/ratelimit/config.go default-then-decode pattern.
package supconf

import (
	"fmt"

	yaml "gopkg.in/yaml.v3"
)

// Config is the full set of user-configurable knobs.
type Config struct {
	RecordsPerFetch   int  `yaml:"records_per_fetch"`
	FetchDelayMs      int  `yaml:"fetch_delay_ms"`
	FetchThreads      int  `yaml:"fetch_threads"`
	DecoderEnabled    bool `yaml:"decoder_enabled"`
	BufferSize        int  `yaml:"buffer_size"`
	OfferTimeoutMs    int  `yaml:"offer_timeout_ms"`
	BufferFullWaitMs  int  `yaml:"buffer_full_wait_ms"`
	ProbeTimeoutMs    int  `yaml:"probe_timeout_ms"`
	MaxRecordsPerPoll int  `yaml:"max_records_per_poll"`
}

// NewConfig returns a Config populated with sensible, documented defaults.
func NewConfig() Config {
	return Config{
		RecordsPerFetch:   500,
		FetchDelayMs:      1000,
		FetchThreads:      4,
		DecoderEnabled:    false,
		BufferSize:        10000,
		OfferTimeoutMs:    5000,
		BufferFullWaitMs:  1000,
		ProbeTimeoutMs:    30000,
		MaxRecordsPerPoll: 500,
	}
}

// UnmarshalYAML decodes onto NewConfig's defaults, so a partial document
// only overrides the fields it mentions.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type confAlias Config
	aliased := confAlias(NewConfig())
	if err := value.Decode(&aliased); err != nil {
		return fmt.Errorf("supconf: decode: %w", err)
	}
	*c = Config(aliased)
	return c.Validate()
}

// Validate rejects configurations that would make the rest of the system
// misbehave silently (a zero buffer_size, for instance, panics deep inside
// internal/buffer rather than failing at the edge).
func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("supconf: buffer_size must be > 0")
	}
	if c.FetchThreads <= 0 {
		return fmt.Errorf("supconf: fetch_threads must be > 0")
	}
	if c.RecordsPerFetch <= 0 {
		return fmt.Errorf("supconf: records_per_fetch must be > 0")
	}
	if c.MaxRecordsPerPoll <= 0 {
		return fmt.Errorf("supconf: max_records_per_poll must be > 0")
	}
	return nil
}
