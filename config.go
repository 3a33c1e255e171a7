package indexlake

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
)

// Default sizing for tables that don't override their config. The inline
// limit is deliberately small relative to a columnar row group: the inline
// tier is a write buffer, not a resting place.
const (
	DefaultInlineRowCountLimit = 1024
	DefaultDumpBatchRowCount   = 64 * 1024
)

// TableConfig is the per-table configuration persisted in the catalog's
// config_json column. Zero values are replaced by defaults at
// creation time, so a caller can set only what it cares about.
type TableConfig struct {
	// InlineRowCountLimit triggers a dump once a committed insert leaves
	// the inline tier strictly above it.
	InlineRowCountLimit int64 `json:"inline_row_count_limit" toml:"inline_row_count_limit"`

	// DumpBatchRowCount bounds how many inline rows one dump pass selects.
	DumpBatchRowCount int64 `json:"dump_batch_row_count" toml:"dump_batch_row_count"`
}

// DefaultTableConfig returns the engine's default per-table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		InlineRowCountLimit: DefaultInlineRowCountLimit,
		DumpBatchRowCount:   DefaultDumpBatchRowCount,
	}
}

// withDefaults fills zero fields in from the defaults.
func (c TableConfig) withDefaults() TableConfig {
	if c.InlineRowCountLimit <= 0 {
		c.InlineRowCountLimit = DefaultInlineRowCountLimit
	}
	if c.DumpBatchRowCount <= 0 {
		c.DumpBatchRowCount = DefaultDumpBatchRowCount
	}
	return c
}

func (c TableConfig) encode() (string, error) {
	buf, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("indexlake: encode table config: %w", err)
	}
	return string(buf), nil
}

func decodeTableConfig(raw string) (TableConfig, error) {
	var c TableConfig
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return TableConfig{}, fmt.Errorf("indexlake: decode table config: %w", err)
	}
	return c.withDefaults(), nil
}

// LoadTableConfig reads a TableConfig from a TOML file, for CLI-style
// embeddings that want operator-editable defaults. Library callers
// normally construct the struct directly.
func LoadTableConfig(path string) (TableConfig, error) {
	var c TableConfig
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return TableConfig{}, fmt.Errorf("indexlake: load table config %q: %w", path, err)
	}
	return c.withDefaults(), nil
}
