package datarecording

import "fmt"

// Backends a RecorderConfig can name.
const (
	BackendSQLite     = "sqlite"
	BackendClickHouse = "clickhouse"
)

// RecorderConfig selects and configures a recording backend.
type RecorderConfig struct {
	// Backend is BackendSQLite or BackendClickHouse. Empty means SQLite.
	Backend string

	// Path is the SQLite file name without the .sqlite3 suffix.
	Path string

	ClickHouse ClickHouseConfig
}

// NewDataRecorderWithConfig creates the recorder a config describes.
func NewDataRecorderWithConfig(cfg RecorderConfig) (DataRecorder, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return New(cfg.Path), nil
	case BackendClickHouse:
		return NewClickHouseRecorder(cfg.ClickHouse)
	default:
		return nil, fmt.Errorf("unknown recording backend %q", cfg.Backend)
	}
}
