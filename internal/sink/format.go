// Package sink writes calibrated records to disk. A Rotator owns the current
// output file and its expiry and starts a new file every rotation period;
// the per-format writers below it handle the on-disk layout.
package sink

import (
	"fmt"
	"strings"
)

// Format selects the on-disk layout.
type Format string

const (
	// CSV writes one header row per file and one row per record.
	CSV Format = "csv"
	// JSON writes a single JSON array per file, one element per record.
	JSON Format = "json"
	// SQLite writes one row per record into a database per rotation epoch.
	SQLite Format = "sqlite"
)

// ParseFormat accepts a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, JSON, SQLite:
		return f, nil
	case "db", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unknown output format %q: expected csv, json or sqlite", s)
	}
}

// Ext is the file extension used for rotated files.
func (f Format) Ext() string {
	if f == SQLite {
		return "db"
	}
	return string(f)
}
