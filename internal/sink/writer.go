package sink

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/banshee-data/telemetry.capture/internal/fsutil"
	"github.com/banshee-data/telemetry.capture/internal/record"
)

// Writer appends records to one destination.
type Writer interface {
	// Write appends c. A returned error leaves the destination usable for
	// the next record.
	Write(c Calibrated) error
	// Close flushes pending data and releases the destination.
	Close() error
}

// OpenWriter opens path for appending in the given format. A header (CSV
// header row, empty JSON array, database schema) is written only when the
// destination does not exist yet.
func OpenWriter(fsys fsutil.FileSystem, path string, format Format, variant record.Variant) (Writer, error) {
	switch format {
	case CSV:
		return openCSV(fsys, path, variant)
	case JSON:
		return openJSON(fsys, path)
	case SQLite:
		return openSQLite(path)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

type csvWriter struct {
	f fsutil.File
	w *csv.Writer
}

func openCSV(fsys fsutil.FileSystem, path string, variant record.Variant) (*csvWriter, error) {
	fresh := !fsys.Exists(path)
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	cw := &csvWriter{f: f, w: csv.NewWriter(f)}
	if fresh {
		if err := cw.writeRow(header(variant)); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return cw, nil
}

func (c *csvWriter) writeRow(cells []string) error {
	err := c.w.Write(cells)
	if err == nil {
		c.w.Flush()
		err = c.w.Error()
	}
	if err != nil {
		// bufio errors are sticky
		c.w = csv.NewWriter(c.f)
	}
	return err
}

func (c *csvWriter) Write(rec Calibrated) error {
	cells, err := rec.row()
	if err != nil {
		return err
	}
	return c.writeRow(cells)
}

func (c *csvWriter) Close() error {
	c.w.Flush()
	flushErr := c.w.Error()
	syncErr := c.f.Sync()
	closeErr := c.f.Close()
	if flushErr != nil {
		return flushErr
	}
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
