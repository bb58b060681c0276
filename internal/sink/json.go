package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/telemetry.capture/internal/fsutil"
)

// ErrNotJSONArray is returned when an existing document file does not hold a
// JSON array.
var ErrNotJSONArray = errors.New("existing file is not a JSON array")

const emptyDocument = "[\n]\n"

// jsonWriter keeps the file a valid JSON array after every record. Each
// element is inserted in place of the closing bracket, so a write costs the
// size of the element rather than the size of the file.
type jsonWriter struct {
	f fsutil.File
	// at is the offset where the next element (with its separator) goes.
	at    int64
	empty bool
}

func openJSON(fsys fsutil.FileSystem, path string) (*jsonWriter, error) {
	var existing []byte
	if fsys.Exists(path) {
		var err error
		if existing, err = fsys.ReadFile(path); err != nil {
			return nil, err
		}
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(existing)) == 0 {
		if _, err := f.Write([]byte(emptyDocument)); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		existing = []byte(emptyDocument)
	}

	at, empty, err := insertionPoint(existing)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &jsonWriter{f: f, at: at, empty: empty}, nil
}

// insertionPoint finds where the next element belongs in doc: just before
// the closing bracket, or before the newline that precedes it.
func insertionPoint(doc []byte) (at int64, empty bool, err error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' || !json.Valid(trimmed) {
		return 0, false, ErrNotJSONArray
	}
	closing := bytes.LastIndexByte(doc, ']')
	inner := bytes.TrimSpace(doc[bytes.IndexByte(doc, '[')+1 : closing])
	empty = len(inner) == 0

	at = int64(closing)
	if closing > 0 && doc[closing-1] == '\n' {
		at--
	}
	return at, empty, nil
}

func (j *jsonWriter) Write(rec Calibrated) error {
	elem, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	sep := ",\n"
	if j.empty {
		sep = "\n"
	}

	var buf bytes.Buffer
	buf.Grow(len(sep) + len(elem) + 3)
	buf.WriteString(sep)
	buf.Write(elem)
	buf.WriteString("\n]\n")

	if _, err := j.f.Seek(j.at, io.SeekStart); err != nil {
		return err
	}
	if _, err := j.f.Write(buf.Bytes()); err != nil {
		return err
	}
	j.at += int64(len(sep) + len(elem))
	j.empty = false
	return nil
}

func (j *jsonWriter) Close() error {
	syncErr := j.f.Sync()
	if err := j.f.Close(); err != nil {
		return err
	}
	return syncErr
}
