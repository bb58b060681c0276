package sink

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/telemetry.capture/internal/fault"
	"github.com/banshee-data/telemetry.capture/internal/fsutil"
	"github.com/banshee-data/telemetry.capture/internal/monitoring"
	"github.com/banshee-data/telemetry.capture/internal/record"
	"github.com/banshee-data/telemetry.capture/internal/security"
	"github.com/banshee-data/telemetry.capture/internal/timeutil"
)

// DefaultRotationPeriod is how long one output file stays open.
const DefaultRotationPeriod = 12 * time.Hour

// DefaultIdentifier names rotated files when no node identifier is set.
const DefaultIdentifier = "node"

const fileTimeLayout = "2006-01-02_15:04:05"

// RotationState describes the currently open output file. A zero value
// means no file is open.
type RotationState struct {
	Path      string
	OpenedAt  time.Time
	ExpiresAt time.Time
}

// Open reports whether a file is currently open.
func (s RotationState) Open() bool { return s.Path != "" }

// Expired reports whether a new file must be opened before writing at now.
// A fixed-file state (zero ExpiresAt) never expires once open.
func (s RotationState) Expired(now time.Time) bool {
	if !s.Open() {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// FileName builds "{identifier}_{YYYY-MM-DD_HH:MM:SS:ffffff}.{ext}".
func FileName(identifier string, t time.Time, ext string) string {
	return fmt.Sprintf("%s_%s:%06d.%s", identifier, t.Format(fileTimeLayout), t.Nanosecond()/1000, ext)
}

// Options configures a Rotator.
type Options struct {
	// Dir enables rotation; files are created under it.
	Dir string
	// File is the fixed output path used when Dir is empty.
	File string
	// Identifier prefixes rotated file names.
	Identifier string

	// Format of every file. SQLite databases are always created on the
	// real filesystem; FS is used for CSV and JSON.
	Format  Format
	Variant record.Variant
	// Period between rotations. Zero selects DefaultRotationPeriod.
	Period time.Duration

	Clock timeutil.Clock
	FS    fsutil.FileSystem

	// OnOpen, if set, is called after each new file is opened.
	OnOpen func(RotationState)
}

// Rotator receives records in order and writes each to the file of the
// current rotation epoch. It is not safe for concurrent use.
type Rotator struct {
	opts   Options
	state  RotationState
	writer Writer
}

// New validates opts and applies defaults. No file is opened until the
// first record arrives.
func New(opts Options) (*Rotator, error) {
	if opts.Dir == "" && opts.File == "" {
		return nil, errors.New("sink: either a rotation directory or an output file is required")
	}
	if opts.Format == "" {
		opts.Format = CSV
	}
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	opts.Format = format
	if opts.Period <= 0 {
		opts.Period = DefaultRotationPeriod
	}
	opts.Identifier = security.SanitizeIdentifier(opts.Identifier, DefaultIdentifier)
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Dir != "" {
		if err := opts.FS.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create rotation directory %s: %w", opts.Dir, err)
		}
	}
	return &Rotator{opts: opts}, nil
}

// State returns the current rotation state.
func (r *Rotator) State() RotationState {
	return r.state
}

// Write appends c to the current file, first rotating if the epoch has
// expired. Every failure is a fault.SinkWriteError; the Rotator remains
// usable and the next record tries again.
func (r *Rotator) Write(c Calibrated) error {
	now := r.opts.Clock.Now()
	if r.writer == nil || r.state.Expired(now) {
		if err := r.rotate(now); err != nil {
			return fault.New(fault.SinkWriteError, err)
		}
	}
	if err := r.writer.Write(c); err != nil {
		return fault.New(fault.SinkWriteError, fmt.Errorf("write %s: %w", r.state.Path, err))
	}
	return nil
}

func (r *Rotator) rotate(now time.Time) error {
	if prev := r.state; prev.Open() {
		ev := monitoring.Logger().Info()
		if err := r.closeCurrent(); err != nil {
			ev = monitoring.Logger().Warn().Err(err)
		}
		ev.Str("path", prev.Path).
			Dur("open_for", r.opts.Clock.Since(prev.OpenedAt)).
			Msg("closed output file")
	}

	next := RotationState{OpenedAt: now}
	if r.opts.Dir != "" {
		next.Path = filepath.Join(r.opts.Dir, FileName(r.opts.Identifier, now, r.opts.Format.Ext()))
		next.ExpiresAt = now.Add(r.opts.Period)
	} else {
		next.Path = r.opts.File
	}

	w, err := OpenWriter(r.opts.FS, next.Path, r.opts.Format, r.opts.Variant)
	if err != nil {
		return fmt.Errorf("open %s: %w", next.Path, err)
	}
	r.writer = w
	r.state = next
	ev := monitoring.Logger().Info().
		Str("path", next.Path).
		Str("format", string(r.opts.Format))
	if !next.ExpiresAt.IsZero() {
		ev = ev.Dur("rotates_in", r.opts.Clock.Until(next.ExpiresAt))
	}
	ev.Msg("opened output file")
	if r.opts.OnOpen != nil {
		r.opts.OnOpen(next)
	}
	return nil
}

func (r *Rotator) closeCurrent() error {
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	r.state = RotationState{}
	return err
}

// Close flushes and closes the current file, if any.
func (r *Rotator) Close() error {
	return r.closeCurrent()
}
