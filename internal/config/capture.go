// Package config loads capture settings from a YAML, TOML or JSON file.
// Every field is optional: the Get* accessors supply defaults for anything
// the file leaves out, and command-line flags override file values.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/telemetry.capture/internal/analog"
	"github.com/banshee-data/telemetry.capture/internal/record"
	"github.com/banshee-data/telemetry.capture/internal/serialport"
	"github.com/banshee-data/telemetry.capture/internal/sink"
)

// Defaults for fields not set in the file or on the command line.
const (
	DefaultOutput      = "output.csv"
	DefaultVariant     = "single"
	DefaultFormat      = "csv"
	DefaultLogLevel    = "info"
	DefaultReplayDelay = 0
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// CaptureConfig is the root configuration. Durations are strings such as
// "1s" or "12h".
type CaptureConfig struct {
	// Byte source
	Port        *string                 `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	Serial      *serialport.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty" toml:"serial,omitempty"`
	ReadTimeout *string                 `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty" toml:"read_timeout,omitempty"`
	Replay      *string                 `json:"replay,omitempty" yaml:"replay,omitempty" toml:"replay,omitempty"`
	ReplayDelay *string                 `json:"replay_delay,omitempty" yaml:"replay_delay,omitempty" toml:"replay_delay,omitempty"`

	// Decoding
	Variant     *string             `json:"variant,omitempty" yaml:"variant,omitempty" toml:"variant,omitempty"`
	Calibration *analog.Calibration `json:"calibration,omitempty" yaml:"calibration,omitempty" toml:"calibration,omitempty"`

	// Output
	Format         *string `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty"`
	Output         *string `json:"output,omitempty" yaml:"output,omitempty" toml:"output,omitempty"`
	RotationPath   *string `json:"rotation_path,omitempty" yaml:"rotation_path,omitempty" toml:"rotation_path,omitempty"`
	RotationPeriod *string `json:"rotation_period,omitempty" yaml:"rotation_period,omitempty" toml:"rotation_period,omitempty"`
	NodeID         *string `json:"node_id,omitempty" yaml:"node_id,omitempty" toml:"node_id,omitempty"`

	// Observability
	LogLevel    *string `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	DebugListen *string `json:"debug_listen,omitempty" yaml:"debug_listen,omitempty" toml:"debug_listen,omitempty"`
}

// Load reads a config file, choosing the decoder from its extension
// (.yaml/.yml, .toml or .json). Unknown keys are rejected.
func Load(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(cleanPath))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cleanPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext (with or without the dot).
func Parse(data []byte, ext string) (*CaptureConfig, error) {
	cfg := &CaptureConfig{}
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case "toml":
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("decode toml: unknown keys %s", strings.Join(keys, ", "))
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q: expected .yaml, .toml or .json", ext)
	}
	return cfg, nil
}

// Validate checks that every set field is usable.
func (c *CaptureConfig) Validate() error {
	var errs []error

	if c.Variant != nil {
		if _, err := record.ParseVariant(*c.Variant); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Format != nil {
		if _, err := sink.ParseFormat(*c.Format); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range []struct {
		name string
		d    *string
	}{
		{"read_timeout", c.ReadTimeout},
		{"rotation_period", c.RotationPeriod},
		{"replay_delay", c.ReplayDelay},
	} {
		name, d := f.name, f.d
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s '%s': %w", name, *d, err))
		} else if v < 0 || (v == 0 && name != "replay_delay") {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, *d))
		}
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("serial: %w", err))
		}
	}
	if err := c.GetCalibration().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("calibration: %w", err))
	}
	if c.LogLevel != nil && *c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(*c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid log_level %q", *c.LogLevel))
		}
	}

	return errors.Join(errs...)
}

// ErrNoSource is returned by RequireSource when neither a port nor a replay
// file is configured.
var ErrNoSource = errors.New("a serial port or a replay file is required")

// RequireSource checks that a byte source is configured. It is separate
// from Validate because the port usually comes from the command line.
func (c *CaptureConfig) RequireSource() error {
	if c.GetPort() == "" && c.GetReplay() == "" {
		return ErrNoSource
	}
	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return def
	}
	return strings.TrimSpace(*p)
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPort returns the serial device path, or "".
func (c *CaptureConfig) GetPort() string { return stringOr(c.Port, "") }

// GetReplay returns the capture file to replay, or "".
func (c *CaptureConfig) GetReplay() string { return stringOr(c.Replay, "") }

// GetReplayDelay returns the spacing between replayed chunks.
func (c *CaptureConfig) GetReplayDelay() time.Duration {
	return durationOr(c.ReplayDelay, DefaultReplayDelay)
}

// GetSerial returns the normalized port options (115200 8N1 by default).
func (c *CaptureConfig) GetSerial() serialport.PortOptions {
	var opts serialport.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	if n, err := opts.Normalize(); err == nil {
		return n
	}
	return opts
}

// GetReadTimeout returns the per-read timeout.
func (c *CaptureConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, serialport.DefaultReadTimeout)
}

// GetVariant returns the configured record variant.
func (c *CaptureConfig) GetVariant() record.Variant {
	v, err := record.ParseVariant(stringOr(c.Variant, DefaultVariant))
	if err != nil {
		return record.SingleChannel
	}
	return v
}

// GetCalibration returns the converter parameters; fields left at zero take
// their defaults.
func (c *CaptureConfig) GetCalibration() analog.Calibration {
	cal := analog.DefaultCalibration()
	if c.Calibration == nil {
		return cal
	}
	if c.Calibration.DataBits != 0 {
		cal.DataBits = c.Calibration.DataBits
	}
	if c.Calibration.VRef != 0 {
		cal.VRef = c.Calibration.VRef
	}
	if c.Calibration.Gain != 0 {
		cal.Gain = c.Calibration.Gain
	}
	return cal
}

// GetFormat returns the output format.
func (c *CaptureConfig) GetFormat() sink.Format {
	f, err := sink.ParseFormat(stringOr(c.Format, DefaultFormat))
	if err != nil {
		return sink.CSV
	}
	return f
}

// GetOutput returns the fixed output file used when rotation is disabled.
func (c *CaptureConfig) GetOutput() string { return stringOr(c.Output, DefaultOutput) }

// GetRotationPath returns the rotation directory; "" disables rotation.
func (c *CaptureConfig) GetRotationPath() string { return stringOr(c.RotationPath, "") }

// GetRotationPeriod returns how long each rotated file stays open.
func (c *CaptureConfig) GetRotationPeriod() time.Duration {
	return durationOr(c.RotationPeriod, sink.DefaultRotationPeriod)
}

// GetNodeID returns the identifier used in rotated file names.
func (c *CaptureConfig) GetNodeID() string { return stringOr(c.NodeID, sink.DefaultIdentifier) }

// GetLogLevel returns the log level name.
func (c *CaptureConfig) GetLogLevel() string { return stringOr(c.LogLevel, DefaultLogLevel) }

// GetDebugListen returns the debug HTTP listen address; "" disables it.
func (c *CaptureConfig) GetDebugListen() string { return stringOr(c.DebugListen, "") }
