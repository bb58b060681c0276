// Command capture reads framed telemetry from a serial link (or a replayed
// capture file), decodes and calibrates every record and writes it to a
// CSV, JSON or SQLite file, optionally rotating the file on a fixed period.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/telemetry.capture/internal/capture"
	"github.com/banshee-data/telemetry.capture/internal/config"
	"github.com/banshee-data/telemetry.capture/internal/fault"
	"github.com/banshee-data/telemetry.capture/internal/fsutil"
	"github.com/banshee-data/telemetry.capture/internal/monitoring"
	"github.com/banshee-data/telemetry.capture/internal/serialport"
	"github.com/banshee-data/telemetry.capture/internal/sink"
	"github.com/banshee-data/telemetry.capture/internal/version"
)

const shutdownTimeout = 5 * time.Second

// cliFlags holds the parsed command line. Only flags that were explicitly
// set override the config file.
type cliFlags struct {
	configPath     string
	port           string
	baud           int
	readTimeout    time.Duration
	replay         string
	replayDelay    time.Duration
	variant        string
	format         string
	output         string
	rotationPath   string
	rotationPeriod time.Duration
	nodeID         string
	logLevel       string
	debugListen    string
	showVersion    bool
}

func newFlagSet(name string, out io.Writer) (*flag.FlagSet, *cliFlags) {
	f := &cliFlags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&f.configPath, "config", "", "Config file (.yaml, .toml or .json)")
	fs.StringVar(&f.port, "port", "", "Serial port to read from")
	fs.IntVar(&f.baud, "baud", serialport.DefaultBaudRate, "Serial baud rate")
	fs.DurationVar(&f.readTimeout, "read-timeout", serialport.DefaultReadTimeout, "Maximum time a single read blocks")
	fs.StringVar(&f.replay, "replay", "", "Replay a raw capture file instead of reading a port")
	fs.DurationVar(&f.replayDelay, "replay-delay", 0, "Delay between replayed chunks")
	fs.StringVar(&f.variant, "variant", config.DefaultVariant, "Record layout: single or dual")
	fs.StringVar(&f.format, "format", config.DefaultFormat, "Output format: csv, json or sqlite")
	fs.StringVar(&f.output, "output", config.DefaultOutput, "Output file when rotation is disabled")
	fs.StringVar(&f.rotationPath, "rotation-path", "", "Directory for rotated output files (enables rotation)")
	fs.DurationVar(&f.rotationPeriod, "rotation-period", sink.DefaultRotationPeriod, "How long each rotated file stays open")
	fs.StringVar(&f.nodeID, "node-id", sink.DefaultIdentifier, "Identifier prefixed to rotated file names")
	fs.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug prints every record)")
	fs.StringVar(&f.debugListen, "debug-listen", "", "Listen address for /metrics and /debug/ (disabled when empty)")
	fs.BoolVar(&f.showVersion, "version", false, "Print the version and exit")
	return fs, f
}

// loadConfig parses args, loads the config file if one was named and
// applies the explicitly set flags on top of it.
func loadConfig(fs *flag.FlagSet, f *cliFlags, args []string) (*config.CaptureConfig, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := &config.CaptureConfig{}
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg, fs, f)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.RequireSource(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.CaptureConfig, fs *flag.FlagSet, f *cliFlags) {
	str := func(v string) *string { return &v }
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Port = str(f.port)
		case "baud":
			opts := serialport.PortOptions{}
			if cfg.Serial != nil {
				opts = *cfg.Serial
			}
			opts.BaudRate = f.baud
			cfg.Serial = &opts
		case "read-timeout":
			cfg.ReadTimeout = str(f.readTimeout.String())
		case "replay":
			cfg.Replay = str(f.replay)
		case "replay-delay":
			cfg.ReplayDelay = str(f.replayDelay.String())
		case "variant":
			cfg.Variant = str(f.variant)
		case "format":
			cfg.Format = str(f.format)
		case "output":
			cfg.Output = str(f.output)
		case "rotation-path":
			cfg.RotationPath = str(f.rotationPath)
		case "rotation-period":
			cfg.RotationPeriod = str(f.rotationPeriod.String())
		case "node-id":
			cfg.NodeID = str(f.nodeID)
		case "log-level":
			cfg.LogLevel = str(f.logLevel)
		case "debug-listen":
			cfg.DebugListen = str(f.debugListen)
		}
	})
}

// openSource opens the replay file when one is configured and the serial
// port otherwise.
func openSource(cfg *config.CaptureConfig, factory serialport.SerialPortFactory) (serialport.Source, error) {
	if path := cfg.GetReplay(); path != "" {
		src, err := serialport.OpenReplay(fsutil.OSFileSystem{}, path, serialport.WithInterval(cfg.GetReplayDelay()))
		if err != nil {
			return nil, err
		}
		monitoring.Logf("replaying %s", path)
		return src, nil
	}
	return serialport.Open(factory, cfg.GetPort(), cfg.GetSerial(), cfg.GetReadTimeout())
}

func newSink(ctx context.Context, cfg *config.CaptureConfig, metrics *monitoring.Metrics) (*sink.Rotator, error) {
	return sink.New(sink.Options{
		Dir:        cfg.GetRotationPath(),
		File:       cfg.GetOutput(),
		Identifier: cfg.GetNodeID(),
		Format:     cfg.GetFormat(),
		Variant:    cfg.GetVariant(),
		Period:     cfg.GetRotationPeriod(),
		OnOpen: func(sink.RotationState) {
			metrics.Rotations.Add(ctx, 1)
		},
	})
}

// run is main without the os.Exit so that it can be tested. It returns the
// process exit code.
func run(ctx context.Context, args []string, stderr io.Writer, factory serialport.SerialPortFactory) int {
	fs, f := newFlagSet("capture", stderr)
	cfg, err := loadConfig(fs, f, args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if f.showVersion {
		fmt.Fprintln(stderr, version.String())
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "capture: %v\n", err)
		return 1
	}

	if _, err := monitoring.InitLogger("capture", stderr, cfg.GetLogLevel()); err != nil {
		fmt.Fprintf(stderr, "capture: %v\n", err)
		return 1
	}
	session := uuid.NewString()
	log := monitoring.Logger().With().Str("session", session).Logger()
	log.Info().Str("version", version.String()).Str("variant", cfg.GetVariant().String()).
		Str("format", string(cfg.GetFormat())).Msg("starting capture")

	src, err := openSource(cfg, factory)
	if err != nil {
		log.Error().Err(err).Str("kind", fault.KindOf(err).String()).Msg("cannot open byte source")
		return 1
	}

	reg := prometheus.NewRegistry()
	shutdownMetrics, err := monitoring.InitProvider("telemetry-capture", version.Version, reg)
	if err != nil {
		src.Close()
		log.Error().Err(err).Msg("metrics provider")
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			log.Warn().Err(err).Msg("metrics shutdown")
		}
	}()
	metrics, err := monitoring.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		src.Close()
		log.Error().Err(err).Msg("metrics instruments")
		return 1
	}

	out, err := newSink(ctx, cfg, metrics)
	if err != nil {
		src.Close()
		log.Error().Err(err).Msg("cannot prepare output")
		return 1
	}

	pipeline, err := capture.New(src, out, capture.Options{
		Variant:     cfg.GetVariant(),
		Calibration: cfg.GetCalibration(),
		Session:     session,
		Metrics:     metrics,
	})
	if err != nil {
		src.Close()
		out.Close()
		log.Error().Err(err).Msg("cannot build pipeline")
		return 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// end of a replay stops the debug server too
		defer cancel()
		return pipeline.Run(gctx)
	})

	if addr := cfg.GetDebugListen(); addr != "" {
		mux := http.NewServeMux()
		monitoring.AttachDebugRoutes(mux, reg, func() any { return pipeline.Stats() })
		server := &http.Server{Addr: addr, Handler: mux}

		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("debug server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(sctx)
		})
	}

	err = g.Wait()
	st := pipeline.Stats()
	log.Info().Uint64("frames", st.Frames).Uint64("records", st.Records).
		Uint64("bytes", st.BytesRead).Interface("faults", st.Faults).Msg("capture stopped")
	if err != nil {
		log.Error().Err(err).Bool("fatal", fault.IsFatal(err)).Msg("capture failed")
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr, serialport.NewRealSerialPortFactory())
	stop()
	os.Exit(code)
}
