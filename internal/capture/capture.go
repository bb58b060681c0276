// Package capture runs the telemetry pipeline: it reads chunks from a byte
// source, extracts frames, decodes and calibrates each record and hands the
// result to the output sink, strictly in arrival order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/banshee-data/telemetry.capture/internal/analog"
	"github.com/banshee-data/telemetry.capture/internal/fault"
	"github.com/banshee-data/telemetry.capture/internal/frame"
	"github.com/banshee-data/telemetry.capture/internal/monitoring"
	"github.com/banshee-data/telemetry.capture/internal/record"
	"github.com/banshee-data/telemetry.capture/internal/serialport"
	"github.com/banshee-data/telemetry.capture/internal/sink"
	"github.com/banshee-data/telemetry.capture/internal/timeutil"
)

// Sink receives calibrated records. *sink.Rotator implements it.
type Sink interface {
	Write(c sink.Calibrated) error
	Close() error
}

// Options configures a Pipeline.
type Options struct {
	Variant     record.Variant
	Calibration analog.Calibration
	// Session tags every record written.
	Session string
	Clock   timeutil.Clock
	Metrics *monitoring.Metrics
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Session        string            `json:"session"`
	Variant        string            `json:"variant"`
	BytesRead      uint64            `json:"bytes_read"`
	Frames         uint64            `json:"frames"`
	Records        uint64            `json:"records"`
	Buffered       int64             `json:"buffered"`
	DiscardedBytes uint64            `json:"discarded_bytes"`
	Faults         map[string]uint64 `json:"faults"`
}

type counters struct {
	bytesRead atomic.Uint64
	frames    atomic.Uint64
	records   atomic.Uint64
	buffered  atomic.Int64
	discarded atomic.Uint64
	faults    [fault.SinkWriteError + 1]atomic.Uint64
}

// Pipeline owns the synchronizer and drives one source into one sink. Run
// must be called from a single goroutine; Stats may be called from any.
type Pipeline struct {
	src  serialport.Source
	out  Sink
	sync *frame.Synchronizer
	opts Options
	c    counters
}

// New builds a pipeline. The pipeline takes ownership of src and out and
// closes both when Run returns.
func New(src serialport.Source, out Sink, opts Options) (*Pipeline, error) {
	if opts.Variant == record.UnknownVariant {
		return nil, fmt.Errorf("capture: %w", record.ErrUnknownVariant)
	}
	if err := opts.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("capture: calibration: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NopMetrics()
	}
	return &Pipeline{
		src:  src,
		out:  out,
		sync: frame.NewSynchronizer(),
		opts: opts,
	}, nil
}

// Run reads until ctx is cancelled, the source is exhausted or a fatal
// fault occurs. Cancellation and end of input return nil; a fatal fault is
// returned as is. Any partially received frame is dropped. The sink and the
// source are closed before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	defer func() {
		if cerr := p.out.Close(); cerr != nil {
			monitoring.Logf("capture: closing sink: %v", cerr)
		}
		if cerr := p.src.Close(); cerr != nil {
			monitoring.Logf("capture: closing source: %v", cerr)
		}
		if n := p.sync.Buffered(); n > 0 {
			monitoring.Logger().Debug().Int("bytes", n).Msg("dropping partial frame")
		}
	}()

	for {
		chunk, err := p.src.ReadChunk(ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case errors.Is(err, io.EOF):
			monitoring.Logf("capture: end of input")
			return nil
		default:
			if fault.KindOf(err) == fault.Unknown {
				err = fault.New(fault.PortError, err)
			}
			p.report(ctx, err)
			return err
		}
		p.Process(ctx, chunk)
	}
}

// Process feeds one chunk and delivers every record it completes. Faults are
// reported and never stop processing.
func (p *Pipeline) Process(ctx context.Context, chunk []byte) {
	if len(chunk) > 0 {
		p.c.bytesRead.Add(uint64(len(chunk)))
		p.opts.Metrics.BytesRead.Add(ctx, int64(len(chunk)))
	}

	payloads, faults := p.sync.Feed(chunk)
	for _, f := range faults {
		p.report(ctx, f)
	}
	st := p.sync.Stats()
	p.c.buffered.Store(int64(p.sync.Buffered()))
	p.c.discarded.Store(st.DiscardedBytes)

	for _, payload := range payloads {
		p.c.frames.Add(1)
		p.opts.Metrics.Frames.Add(ctx, 1)
		p.opts.Metrics.PayloadSize.Record(ctx, int64(len(payload)))

		rec, err := record.Decode(payload, p.opts.Variant)
		if err != nil {
			p.report(ctx, err)
			continue
		}
		c := p.calibrate(rec)
		p.logRecord(c)
		if err := p.out.Write(c); err != nil {
			p.report(ctx, err)
			continue
		}
		p.c.records.Add(1)
		p.opts.Metrics.Records.Add(ctx, 1)
	}
}

func (p *Pipeline) calibrate(rec record.Record) sink.Calibrated {
	c := sink.Calibrated{
		Timestamp: p.opts.Clock.Now(),
		Session:   p.opts.Session,
		Record:    rec,
	}
	for _, ch := range rec.Channels() {
		c.Voltages = append(c.Voltages, analog.ConvertAll(ch, p.opts.Calibration))
	}
	for _, s := range rec.Scores() {
		c.Scores = append(c.Scores, analog.RoundScores(s))
	}
	return c
}

// logRecord prints a per-record summary at debug level.
func (p *Pipeline) logRecord(c sink.Calibrated) {
	l := monitoring.Logger()
	if l.GetLevel() > zerolog.DebugLevel {
		return
	}
	ev := l.Debug().Str("variant", c.Record.Variant.String())
	if s := c.Record.Single; s != nil {
		ev = ev.Bool("classification_active", s.ClassificationActive).Uint32("channel", s.Channel)
	}
	for i, mv := range c.Voltages {
		sum := analog.Summarize(mv)
		ev = ev.Dict(fmt.Sprintf("ch%d", i), zerolog.Dict().
			Int("samples", sum.Count).
			Float64("min_mv", sum.Min).
			Float64("max_mv", sum.Max).
			Float64("mean_mv", sum.Mean).
			Float64("stddev_mv", sum.StdDev).
			Floats64("classification", channelScores(c.Scores, i)))
	}
	ev.Msg("record")
}

func channelScores(scores [][]float64, i int) []float64 {
	if i < len(scores) {
		return scores[i]
	}
	return nil
}

// report logs and counts a fault.
func (p *Pipeline) report(ctx context.Context, err error) {
	kind := fault.KindOf(err)
	if int(kind) < len(p.c.faults) {
		p.c.faults[kind].Add(1)
	}
	p.opts.Metrics.RecordFault(ctx, kind.String())

	level := zerolog.WarnLevel
	if kind.Fatal() {
		level = zerolog.ErrorLevel
	}
	monitoring.Logger().WithLevel(level).Str("kind", kind.String()).Err(err).Msg("capture fault")
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Session:        p.opts.Session,
		Variant:        p.opts.Variant.String(),
		BytesRead:      p.c.bytesRead.Load(),
		Frames:         p.c.frames.Load(),
		Records:        p.c.records.Load(),
		Buffered:       p.c.buffered.Load(),
		DiscardedBytes: p.c.discarded.Load(),
		Faults:         make(map[string]uint64),
	}
	for k := range p.c.faults {
		if n := p.c.faults[k].Load(); n > 0 {
			s.Faults[fault.Kind(k).String()] = n
		}
	}
	return s
}
