package capture

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/telemetry.capture/internal/analog"
	"github.com/banshee-data/telemetry.capture/internal/fault"
	"github.com/banshee-data/telemetry.capture/internal/frame"
	"github.com/banshee-data/telemetry.capture/internal/fsutil"
	"github.com/banshee-data/telemetry.capture/internal/monitoring"
	"github.com/banshee-data/telemetry.capture/internal/record"
	"github.com/banshee-data/telemetry.capture/internal/serialport"
	"github.com/banshee-data/telemetry.capture/internal/sink"
	"github.com/banshee-data/telemetry.capture/internal/timeutil"
)

func init() {
	if _, err := monitoring.InitLogger("capture-test", os.Stderr, "error"); err != nil {
		panic(err)
	}
	monitoring.SetLogger(nil)
}

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// recordingSink keeps every record in memory.
type recordingSink struct {
	records []sink.Calibrated
	failAt  map[int]error
	writes  int
	closed  bool
}

func (s *recordingSink) Write(c sink.Calibrated) error {
	s.writes++
	if err, ok := s.failAt[s.writes]; ok {
		return fault.New(fault.SinkWriteError, err)
	}
	s.records = append(s.records, c)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

// endToEndFrame is marker, length 30, and the dual-channel payload holding
// one (0,0,0) sample and one 1.5 score per channel.
var endToEndFrame = []byte{
	0xAA, 0xAA, 0x1E, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0xC0, 0x3F,
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0xC0, 0x3F,
}

func newPipeline(t *testing.T, port *serialport.TestableSerialPort, out Sink, variant record.Variant) *Pipeline {
	t.Helper()
	src, err := serialport.NewPortSource(port, "test", time.Millisecond)
	require.NoError(t, err)
	p, err := New(src, out, Options{
		Variant:     variant,
		Calibration: analog.DefaultCalibration(),
		Session:     "session-1",
		Clock:       timeutil.NewMockClock(start),
	})
	require.NoError(t, err)
	return p
}

func dualFrame(t *testing.T, samples ...record.RawSample) []byte {
	t.Helper()
	payload := record.Encode(record.Record{Variant: record.DualChannel, Dual: &record.Dual{
		InputsCh0:         samples,
		InputsCh1:         samples,
		ClassificationCh0: []float32{0.1234},
		ClassificationCh1: []float32{2},
	}})
	wire, err := frame.Encode(payload)
	require.NoError(t, err)
	return wire
}

func TestRun_EndToEndDualFrame(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	port.EOFWhenEmpty = true
	port.AddReadData(endToEndFrame)
	out := &recordingSink{}

	p := newPipeline(t, port, out, record.DualChannel)
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, out.records, 1)
	got := out.records[0]
	assert.Equal(t, []record.RawSample{{0, 0, 0}}, got.Record.Dual.InputsCh0)
	assert.Equal(t, []float32{1.5}, got.Record.Dual.ClassificationCh0)
	assert.Equal(t, [][]float64{{-625.0}, {-625.0}}, got.Voltages)
	assert.Equal(t, [][]float64{{1.5}, {1.5}}, got.Scores)
	assert.Equal(t, start, got.Timestamp)
	assert.Equal(t, "session-1", got.Session)

	assert.True(t, out.closed, "sink closed on exit")
	assert.True(t, port.IsClosed(), "source closed on exit")

	st := p.Stats()
	assert.Equal(t, uint64(len(endToEndFrame)), st.BytesRead)
	assert.Equal(t, uint64(1), st.Frames)
	assert.Equal(t, uint64(1), st.Records)
	assert.Empty(t, st.Faults)
}

func TestRun_PreservesOrderAcrossArbitraryChunks(t *testing.T) {
	var stream []byte
	var want [][]record.RawSample
	for i := 0; i < 20; i++ {
		s := []record.RawSample{{byte(i), 0xAA, 0xAA}, {0xAA, byte(i), 0}}
		want = append(want, s)
		stream = append(stream, dualFrame(t, s...)...)
		if i%3 == 0 {
			stream = append(stream, 0x00, 0xAA, 0x13) // inter-frame noise
		}
	}

	port := serialport.NewTestableSerialPort()
	port.EOFWhenEmpty = true
	for i, size := 0, 1; i < len(stream); size = size%17 + 1 {
		end := min(i+size, len(stream))
		port.AddChunks(stream[i:end])
		i = end
	}
	out := &recordingSink{}

	require.NoError(t, newPipeline(t, port, out, record.DualChannel).Run(context.Background()))

	require.Len(t, out.records, len(want))
	for i, rec := range out.records {
		if diff := cmp.Diff(want[i], rec.Record.Dual.InputsCh0); diff != "" {
			t.Fatalf("record %d out of order (-want +got):\n%s", i, diff)
		}
	}
}

func TestProcess_DecodeErrorIsRecoverable(t *testing.T) {
	out := &recordingSink{}
	p := newPipeline(t, serialport.NewTestableSerialPort(), out, record.DualChannel)

	// valid frame whose payload is not a dual-channel record
	garbage := make([]byte, 40)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	bad, err := frame.Encode(garbage)
	require.NoError(t, err)

	ctx := context.Background()
	p.Process(ctx, bad)
	p.Process(ctx, endToEndFrame)

	require.Len(t, out.records, 1)
	st := p.Stats()
	assert.Equal(t, uint64(2), st.Frames)
	assert.Equal(t, uint64(1), st.Records)
	assert.Equal(t, map[string]uint64{"decode_error": 1}, st.Faults)
}

func TestProcess_SyncFaultsAreCounted(t *testing.T) {
	out := &recordingSink{}
	p := newPipeline(t, serialport.NewTestableSerialPort(), out, record.DualChannel)
	ctx := context.Background()

	// marker followed by an out-of-range length, then a good frame
	p.Process(ctx, []byte{0xAA, 0xAA, 0x05, 0x00, 0x00, 0x00})
	p.Process(ctx, endToEndFrame)
	// noise beyond the cap with no marker
	p.Process(ctx, make([]byte, frame.MaxUnsyncedBytes+1))

	assert.Len(t, out.records, 1)
	st := p.Stats()
	assert.Equal(t, uint64(1), st.Faults["frame_size_invalid"])
	assert.Equal(t, uint64(1), st.Faults["sync_loss"])
	assert.Equal(t, int64(0), st.Buffered)
}

func TestProcess_SinkWriteErrorIsRecoverable(t *testing.T) {
	out := &recordingSink{failAt: map[int]error{1: errors.New("disk full")}}
	p := newPipeline(t, serialport.NewTestableSerialPort(), out, record.DualChannel)

	p.Process(context.Background(), append(append([]byte{}, endToEndFrame...), endToEndFrame...))

	assert.Len(t, out.records, 1, "the failed record is not retried")
	assert.Equal(t, uint64(1), p.Stats().Faults["sink_write_error"])
}

func TestRun_PortErrorIsFatal(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	port.ReadError = errors.New("device unplugged")
	out := &recordingSink{}
	p := newPipeline(t, port, out, record.DualChannel)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.PortError, fault.KindOf(err))
	assert.True(t, fault.IsFatal(err))
	assert.True(t, out.closed)
	assert.True(t, port.IsClosed())
	assert.Equal(t, uint64(1), p.Stats().Faults["port_error"])
}

func TestRun_CancelStopsCleanly(t *testing.T) {
	port := serialport.NewTestableSerialPort()
	port.AddChunks(endToEndFrame[:20]) // partial frame is dropped at exit
	out := &recordingSink{}
	p := newPipeline(t, port, out, record.DualChannel)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, out.records)
	assert.True(t, out.closed)
	assert.True(t, port.IsClosed())
	assert.Equal(t, int64(20-frame.MarkerSize), p.Stats().Buffered)
}

func TestNew_Validation(t *testing.T) {
	src, err := serialport.NewPortSource(serialport.NewTestableSerialPort(), "test", time.Second)
	require.NoError(t, err)

	_, err = New(src, &recordingSink{}, Options{Calibration: analog.DefaultCalibration()})
	assert.ErrorIs(t, err, record.ErrUnknownVariant)

	_, err = New(src, &recordingSink{}, Options{Variant: record.DualChannel})
	assert.Error(t, err, "zero calibration is rejected")
}

func TestRun_WithRotatingCSVSink(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(start)
	rot, err := sink.New(sink.Options{
		Dir: "/captures", Identifier: "rig", Format: sink.CSV, Variant: record.SingleChannel,
		Clock: clock, FS: fsys,
	})
	require.NoError(t, err)

	single := record.Encode(record.Record{Variant: record.SingleChannel, Single: &record.Single{
		ClassificationActive: true,
		Channel:              2,
		Inputs:               []record.RawSample{{0x80, 0, 0}, {0, 0, 0}, {0xFF, 0xFF, 0xFF}},
		Classification:       []float32{0.5, 0.12345},
	}})
	wire, err := frame.Encode(single)
	require.NoError(t, err)

	port := serialport.NewTestableSerialPort()
	port.EOFWhenEmpty = true
	port.AddReadData(wire)

	src, err := serialport.NewPortSource(port, "test", time.Millisecond)
	require.NoError(t, err)
	p, err := New(src, rot, Options{Variant: record.SingleChannel, Calibration: analog.DefaultCalibration(), Clock: clock})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	files := fsys.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "/captures/rig_2024-06-01_12:00:00:000000.csv", files[0])

	data, err := fsys.ReadFile(files[0])
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "timestamp", rows[0][0])
	assert.Equal(t, []string{"1", "2", "[[128,0,0],[0,0,0],[255,255,255]]", "[0,-625,624.9999]", "[0.5,0.123]"}, rows[1][2:])
}
