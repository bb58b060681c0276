// Command gen-capture writes a synthetic raw capture file of framed records
// for replaying with `capture --replay`.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"

	"github.com/banshee-data/telemetry.capture/internal/frame"
	"github.com/banshee-data/telemetry.capture/internal/record"
)

type genOptions struct {
	variant record.Variant
	frames  int
	samples int
	// noise is the chance of junk bytes between two frames.
	noise float64
	seed  uint64
}

// generate writes opts.frames frames to w and returns the bytes written.
// Samples follow a sine wave per channel so the calibrated output is easy to
// eyeball.
func generate(w io.Writer, opts genOptions) (int, error) {
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	total := 0
	for i := 0; i < opts.frames; i++ {
		payload := record.Encode(synthRecord(rng, opts, i))
		wire, err := frame.Encode(payload)
		if err != nil {
			return total, fmt.Errorf("frame %d: %w", i, err)
		}
		n, err := w.Write(wire)
		total += n
		if err != nil {
			return total, err
		}
		if opts.noise > 0 && rng.Float64() < opts.noise {
			junk := make([]byte, 1+rng.IntN(16))
			for j := range junk {
				// never emit a marker byte so the junk cannot form a frame
				junk[j] = byte(rng.IntN(int(frame.Marker[0])))
			}
			n, err := w.Write(junk)
			total += n
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func synthRecord(rng *rand.Rand, opts genOptions, i int) record.Record {
	wave := func(phase float64) []record.RawSample {
		out := make([]record.RawSample, opts.samples)
		for k := range out {
			v := math.Sin(float64(i*opts.samples+k)/16+phase)*0.4 + 0.5
			v += (rng.Float64() - 0.5) * 0.01
			m := uint32(math.Max(0, math.Min(1, v)) * float64(1<<24-1))
			out[k] = record.RawSample{byte(m >> 16), byte(m >> 8), byte(m)}
		}
		return out
	}
	scores := func() []float32 {
		return []float32{rng.Float32(), rng.Float32()}
	}

	if opts.variant == record.DualChannel {
		return record.Record{Variant: record.DualChannel, Dual: &record.Dual{
			InputsCh0:         wave(0),
			InputsCh1:         wave(math.Pi / 2),
			ClassificationCh0: scores(),
			ClassificationCh1: scores(),
		}}
	}
	return record.Record{Variant: record.SingleChannel, Single: &record.Single{
		ClassificationActive: i%2 == 0,
		Channel:              uint32(i % 4),
		Inputs:               wave(0),
		Classification:       scores(),
	}}
}

func main() {
	output := flag.String("o", "capture.bin", "output path")
	frames := flag.Int("n", 100, "number of frames")
	variant := flag.String("variant", "single", "record layout: single or dual")
	samples := flag.Int("samples", 16, "samples per channel in each frame")
	noise := flag.Float64("noise", 0, "probability of junk bytes between frames (0-1)")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	v, err := record.ParseVariant(*variant)
	if err != nil {
		log.Fatal(err)
	}
	if *samples < 0 || *frames < 0 {
		log.Fatal("-n and -samples must not be negative")
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("create %s: %v", *output, err)
	}
	w := bufio.NewWriter(f)
	n, err := generate(w, genOptions{variant: v, frames: *frames, samples: *samples, noise: *noise, seed: *seed})
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatalf("write %s: %v", *output, err)
	}
	log.Printf("✓ Created: %s (%d frames, %d bytes)", *output, *frames, n)
}
