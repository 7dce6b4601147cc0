package audio

import "math"

// Slack added to the output high-water mark so rounding never forces a
// mid-call reallocation.
const resamplerSlack = 16

// StreamResampler converts a continuous mono float stream between sample
// rates using linear interpolation, carrying interpolation state across
// calls so chunk boundaries introduce no discontinuity.
//
// The slices returned by Process and Flush alias an internal buffer that
// is overwritten by the next call on the same instance; callers must
// consume or copy them first. The buffer grows to a high-water mark and
// never shrinks, so steady-state calls allocate nothing.
type StreamResampler struct {
	ratio float64 // output samples per input sample
	step  float64 // input samples per output sample

	// pos is the position of the next output sample in input-sample
	// units, relative to the first sample of the next Process call.
	// last holds the final input sample of the previous call, sitting
	// at position -1.
	pos  float64
	last float32

	buf []float32
}

// NewStreamResampler creates a converter from inputRate to outputRate Hz.
func NewStreamResampler(inputRate, outputRate int) (*StreamResampler, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, audioErrorf("invalid resampler rates: %d -> %d", inputRate, outputRate)
	}
	ratio := float64(outputRate) / float64(inputRate)
	return &StreamResampler{
		ratio: ratio,
		step:  1.0 / ratio,
	}, nil
}

// Process consumes input samples and returns a view of the converted
// output, valid until the next Process or Flush call.
func (r *StreamResampler) Process(input []float32) ([]float32, error) {
	needed := int(math.Ceil(float64(len(input))*r.ratio)) + resamplerSlack
	if cap(r.buf) < needed {
		r.buf = make([]float32, 0, needed)
	}
	out := r.buf[:0]
	if len(input) == 0 {
		return out, nil
	}

	pos := r.pos
	limit := float64(len(input) - 1)
	for ; pos <= limit; pos += r.step {
		idx := int(math.Floor(pos))
		frac := float32(pos - math.Floor(pos))
		var s0, s1 float32
		if idx < 0 {
			s0, s1 = r.last, input[0]
		} else {
			s0 = input[idx]
			if idx+1 < len(input) {
				s1 = input[idx+1]
			} else {
				s1 = s0
			}
		}
		out = append(out, s0+frac*(s1-s0))
	}

	if len(out) > needed {
		return nil, audioErrorf("resampler output overflow: %d > %d", len(out), needed)
	}

	r.last = input[len(input)-1]
	r.pos = pos - float64(len(input))
	r.buf = out
	return out, nil
}

// Flush drains the interpolation tail and resets state so the instance
// can be reused for a new stream. The returned view is valid until the
// next Process or Flush call.
func (r *StreamResampler) Flush() ([]float32, error) {
	if cap(r.buf) < resamplerSlack {
		r.buf = make([]float32, 0, resamplerSlack)
	}
	out := r.buf[:0]

	// A pending output between the final input sample and stream end
	// holds the last value; there is no further signal to interpolate.
	if r.pos < 0 {
		out = append(out, r.last)
	}

	r.pos = 0
	r.last = 0
	r.buf = out
	return out, nil
}
