// Package audio provides WAV decoding, streaming sample-rate conversion
// and signal-level probing for the recognition pipeline.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/go-audio/wav"
)

// Decoded WAV uploads are rejected beyond one hour of audio at the
// highest supported rate.
const maxWAVFrames = 48000 * 3600

// AudioError indicates malformed or unsupported audio input. It maps to
// a 400-class response on the one-shot endpoint.
type AudioError struct {
	msg string
}

func (e *AudioError) Error() string { return e.msg }

func audioErrorf(format string, args ...any) error {
	return &AudioError{msg: fmt.Sprintf(format, args...)}
}

// IsAudioError reports whether err originated from audio decoding.
func IsAudioError(err error) bool {
	var ae *AudioError
	return errors.As(err, &ae)
}

// Data is a decoded, mono, normalized audio clip at the target rate.
type Data struct {
	Samples     []float32
	DurationSec float32
}

// DecodeWAV decodes a WAV container into normalized float32 mono samples
// at targetRate, resampling if the container rate differs.
func DecodeWAV(data []byte, targetRate int) (Data, error) {
	if len(data) == 0 {
		return Data{}, audioErrorf("empty audio data")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return Data{}, audioErrorf("failed to decode WAV file: invalid format")
	}

	if dec.NumChans != 1 {
		return Data{}, audioErrorf("only mono audio is supported, got %d channels", dec.NumChans)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Data{}, audioErrorf("failed to read PCM frames from WAV: %v", err)
	}
	if len(buf.Data) == 0 {
		return Data{}, audioErrorf("WAV file contains no audio frames")
	}
	if len(buf.Data) > maxWAVFrames {
		return Data{}, audioErrorf("WAV file too long: %d frames exceeds 1-hour limit", len(buf.Data))
	}

	samples := make([]float32, len(buf.Data))
	switch {
	case dec.WavAudioFormat == 3 && dec.BitDepth == 32:
		// IEEE float samples arrive bit-for-bit in the int buffer.
		for i, s := range buf.Data {
			samples[i] = math.Float32frombits(uint32(int32(s)))
		}
	default:
		scale := float32(int64(1) << (dec.BitDepth - 1))
		for i, s := range buf.Data {
			samples[i] = float32(s) / scale
		}
	}

	inputRate := int(dec.SampleRate)
	if inputRate != targetRate {
		samples, err = Resample(samples, inputRate, targetRate)
		if err != nil {
			return Data{}, err
		}
	}

	return Data{
		Samples:     samples,
		DurationSec: float32(len(samples)) / float32(targetRate),
	}, nil
}

// Resample converts a complete clip from inputRate to outputRate,
// draining the converter tail so no samples are lost.
func Resample(samples []float32, inputRate, outputRate int) ([]float32, error) {
	r, err := NewStreamResampler(inputRate, outputRate)
	if err != nil {
		return nil, err
	}

	body, err := r.Process(samples)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(body))
	copy(out, body)

	tail, err := r.Flush()
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}

// RMS returns the root-mean-square level of the samples, 0 for an empty
// slice.
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
