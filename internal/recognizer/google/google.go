// Package google provides a recognizer backend over Google Cloud
// Speech-to-Text. Requires GOOGLE_APPLICATION_CREDENTIALS.
package google

import (
	"context"
	"encoding/binary"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gulldan/asrcpp-gigam3/internal/recognizer"
)

var _ recognizer.Backend = (*Backend)(nil)

// Backend shares one Speech client across slots; the client is safe for
// concurrent use, so a slot only carries the serialization contract.
type Backend struct {
	client   *speech.Client
	language string
}

// New creates the shared Speech client.
func New(ctx context.Context, language string) (*Backend, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google: create speech client: %w", err)
	}
	if language == "" {
		language = "en-US"
	}
	return &Backend{client: c, language: language}, nil
}

// Name identifies this backend in logs and health output.
func (b *Backend) Name() string { return "google" }

// NewSlot returns a slot bound to the shared client. The threads budget
// does not apply to a remote backend.
func (b *Backend) NewSlot(_ int) (recognizer.Slot, error) {
	return &slot{client: b.client, language: b.language}, nil
}

// Close releases the shared client.
func (b *Backend) Close() error {
	return b.client.Close()
}

type slot struct {
	client   *speech.Client
	language string
}

// Transcribe sends the clip through the synchronous Recognize API as
// LINEAR16 and joins the alternative with the highest confidence per
// result.
func (s *slot) Transcribe(samples []float32, sampleRate int) (string, error) {
	resp, err := s.client.Recognize(context.Background(), &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(sampleRate),
			LanguageCode:    s.language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: floatToLinear16(samples),
			},
		},
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.InvalidArgument {
			return "", fmt.Errorf("google: rejected audio: %w", err)
		}
		return "", fmt.Errorf("google: recognize: %w", err)
	}

	text := ""
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if text != "" {
			text += " "
		}
		text += r.Alternatives[0].Transcript
	}
	return text, nil
}

func (s *slot) Close() error { return nil }

// floatToLinear16 converts normalized float32 samples to little-endian
// signed 16-bit PCM with clamping.
func floatToLinear16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
