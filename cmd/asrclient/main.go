// asrclient streams a WAV file to the /ws endpoint the way a live
// microphone client would: sample-rate handshake, real-time-sized
// binary chunks, then RECOGNIZE. Incoming messages are printed as they
// arrive.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/coder/websocket"

	"github.com/gulldan/asrcpp-gigam3/internal/audio"
)

const chunkSamples = 4096

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to mono WAV file")
	serverURL := flag.String("server", "ws://localhost:8081/ws", "WebSocket endpoint")
	realtime := flag.Bool("realtime", true, "Pace chunks at real-time speed")
	flag.Parse()

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}

	// Peek the container rate first so decoding does not resample.
	rate, err := wavSampleRate(data)
	if err != nil {
		log.Fatalf("Invalid WAV file: %v", err)
	}
	decoded, err := audio.DecodeWAV(data, rate)
	if err != nil {
		log.Fatalf("Failed to decode WAV: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *serverURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	handshake := fmt.Sprintf(`{"sample_rate":%d}`, rate)
	if err := conn.Write(ctx, websocket.MessageText, []byte(handshake)); err != nil {
		log.Fatalf("Handshake failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			fmt.Printf("<- %s\n", msg)
			if string(msg) == `{"type":"done"}` {
				return
			}
		}
	}()

	chunkInterval := time.Duration(float64(chunkSamples) / float64(rate) * float64(time.Second))
	buf := make([]byte, chunkSamples*4)
	for offset := 0; offset < len(decoded.Samples); offset += chunkSamples {
		end := offset + chunkSamples
		if end > len(decoded.Samples) {
			end = len(decoded.Samples)
		}
		chunk := decoded.Samples[offset:end]
		for i, s := range chunk {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
		}
		if err := conn.Write(ctx, websocket.MessageBinary, buf[:len(chunk)*4]); err != nil {
			log.Fatalf("Failed to send audio: %v", err)
		}
		if *realtime {
			time.Sleep(chunkInterval)
		}
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("RECOGNIZE")); err != nil {
		log.Fatalf("Failed to send RECOGNIZE: %v", err)
	}

	<-done
}

// wavSampleRate reads the sample rate from a standard RIFF header.
func wavSampleRate(data []byte) (int, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a RIFF/WAVE file")
	}
	return int(binary.LittleEndian.Uint32(data[24:28])), nil
}
