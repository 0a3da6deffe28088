// Package audio decodes synthesized speech and hands it to the session's
// listeners.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Speech payload format: 16-bit signed little-endian PCM, 24 kHz, mono.
const (
	SampleRate = 24000
	Channels   = 1
	MIMEType   = "audio/L16;rate=24000"
)

var ErrEmptyAudio = errors.New("audio payload is empty")

// Payload is an encoded audio response from the speech service.
type Payload struct {
	Base64   string
	MIMEType string
}

// PlaybackUnit is a decoded sample buffer for one assistant turn.
type PlaybackUnit struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Decode turns base64 PCM into normalized float samples.
func Decode(b64 string) (*PlaybackUnit, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 audio: %w", err)
	}
	if len(raw) < 2 {
		return nil, ErrEmptyAudio
	}

	n := len(raw) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(s) / 32768
	}

	return &PlaybackUnit{Samples: samples, SampleRate: SampleRate, Channels: Channels}, nil
}

func (u *PlaybackUnit) Duration() time.Duration {
	if u.SampleRate == 0 || u.Channels == 0 {
		return 0
	}
	frames := len(u.Samples) / u.Channels
	return time.Duration(frames) * time.Second / time.Duration(u.SampleRate)
}

// Peak is the largest absolute sample value, in [0, 1].
func (u *PlaybackUnit) Peak() float32 {
	var peak float64
	for _, s := range u.Samples {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	return float32(peak)
}
