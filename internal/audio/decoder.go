package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// DecodeError reports a PCM payload that cannot be turned into a playable buffer.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio decode: %s: %v", e.Reason, e.Err)
	}
	return "audio decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Buffer holds de-interleaved float samples, one slice per channel.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// DecodeBase64PCM decodes a base64 payload of raw PCM16 audio.
func DecodeBase64PCM(payload string, sampleRate, numChannels int) (*Buffer, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64 payload", Err: err}
	}
	return DecodePCM16(data, sampleRate, numChannels)
}

// DecodePCM16 converts signed 16-bit little-endian interleaved PCM into float channels.
// Each sample is divided by 32768, so -32768 maps to -1.0 and 32767 to 32767/32768.
func DecodePCM16(data []byte, sampleRate, numChannels int) (*Buffer, error) {
	if numChannels <= 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid channel count %d", numChannels)}
	}
	if sampleRate <= 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid sample rate %d", sampleRate)}
	}
	if len(data)%2 != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("payload of %d bytes is not whole 16-bit samples", len(data))}
	}

	samples := len(data) / 2
	if samples%numChannels != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("%d samples do not divide into %d channels", samples, numChannels)}
	}
	frames := samples / numChannels

	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, numChannels),
	}
	for c := 0; c < numChannels; c++ {
		ch := make([]float32, frames)
		for i := 0; i < frames; i++ {
			off := 2 * (i*numChannels + c)
			s := int16(binary.LittleEndian.Uint16(data[off:]))
			ch[i] = float32(s) / 32768.0
		}
		buf.Channels[c] = ch
	}
	return buf, nil
}
