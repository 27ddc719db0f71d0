package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	wavFormatIEEEFloat = 3
	wavBitsPerSample   = 32
)

// WAV wraps the buffer in a RIFF container with interleaved 32-bit float samples,
// which browsers hand straight to decodeAudioData.
func (b *Buffer) WAV() []byte {
	channels := b.NumChannels()
	frames := b.Frames()
	blockAlign := channels * wavBitsPerSample / 8
	dataLen := frames * blockAlign

	var out bytes.Buffer
	out.Grow(44 + dataLen)

	out.WriteString("RIFF")
	writeLE(&out, uint32(36+dataLen))
	out.WriteString("WAVE")

	out.WriteString("fmt ")
	writeLE(&out, uint32(16))
	writeLE(&out, uint16(wavFormatIEEEFloat))
	writeLE(&out, uint16(channels))
	writeLE(&out, uint32(b.SampleRate))
	writeLE(&out, uint32(b.SampleRate*blockAlign))
	writeLE(&out, uint16(blockAlign))
	writeLE(&out, uint16(wavBitsPerSample))

	out.WriteString("data")
	writeLE(&out, uint32(dataLen))

	sample := make([]byte, 4)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint32(sample, math.Float32bits(b.Channels[c][i]))
			out.Write(sample)
		}
	}
	return out.Bytes()
}

func writeLE(buf *bytes.Buffer, v interface{}) {
	// bytes.Buffer writes never fail
	_ = binary.Write(buf, binary.LittleEndian, v)
}
