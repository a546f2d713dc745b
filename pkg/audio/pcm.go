package audio

import "encoding/binary"

// Capture format sent on the wire: mono 16 kHz little-endian signed 16-bit PCM.
const (
	SampleRate = 16000
	Channels   = 1
	BlockSize  = 512
)

// EncodePCM converts a block of normalized float samples into s16le bytes.
// Samples are clamped to [-1,1] and scaled asymmetrically (32768 negative,
// 32767 positive) so both rails map exactly onto the int16 range.
func EncodePCM(block []float32) []byte {
	out := make([]byte, len(block)*2)
	for i, s := range block {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(EncodeSample(s)))
	}
	return out
}

// EncodeSample converts one normalized sample to int16.
func EncodeSample(s float32) int16 {
	if s < -1 {
		s = -1
	}
	if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}
