// Package audio holds helpers for the raw audio the read-along client streams:
// 16-bit signed little-endian PCM, usually 16 kHz mono.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// BitsPerSample is fixed for all PCM handled by this module.
const BitsPerSample = 16

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Speech is the format the read-along client sends.
var Speech = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the PCM byte rate for f, or 0 for an invalid format.
func (f Format) BytesPerSecond() int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return f.SampleRate * f.Channels * BitsPerSample / 8
}

// Duration returns how long n bytes of PCM in format f last.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// WAVHeader returns a 44-byte RIFF/WAVE header for dataSize bytes of PCM in
// format f. Streaming recognizers that expect a header before open-ended
// audio accept dataSize 0.
func WAVHeader(f Format, dataSize int) []byte {
	blockAlign := f.Channels * BitsPerSample / 8

	buf := make([]byte, 44)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}

// EncodeWAV wraps pcm in a complete RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) []byte {
	out := make([]byte, 0, 44+len(pcm))
	out = append(out, WAVHeader(f, len(pcm))...)
	return append(out, pcm...)
}

// RMS returns the root-mean-square energy of a PCM buffer in sample units
// (0–32767). A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
