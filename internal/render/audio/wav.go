package audio

import (
	"encoding/binary"
	"io"
)

const (
	wavHeaderSize    = 44
	bytesPerSample   = 2
	wavFormatPCM     = 1
	maxSampleInt16   = 32767
	minSampleFloat32 = -1.0
	maxSampleFloat32 = 1.0
)

// EncodeWAV writes the buffer as a 16-bit PCM WAV stream. Samples are
// clamped to [-1, 1] before quantization, which also bounds any summing
// overshoot from the mixdown.
func EncodeWAV(w io.Writer, buf *Buffer) error {
	frames := buf.Frames()
	dataSize := frames * Channels * bytesPerSample

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(wavHeaderSize-8+dataSize))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(header[22:24], Channels)
	binary.LittleEndian.PutUint32(header[24:28], uint32(buf.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(buf.SampleRate*Channels*bytesPerSample))
	binary.LittleEndian.PutUint16(header[32:34], Channels*bytesPerSample)
	binary.LittleEndian.PutUint16(header[34:36], 8*bytesPerSample)

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	if _, err := w.Write(header); err != nil {
		return err
	}

	// interleaved L/R
	samples := make([]byte, dataSize)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < Channels; ch++ {
			v := buf.Data[ch][i]
			if v > maxSampleFloat32 {
				v = maxSampleFloat32
			}
			if v < minSampleFloat32 {
				v = minSampleFloat32
			}
			quantized := int16(v * maxSampleInt16)
			offset := (i*Channels + ch) * bytesPerSample
			binary.LittleEndian.PutUint16(samples[offset:], uint16(quantized))
		}
	}

	_, err := w.Write(samples)
	return err
}
