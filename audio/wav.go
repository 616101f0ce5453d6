package audio

import "encoding/binary"

// WAVHeaderSize is the size of a canonical PCM RIFF header.
const WAVHeaderSize = 44

// WrapPCMAsWAV wraps little-endian PCM samples in a WAV container.
func WrapPCMAsWAV(pcm []byte, f Format) []byte {
	dataSize := len(pcm)
	blockAlign := f.Channels * f.BitsPerSample / 8

	wav := make([]byte, WAVHeaderSize+dataSize)
	le := binary.LittleEndian

	copy(wav[0:4], "RIFF")
	le.PutUint32(wav[4:8], uint32(36+dataSize))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	le.PutUint32(wav[16:20], 16)
	le.PutUint16(wav[20:22], 1) // PCM
	le.PutUint16(wav[22:24], uint16(f.Channels))
	le.PutUint32(wav[24:28], uint32(f.SampleRate))
	le.PutUint32(wav[28:32], uint32(f.BytesPerSecond()))
	le.PutUint16(wav[32:34], uint16(blockAlign))
	le.PutUint16(wav[34:36], uint16(f.BitsPerSample))

	copy(wav[36:40], "data")
	le.PutUint32(wav[40:44], uint32(dataSize))
	copy(wav[WAVHeaderSize:], pcm)

	return wav
}
