package audio

import "time"

// Chunk is one slice of streamed model audio.
type Chunk struct {
	Data     []byte
	Format   Format
	MimeType string

	// Model is the generation that produced the chunk.
	Model      string
	ReceivedAt time.Time
}

// Asset is a finalized, immutable audio turn.
type Asset struct {
	Format Format
	PCM    []byte
	WAV    []byte
	Chunks int
	Turn   uint64
}

// Duration is the playback length of the PCM payload.
func (a *Asset) Duration() time.Duration {
	bps := a.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(a.PCM)) * time.Second / time.Duration(bps)
}
