package audio

import (
	"sync"

	"github.com/rs/zerolog"
)

// Reassembler turns a stream of audio chunks into one Asset per completed
// turn. At most one buffer is live at a time.
type Reassembler struct {
	mu          sync.Mutex
	buf         *ReassemblyBuffer
	maxSize     int
	turn        uint64
	interrupted bool
	log         zerolog.Logger
}

// NewReassembler creates a reassembler whose turns are capped at maxSize
// bytes (0 for no cap).
func NewReassembler(maxSize int, log zerolog.Logger) *Reassembler {
	return &Reassembler{maxSize: maxSize, log: log}
}

// OnChunk appends c to the current turn, opening a new buffer if needed.
// It returns false when the chunk was dropped.
func (r *Reassembler) OnChunk(c Chunk) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interrupted {
		r.log.Debug().Int("bytes", len(c.Data)).Uint64("turn", r.turn).Msg("dropping audio chunk for interrupted turn")
		return false
	}
	if r.buf == nil {
		r.turn++
		r.buf = NewReassemblyBuffer(r.turn, r.maxSize)
	}

	mismatch, err := r.buf.Append(c)
	if err != nil {
		r.log.Warn().Err(err).Int("bytes", len(c.Data)).Int("buffered", r.buf.Size()).Msg("dropping audio chunk")
		return false
	}
	if mismatch {
		r.log.Warn().
			Stringer("want", r.buf.Format()).
			Stringer("got", c.Format).
			Msg("audio format changed mid-turn; keeping the first")
	}
	return true
}

// OnTurnComplete finalizes the current buffer. It returns false when there
// was no audio in the turn.
func (r *Reassembler) OnTurnComplete() (*Asset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.interrupted = false
	buf := r.buf
	r.buf = nil
	if buf == nil || buf.ChunkCount() == 0 {
		return nil, false
	}

	pcm := buf.Bytes()
	return &Asset{
		Format: buf.Format(),
		PCM:    pcm,
		WAV:    WrapPCMAsWAV(pcm, buf.Format()),
		Chunks: buf.ChunkCount(),
		Turn:   buf.Turn(),
	}, true
}

// OnInterrupted discards the current buffer and drops every chunk until the
// turn completes. It returns the number of bytes thrown away.
func (r *Reassembler) OnInterrupted() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.interrupted = true
	if r.buf == nil {
		return 0
	}
	n := r.buf.Size()
	r.buf = nil
	return n
}

// Reset forgets any in-progress turn, e.g. when the connection is replaced.
func (r *Reassembler) Reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.interrupted = false
	if r.buf == nil {
		return 0
	}
	n := r.buf.Size()
	r.buf = nil
	return n
}

// Buffered returns the bytes held for the in-progress turn.
func (r *Reassembler) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return 0
	}
	return r.buf.Size()
}

// InProgress reports whether a turn buffer is live.
func (r *Reassembler) InProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf != nil
}
