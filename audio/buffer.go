package audio

import "errors"

// ErrBufferFull is returned when a chunk would push a turn past its size cap.
var ErrBufferFull = errors.New("audio buffer full")

// ReassemblyBuffer accumulates the chunks of a single turn. The format is
// fixed by the first chunk appended.
type ReassemblyBuffer struct {
	chunks    [][]byte
	totalSize int
	maxSize   int
	format    Format
	mime      string
	turn      uint64
}

// NewReassemblyBuffer creates a buffer for one turn. maxSize <= 0 means unbounded.
func NewReassemblyBuffer(turn uint64, maxSize int) *ReassemblyBuffer {
	return &ReassemblyBuffer{
		turn:    turn,
		maxSize: maxSize,
	}
}

// Append adds a chunk. It reports whether the chunk's format disagreed with
// the one captured from the first chunk; the bytes are kept either way.
func (b *ReassemblyBuffer) Append(c Chunk) (mismatch bool, err error) {
	newSize := b.totalSize + len(c.Data)
	if b.maxSize > 0 && newSize > b.maxSize {
		return false, ErrBufferFull
	}

	if len(b.chunks) == 0 && b.format.IsZero() {
		b.format = c.Format
		b.mime = c.MimeType
	} else if c.Format != b.format {
		mismatch = true
	}

	b.chunks = append(b.chunks, c.Data)
	b.totalSize = newSize
	return mismatch, nil
}

// Bytes concatenates all chunks in arrival order.
func (b *ReassemblyBuffer) Bytes() []byte {
	out := make([]byte, 0, b.totalSize)
	for _, chunk := range b.chunks {
		out = append(out, chunk...)
	}
	return out
}

func (b *ReassemblyBuffer) Format() Format   { return b.format }
func (b *ReassemblyBuffer) MimeType() string { return b.mime }
func (b *ReassemblyBuffer) Turn() uint64     { return b.turn }
func (b *ReassemblyBuffer) Size() int        { return b.totalSize }
func (b *ReassemblyBuffer) ChunkCount() int  { return len(b.chunks) }
