package bridge

// chunkRing is a bounded FIFO of processed PCM chunks. When the chunk cap is
// exceeded the oldest chunk is dropped so a stalled submitter cannot grow the
// buffer without bound.
type chunkRing struct {
	chunks  [][]byte
	bytes   int
	cap     int
	dropped int
}

func newChunkRing(capacity int) *chunkRing {
	return &chunkRing{cap: capacity}
}

// push appends a chunk, evicting the oldest when the ring is full. It
// reports how many chunks were dropped to make room.
func (r *chunkRing) push(chunk []byte) int {
	r.chunks = append(r.chunks, chunk)
	r.bytes += len(chunk)

	var evicted int
	for len(r.chunks) > r.cap {
		r.bytes -= len(r.chunks[0])
		r.chunks = r.chunks[1:]
		evicted++
	}
	r.dropped += evicted
	return evicted
}

// drain returns all buffered audio as one contiguous blob and empties the
// ring so ingest can continue while the blob is being submitted.
func (r *chunkRing) drain() []byte {
	if len(r.chunks) == 0 {
		return nil
	}
	blob := make([]byte, 0, r.bytes)
	for _, c := range r.chunks {
		blob = append(blob, c...)
	}
	r.chunks = nil
	r.bytes = 0
	return blob
}

func (r *chunkRing) len() int          { return len(r.chunks) }
func (r *chunkRing) byteLen() int      { return r.bytes }
func (r *chunkRing) totalDropped() int { return r.dropped }
