package scanner

// DefaultChunkSize is the largest block range sent to the explorer in one request.
const DefaultChunkSize uint64 = 50000

// Chunk is an inclusive sub-range of a month window.
type Chunk struct {
	Start uint64
	End   uint64
}

// Size returns the number of blocks in the chunk.
func (c Chunk) Size() uint64 {
	return c.End - c.Start + 1
}

// Plan splits [start, end] into ascending, contiguous chunks of at most size blocks.
// The last chunk may be shorter. start > end yields no chunks.
func Plan(start, end, size uint64) []Chunk {
	if start > end {
		return nil
	}
	if size == 0 {
		size = DefaultChunkSize
	}

	span := end - start + 1
	count := span / size
	if span%size != 0 {
		count++
	}

	chunks := make([]Chunk, 0, count)
	for i := uint64(0); i < count; i++ {
		chunkStart := start + i*size
		chunkEnd := chunkStart + size - 1
		if chunkEnd > end || chunkEnd < chunkStart { // second check guards overflow near MaxUint64
			chunkEnd = end
		}
		chunks = append(chunks, Chunk{Start: chunkStart, End: chunkEnd})
	}
	return chunks
}
