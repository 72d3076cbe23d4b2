package fetch

import (
	"container/heap"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// Buffer accepts block writes at arbitrary offsets but advances the file
// strictly contiguously: a write beyond the current end is held in memory
// until the gap before it has been filled. The on-disk length is therefore
// always the length of the fully-written prefix, so it can serve as the
// resume offset for an interrupted download even when blocks complete out
// of order.
type Buffer struct {
	path string
	file *os.File
	size atomic.Int64 // contiguous prefix length, mirrors the file length

	mutex   sync.Mutex
	pending chunkHeap
}

// OpenBuffer opens or creates the buffer file at path. With overwrite set
// any existing content is truncated, otherwise it is preserved and Size
// reports how much was already written by a previous run.
func OpenBuffer(path string, overwrite bool) (*Buffer, error) {
	flag := os.O_RDWR | os.O_CREATE
	if overwrite {
		flag |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening buffer file: %v", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("error stating buffer file: %v", err)
	}
	b := &Buffer{path: path, file: file}
	b.size.Store(info.Size())
	return b, nil
}

func (b *Buffer) Path() string {
	return b.path
}

// Size returns the length of the contiguous written prefix. Bytes queued
// above a gap are not counted until the gap closes.
func (b *Buffer) Size() int64 {
	return b.size.Load()
}

// WriteAt stores p at off. Data at or below the contiguous end reaches
// disk immediately and drains any queued chunks that became contiguous
// behind it; anything else is queued as a copy.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if off > b.size.Load() {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		heap.Push(&b.pending, pendingChunk{off: off, data: chunk})
		return len(p), nil
	}
	if err := b.writeContiguous(p, off); err != nil {
		return 0, err
	}
	for b.pending.Len() > 0 && b.pending[0].off <= b.size.Load() {
		chunk := heap.Pop(&b.pending).(pendingChunk)
		if err := b.writeContiguous(chunk.data, chunk.off); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (b *Buffer) writeContiguous(p []byte, off int64) error {
	if _, err := b.file.WriteAt(p, off); err != nil {
		return err
	}
	if end := off + int64(len(p)); end > b.size.Load() {
		b.size.Store(end)
	}
	return nil
}

// Close flushes and releases the file handle. Chunks still queued above a
// gap are discarded; their blocks get re-fetched on the next run.
func (b *Buffer) Close() error {
	b.mutex.Lock()
	b.pending = nil
	b.mutex.Unlock()
	if err := b.file.Sync(); err != nil {
		b.file.Close()
		return err
	}
	return b.file.Close()
}

type pendingChunk struct {
	off  int64
	data []byte
}

type chunkHeap []pendingChunk

func (h chunkHeap) Len() int           { return len(h) }
func (h chunkHeap) Less(i, j int) bool { return h[i].off < h[j].off }
func (h chunkHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *chunkHeap) Push(x any) {
	*h = append(*h, x.(pendingChunk))
}

func (h *chunkHeap) Pop() any {
	old := *h
	n := len(old)
	chunk := old[n-1]
	*h = old[:n-1]
	return chunk
}
