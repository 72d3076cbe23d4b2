package fetch

import "fmt"

// SizeUnknown marks a total size that the server did not report. A block
// whose Length is SizeUnknown is fetched with a single unranged request.
const SizeUnknown int64 = -1

// Block is a contiguous byte span of a remote resource, fetched in one
// range request and written at Offset into the destination buffer.
type Block struct {
	Offset int64
	Length int64
}

// RangeHeader returns the Range header value for the block, or "" when the
// block is unbounded and the whole resource is requested instead.
func (b Block) RangeHeader() string {
	if b.Length == SizeUnknown {
		return ""
	}
	return fmt.Sprintf("bytes=%d-%d", b.Offset, b.Offset+b.Length-1)
}

// SliceBlocks splits the remaining span [resumeOffset, totalSize) of a
// resource into consecutive blocks of blockSize bytes, shortening the last
// block so the union covers the span exactly. Pass totalSize == SizeUnknown
// when the server did not report a size: the result is a single unbounded
// block. A non-positive blockSize yields a single inclusive range covering
// the whole resource, matching the wire protocol's end-offset form.
//
// resumeOffset must not exceed totalSize; that is a caller bug, not a
// recoverable condition.
func SliceBlocks(resumeOffset, totalSize, blockSize int64) []Block {
	if totalSize == SizeUnknown {
		return []Block{{Offset: 0, Length: SizeUnknown}}
	}
	if blockSize <= 0 {
		return []Block{{Offset: 0, Length: totalSize - 1}}
	}
	if resumeOffset > totalSize {
		panic(fmt.Sprintf("fetch: resume offset %d beyond total size %d", resumeOffset, totalSize))
	}
	var blocks []Block
	for off := resumeOffset; off < totalSize; off += blockSize {
		length := blockSize
		if off+length > totalSize {
			length = totalSize - off
		}
		blocks = append(blocks, Block{Offset: off, Length: length})
	}
	return blocks
}
