package afpacket

import "fmt"

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, approximate
	maxBlockSize     = 4 << 20
)

// recomputeSize derives a PACKET_MMAP ring layout close to bufferMB:
//   - frameSize holds one header plus snapLen bytes, 16-byte aligned
//   - blockSize is a multiple of both the page size and frameSize
//   - numBlocks fills the budget, at least one block
//
// When the smallest common block would exceed 4 MB the frame is padded to
// whole pages and each block holds a single frame.
func recomputeSize(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)
	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		frameSize = alignUp(frameSize, pageSize)
		blockSize = frameSize
	}

	numBlocks = (bufferMB << 20) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
