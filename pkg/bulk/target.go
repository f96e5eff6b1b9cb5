package bulk

import (
	"fmt"

	"github.com/itohio/godice/pkg/dataset"
	"github.com/itohio/godice/pkg/storage"
)

// ScratchSize holds one chunk rounded up to the flash word with headroom.
const ScratchSize = 132

// BufferTarget collects a transfer in memory.
type BufferTarget struct {
	// Alloc returns a buffer of size bytes, or nil when there is no room.
	// A nil Alloc uses make.
	Alloc func(size int) []byte

	buf []byte
}

func (t *BufferTarget) Begin(size int) error {
	alloc := t.Alloc
	if alloc == nil {
		alloc = func(n int) []byte { return make([]byte, n) }
	}
	buf := alloc(size)
	if buf == nil || len(buf) < size {
		return fmt.Errorf("%w: %d bytes", ErrAllocation, size)
	}
	t.buf = buf[:size]
	return nil
}

func (t *BufferTarget) Write(offset int, data []byte, done func(error)) {
	copy(t.buf[offset:], data)
	done(nil)
}

// Bytes returns the received blob.
func (t *BufferTarget) Bytes() []byte { return t.buf }

// FlashTarget writes a transfer straight into a prepared storage region.
// Chunks go through a word-padded scratch buffer filled with 0xFF so the
// padding leaves the erased cells untouched.
type FlashTarget struct {
	region  *storage.Region
	scratch [ScratchSize]byte
}

func NewFlashTarget(region *storage.Region) *FlashTarget {
	return &FlashTarget{region: region}
}

func (t *FlashTarget) Begin(size int) error {
	if !t.region.Fits(size) {
		return fmt.Errorf("%w: %d bytes into %d byte region", ErrTooLarge, size, t.region.Capacity())
	}
	return nil
}

func (t *FlashTarget) Write(offset int, data []byte, done func(error)) {
	n := dataset.RoundUp4(len(data))
	if n > len(t.scratch) {
		done(fmt.Errorf("%w: %d byte chunk", ErrTooLarge, len(data)))
		return
	}
	copy(t.scratch[:], data)
	for i := len(data); i < n; i++ {
		t.scratch[i] = 0xFF
	}
	t.region.WriteAt(offset, t.scratch[:n], done)
}
