// Package flash models page-erased NOR flash with asynchronous erase and
// write completion.
package flash

import (
	"errors"
	"fmt"
)

var (
	ErrBusy  = errors.New("flash: operation in progress")
	ErrRange = errors.New("flash: address out of range")
	ErrAlign = errors.New("flash: unaligned access")
	ErrFault = errors.New("flash: operation failed")
)

// WordSize is the write granularity.
const WordSize = 4

// Flash is non-volatile storage addressed by absolute address. Only one
// erase or write may be outstanding; completions run on the scheduler.
type Flash interface {
	// ReadAt reads len(p) bytes at absolute address off.
	ReadAt(p []byte, off int64) (int, error)
	// Erase sets pages starting at the page-aligned addr to 0xFF.
	Erase(addr uint32, pages int, done func(error))
	// Write programs data at addr. addr and len(data) must be word aligned.
	Write(addr uint32, data []byte, done func(error))
	Base() uint32
	Size() int
	PageSize() int
}

// Pages returns how many pages are needed to hold n bytes.
func Pages(n, pageSize int) int {
	return (n + pageSize - 1) / pageSize
}

// CheckRange validates an access of n bytes at addr against f.
func CheckRange(f Flash, addr uint32, n int) error {
	start := int64(addr)
	base := int64(f.Base())
	if start < base || start+int64(n) > base+int64(f.Size()) {
		return fmt.Errorf("%w: 0x%08x+%d", ErrRange, addr, n)
	}
	return nil
}
