// Package storage manages the flash region that holds the data set: erase
// before write, payload writes, and the header commit that makes it valid.
package storage

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/itohio/godice/pkg/dataset"
	"github.com/itohio/godice/pkg/flash"
	"github.com/itohio/godice/pkg/logging"
)

var (
	ErrTooLarge    = errors.New("storage: data set does not fit")
	ErrUnaligned   = errors.New("storage: write size not word aligned")
	ErrPending     = errors.New("storage: payload writes still pending")
	ErrWriteFailed = errors.New("storage: a payload write failed")
	ErrNotPrepared = errors.New("storage: region not erased")
)

// Region is the data set area of a flash device: the header at Base followed
// by the payload.
type Region struct {
	fl       flash.Flash
	base     uint32
	capacity int
	log      zerolog.Logger

	prepared  bool
	pending   int
	failed    error
	committed bool
}

// NewRegion claims capacity bytes of fl starting at the page-aligned base.
func NewRegion(fl flash.Flash, base uint32, capacity int) (*Region, error) {
	if err := flash.CheckRange(fl, base, capacity); err != nil {
		return nil, err
	}
	if int(base-fl.Base())%fl.PageSize() != 0 {
		return nil, fmt.Errorf("%w: region base 0x%08x is not page aligned", flash.ErrAlign, base)
	}
	return &Region{fl: fl, base: base, capacity: capacity, log: logging.For("storage")}, nil
}

func (r *Region) Base() uint32 { return r.base }

// DataAddress is where the payload starts.
func (r *Region) DataAddress() uint32 { return r.base + dataset.HeaderSize }

// Capacity is the size of the region, header included.
func (r *Region) Capacity() int { return r.capacity }

// Flash returns the underlying device, usable as an io.ReaderAt for
// dataset.Open.
func (r *Region) Flash() flash.Flash { return r.fl }

// Fits reports whether a payload of n bytes fits, with the final word padded.
func (r *Region) Fits(n int) bool {
	return dataset.HeaderSize+dataset.RoundUp4(n) <= r.capacity
}

// Committed reports whether the last Commit succeeded and nothing was
// erased since.
func (r *Region) Committed() bool { return r.committed }

// Prepare erases enough pages for the header and a payload of payloadSize
// bytes. Any previously committed data set is gone once the erase starts.
func (r *Region) Prepare(payloadSize int, done func(error)) {
	if !r.Fits(payloadSize) {
		err := fmt.Errorf("%w: %d byte payload, %d byte region", ErrTooLarge, payloadSize, r.capacity)
		done(err)
		return
	}

	pages := flash.Pages(dataset.HeaderSize+dataset.RoundUp4(payloadSize), r.fl.PageSize())
	r.prepared = false
	r.committed = false
	r.pending = 0
	r.failed = nil

	r.log.Debug().Int("pages", pages).Uint32("address", r.base).Msg("erasing")
	r.fl.Erase(r.base, pages, func(err error) {
		if err != nil {
			r.log.Error().Err(err).Msg("erase failed")
			done(fmt.Errorf("failed to erase data set region: %w", err))
			return
		}
		r.prepared = true
		done(nil)
	})
}

// WriteAt writes payload bytes at offset from DataAddress. len(data) must be
// a multiple of four.
func (r *Region) WriteAt(offset int, data []byte, done func(error)) {
	if !r.prepared {
		done(ErrNotPrepared)
		return
	}
	if len(data)%flash.WordSize != 0 {
		done(fmt.Errorf("%w: %d bytes", ErrUnaligned, len(data)))
		return
	}
	if dataset.HeaderSize+offset+len(data) > r.capacity {
		done(fmt.Errorf("%w: write at %d+%d", ErrTooLarge, offset, len(data)))
		return
	}

	r.pending++
	r.fl.Write(r.DataAddress()+uint32(offset), data, func(err error) {
		r.pending--
		if err != nil {
			if r.failed == nil {
				r.failed = err
			}
			done(fmt.Errorf("failed to write payload at %d: %w", offset, err))
			return
		}
		done(nil)
	})
}

// Commit writes the header. It refuses while payload writes are outstanding
// or after any of them failed. Only a successful header write makes the data
// set valid.
func (r *Region) Commit(h dataset.Header, done func(error)) {
	switch {
	case !r.prepared:
		done(ErrNotPrepared)
		return
	case r.pending > 0:
		done(fmt.Errorf("%w: %d outstanding", ErrPending, r.pending))
		return
	case r.failed != nil:
		done(fmt.Errorf("%w: %v", ErrWriteFailed, r.failed))
		return
	}

	b, err := h.MarshalBinary()
	if err != nil {
		done(err)
		return
	}
	r.fl.Write(r.base, b, func(err error) {
		if err != nil {
			r.log.Error().Err(err).Msg("header write failed")
			done(fmt.Errorf("failed to write header: %w", err))
			return
		}
		r.committed = true
		r.log.Info().Uint32("address", r.base).Uint32("animations", h.AnimationCount).Msg("data set committed")
		done(nil)
	})
}

// Program erases the region and writes img followed by its header, one flash
// operation at a time.
func (r *Region) Program(img dataset.Image, done func(error)) {
	if err := img.Counts.Validate(); err != nil {
		done(err)
		return
	}
	l := dataset.Plan(r.base, img.Counts)
	if len(img.Payload) != l.PayloadSize() {
		done(fmt.Errorf("%w: payload is %d bytes, layout needs %d", dataset.ErrLayout, len(img.Payload), l.PayloadSize()))
		return
	}

	padded := make([]byte, dataset.RoundUp4(len(img.Payload)))
	copy(padded, img.Payload)
	for i := len(img.Payload); i < len(padded); i++ {
		padded[i] = 0xFF
	}

	r.Prepare(len(img.Payload), func(err error) {
		if err != nil {
			done(err)
			return
		}
		r.writeFrom(padded, 0, func(err error) {
			if err != nil {
				done(err)
				return
			}
			r.Commit(l.Header(img.Counts), done)
		})
	})
}

// programChunk bounds a single flash write issued by Program.
const programChunk = 256

func (r *Region) writeFrom(p []byte, offset int, done func(error)) {
	if offset >= len(p) {
		done(nil)
		return
	}
	end := min(offset+programChunk, len(p))
	r.WriteAt(offset, p[offset:end], func(err error) {
		if err != nil {
			done(err)
			return
		}
		r.writeFrom(p, end, done)
	})
}
