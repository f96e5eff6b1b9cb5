package link

import "errors"

// SLIP framing (RFC 1055) for byte-stream transports such as a UART.
const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD
)

var ErrFrameTooLong = errors.New("link: frame too long")

// AppendFrame appends the SLIP encoding of msg to dst.
func AppendFrame(dst, msg []byte) []byte {
	dst = append(dst, slipEnd)
	for _, c := range msg {
		switch c {
		case slipEnd:
			dst = append(dst, slipEsc, slipEscEnd)
		case slipEsc:
			dst = append(dst, slipEsc, slipEscEsc)
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, slipEnd)
}

// Deframer reassembles SLIP frames from a byte stream.
type Deframer struct {
	max      int
	buf      []byte
	escaped  bool
	overflow bool
}

// NewDeframer returns a deframer that discards frames longer than max bytes.
func NewDeframer(max int) *Deframer {
	return &Deframer{max: max, buf: make([]byte, 0, max)}
}

// Feed consumes one byte. It returns a complete frame when c terminates one.
// The returned slice is owned by the caller. An oversized frame is reported
// once with ErrFrameTooLong and discarded.
func (d *Deframer) Feed(c byte) ([]byte, error) {
	if c == slipEnd {
		defer d.reset()
		if d.overflow {
			return nil, ErrFrameTooLong
		}
		if len(d.buf) == 0 {
			return nil, nil
		}
		return append([]byte(nil), d.buf...), nil
	}
	if d.overflow {
		return nil, nil
	}

	if d.escaped {
		d.escaped = false
		switch c {
		case slipEscEnd:
			c = slipEnd
		case slipEscEsc:
			c = slipEsc
		}
	} else if c == slipEsc {
		d.escaped = true
		return nil, nil
	}

	if len(d.buf) >= d.max {
		d.overflow = true
		return nil, nil
	}
	d.buf = append(d.buf, c)
	return nil, nil
}

func (d *Deframer) reset() {
	d.buf = d.buf[:0]
	d.escaped = false
	d.overflow = false
}
