package net

import (
	"encoding/binary"
	"errors"
)

var errBufferRange = errors.New("read past buffered data")

// ReadBuffer accumulates inbound bytes for one connection. The transport
// appends, the packet codec peeks at offsets without consuming and then
// either consumes a full frame or leaves the buffer untouched until more
// bytes arrive. Single reader; not safe for concurrent use.
//
// All multi-byte reads are big-endian, matching the wire format.
type ReadBuffer struct {
	buf []byte
	r   int
}

// NewReadBuffer ...
func NewReadBuffer() *ReadBuffer {
	return &ReadBuffer{}
}

// Append adds bytes received from the transport.
func (b *ReadBuffer) Append(data []byte) {
	// reclaim consumed prefix before growing
	if b.r > 0 && b.r == len(b.buf) {
		b.buf = b.buf[:0]
		b.r = 0
	} else if b.r > 4096 {
		b.buf = append(b.buf[:0], b.buf[b.r:]...)
		b.r = 0
	}
	b.buf = append(b.buf, data...)
}

// Len returns the number of unconsumed bytes.
func (b *ReadBuffer) Len() int {
	return len(b.buf) - b.r
}

// Uint8At reads one byte at offset without consuming.
func (b *ReadBuffer) Uint8At(off int) (byte, error) {
	if off < 0 || off+1 > b.Len() {
		return 0, errBufferRange
	}
	return b.buf[b.r+off], nil
}

// Uint16At reads a big-endian uint16 at offset without consuming.
func (b *ReadBuffer) Uint16At(off int) (uint16, error) {
	if off < 0 || off+2 > b.Len() {
		return 0, errBufferRange
	}
	return binary.BigEndian.Uint16(b.buf[b.r+off:]), nil
}

// Uint32At reads a big-endian uint32 at offset without consuming.
func (b *ReadBuffer) Uint32At(off int) (uint32, error) {
	if off < 0 || off+4 > b.Len() {
		return 0, errBufferRange
	}
	return binary.BigEndian.Uint32(b.buf[b.r+off:]), nil
}

// Range returns n bytes starting at offset without consuming. The returned
// slice aliases the buffer and is only valid until the next Append or
// Consume; callers keeping the data must copy it.
func (b *ReadBuffer) Range(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > b.Len() {
		return nil, errBufferRange
	}
	return b.buf[b.r+off : b.r+off+n], nil
}

// Consume discards n bytes from the front of the buffer.
func (b *ReadBuffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= b.Len() {
		b.buf = b.buf[:0]
		b.r = 0
		return
	}
	b.r += n
}
