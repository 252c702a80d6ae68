// Package buffer implements a growable byte cursor shared by the codec's
// encode and decode paths.
package buffer

import "encoding/binary"

// Buffer is a []byte with a read cursor. Writers append to the end;
// readers consume from the front via Next/Skip/ReadByte. The same type
// backs both directions so a single decode pass can re-slice into a
// Buffer for a nested composite without copying.
type Buffer struct {
	b   []byte
	off int
}

// New creates a Buffer whose unread bytes are b.
func New(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Detach returns the buffer's underlying bytes (from the start, not the
// read cursor) and clears the Buffer.
func (b *Buffer) Detach() []byte {
	out := b.b
	b.b, b.off = nil, 0
	return out
}

// Reset discards all written bytes and resets the read cursor.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.off = 0
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.b) - b.off
}

// Size returns the total number of bytes written, ignoring the read cursor.
func (b *Buffer) Size() int {
	return len(b.b)
}

// Bytes returns the unread portion of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.b[b.off:]
}

// Next returns the next n unread bytes and advances the cursor past them.
// ok is false if fewer than n bytes remain.
func (b *Buffer) Next(n int64) (buf []byte, ok bool) {
	if n < 0 || int64(b.Len()) < n {
		return nil, false
	}
	buf = b.b[b.off : b.off+int(n)]
	b.off += int(n)
	return buf, true
}

// Peek returns the next n unread bytes without advancing the cursor.
func (b *Buffer) Peek(n int) (buf []byte, ok bool) {
	if b.Len() < n {
		return nil, false
	}
	return b.b[b.off : b.off+n], true
}

// Skip advances the read cursor by n bytes.
func (b *Buffer) Skip(n int) {
	b.off += n
}

// ReadByte consumes and returns the next unread byte.
func (b *Buffer) ReadByte() (byte, error) {
	buf, ok := b.Next(1)
	if !ok {
		return 0, errBufferUnderflow
	}
	return buf[0], nil
}

// Append appends p to the buffer.
func (b *Buffer) Append(p []byte) {
	b.b = append(b.b, p...)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	b.b = append(b.b, c)
}

// AppendString appends the bytes of s.
func (b *Buffer) AppendString(s string) {
	b.b = append(b.b, s...)
}

// AppendUint16 appends v in network byte order.
func (b *Buffer) AppendUint16(v uint16) {
	b.b = binary.BigEndian.AppendUint16(b.b, v)
}

// AppendUint32 appends v in network byte order.
func (b *Buffer) AppendUint32(v uint32) {
	b.b = binary.BigEndian.AppendUint32(b.b, v)
}

// AppendUint64 appends v in network byte order.
func (b *Buffer) AppendUint64(v uint64) {
	b.b = binary.BigEndian.AppendUint64(b.b, v)
}

var errBufferUnderflow = bufferUnderflowError{}

type bufferUnderflowError struct{}

func (bufferUnderflowError) Error() string { return "buffer: unexpected end of data" }
