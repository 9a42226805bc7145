// Package field reads and writes the fixed-width big-endian values and
// length-prefixed strings that make up packet bodies.
package field

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

const StringLenPrefix = 2

var (
	ErrTruncated       = errors.New("field: truncated data")
	ErrInvalidEncoding = errors.New("field: invalid utf-8 string")
	ErrStringTooLong   = errors.New("field: string exceeds 65535 bytes")
)

// Writer appends values to a packet buffer.
type Writer struct {
	buf []byte
}

func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) U32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) I32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) I64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

// String appends a u16 length followed by the UTF-8 bytes of s.
func (w *Writer) String(s string) error {
	out, err := AppendString(w.buf, s)
	if err != nil {
		return err
	}
	w.buf = out
	return nil
}

func AppendString(dst []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return dst, fmt.Errorf("%w: %d", ErrStringTooLong, len(s))
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...), nil
}

// Reader is a forward-only cursor over a packet body.
type Reader struct {
	b   []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.b) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d have %d", ErrTruncated, n, r.Remaining())
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) I64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// String reads a u16 length then that many UTF-8 bytes. On failure the
// cursor is left where it was.
func (r *Reader) String() (string, error) {
	start := r.off
	lb, err := r.take(StringLenPrefix)
	if err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(lb))
	b, err := r.take(n)
	if err != nil {
		r.off = start
		return "", err
	}
	if !utf8.Valid(b) {
		r.off = start
		return "", ErrInvalidEncoding
	}
	return string(b), nil
}
