package field

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWriterLayoutIsBigEndian(t *testing.T) {
	w := NewWriter(nil)
	w.U8(0x02)
	w.U32(0x01020304)
	w.I32(-1)
	if err := w.String("ab"); err != nil {
		t.Fatalf("write string: %v", err)
	}
	want := []byte{0x02, 1, 2, 3, 4, 0xff, 0xff, 0xff, 0xff, 0, 2, 'a', 'b'}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("layout mismatch: got=%v want=%v", w.Bytes(), want)
	}
}

func TestWriterRejectsOversizedString(t *testing.T) {
	w := NewWriter(nil)
	err := w.String(strings.Repeat("x", 65536))
	if !errors.Is(err, ErrStringTooLong) {
		t.Fatalf("expected ErrStringTooLong, got %v", err)
	}
	if w.Len() != 0 {
		t.Fatalf("writer mutated on failure: %d bytes", w.Len())
	}
}

func TestReaderStringAdvancesCursor(t *testing.T) {
	r := NewReader([]byte{0, 5, 'h', 'e', 'l', 'l', 'o', 0, 0})
	s, err := r.String()
	if err != nil {
		t.Fatalf("read string: %v", err)
	}
	if s != "hello" {
		t.Fatalf("unexpected string %q", s)
	}
	if r.Remaining() != 2 {
		t.Fatalf("unexpected remaining=%d", r.Remaining())
	}
	empty, err := r.String()
	if err != nil || empty != "" {
		t.Fatalf("expected empty string, got %q err=%v", empty, err)
	}
}

func TestReaderStringTruncated(t *testing.T) {
	r := NewReader([]byte{0, 5, 'h', 'i'})
	_, err := r.String()
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if r.Remaining() != 4 {
		t.Fatalf("cursor moved on failure: remaining=%d", r.Remaining())
	}
}

func TestReaderStringShortPrefix(t *testing.T) {
	_, err := NewReader([]byte{0}).String()
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReaderStringInvalidUTF8(t *testing.T) {
	_, err := NewReader([]byte{0, 2, 0xc3, 0x28}).String()
	if !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("expected ErrInvalidEncoding, got %v", err)
	}
}

func TestReaderFixedWidth(t *testing.T) {
	w := NewWriter(nil)
	w.U32(4000000000)
	w.I32(-200)
	w.I64(-1700000000)
	r := NewReader(w.Bytes())
	u, _ := r.U32()
	i, _ := r.I32()
	l, err := r.I64()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if u != 4000000000 || i != -200 || l != -1700000000 {
		t.Fatalf("unexpected values u=%d i=%d l=%d", u, i, l)
	}
	if _, err := r.U8(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated at end, got %v", err)
	}
}
