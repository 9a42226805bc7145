package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestAppendHeaderLayout(t *testing.T) {
	got := AppendHeader(nil)
	want := []byte{'r', 'P', 't', 'm', 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("header mismatch: got=%v want=%v", got, want)
	}
}

func TestParseReturnsBody(t *testing.T) {
	packet := append(NewPacket(3), 0x01, 0x02, 0x03)
	fr, err := Parse(packet)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fr.Header.Magic != Magic || fr.Header.Version != CurrentVersion {
		t.Fatalf("unexpected header: %+v", fr.Header)
	}
	if !bytes.Equal(fr.Body, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("body mismatch: %v", fr.Body)
	}
}

func TestParseEmptyBody(t *testing.T) {
	fr, err := Parse(AppendHeader(nil))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(fr.Body) != 0 {
		t.Fatalf("expected empty body, got %d bytes", len(fr.Body))
	}
}

func TestParseShortHeaderIsDeterministic(t *testing.T) {
	_, err := Parse([]byte{'r', 'P', 't'})
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	packet := EncodeHeader(Header{Magic: [4]byte{'x', 'P', 't', 'm'}})
	_, err := Parse(packet)
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestParseRejectsUnknownVersion(t *testing.T) {
	packet := EncodeHeader(Header{Magic: Magic, Version: 7})
	_, err := Parse(packet)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}
