package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderLen = 8

	// CurrentVersion is the only protocol version this build speaks.
	CurrentVersion uint32 = 0
)

// Magic is the fixed 4-byte tag that opens every packet.
var Magic = [4]byte{'r', 'P', 't', 'm'}

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
)

// Header is the fixed wire header.
type Header struct {
	Magic   [4]byte
	Version uint32
}

// Frame is one complete packet split into header and body.
type Frame struct {
	Header Header
	Body   []byte
}

// AppendHeader appends magic and the current version to dst.
func AppendHeader(dst []byte) []byte {
	dst = append(dst, Magic[:]...)
	return binary.BigEndian.AppendUint32(dst, CurrentVersion)
}

// NewPacket returns a buffer holding only the header, ready for body appends.
func NewPacket(bodyHint int) []byte {
	return AppendHeader(make([]byte, 0, HeaderLen+bodyHint))
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	copy(buf[0:4], h.Magic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	var h Header
	copy(h.Magic[:], b[0:4])
	h.Version = binary.BigEndian.Uint32(b[4:8])
	return h, nil
}

// Parse validates the header of one packet and returns its body.
// The body aliases packet.
func Parse(packet []byte) (Frame, error) {
	h, err := DecodeHeader(packet)
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.Version != CurrentVersion {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return Frame{Header: h, Body: packet[HeaderLen:]}, nil
}
