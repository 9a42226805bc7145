package client

import "github.com/dchest/siphash"

const (
	credentialKey0 = 233
	credentialKey1 = 9961
)

// PasswordHash derives the 32-bit credential sent on the wire: SipHash-2-4
// over the password bytes and a 0xFF terminator, truncated to the low word.
func PasswordHash(password string) int32 {
	p := make([]byte, 0, len(password)+1)
	p = append(p, password...)
	p = append(p, 0xFF)
	return int32(uint32(siphash.Hash(credentialKey0, credentialKey1, p)))
}
