// Package protocol groups the wire contract spoken between bankwire clients
// and the server.
//
// Ownership boundary:
// - frame: fixed header (magic + version)
// - field: big-endian values and length-prefixed strings
// - schema: opcodes, response tags, per-phase dispatch rules
// - message: typed requests and responses
package protocol
