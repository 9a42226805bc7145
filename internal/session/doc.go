// Package session implements the per-connection authentication state
// machine: it parses inbound packets, drives the ledger and emits menu,
// msgb, info and errr responses.
package session
