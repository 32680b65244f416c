package util

import "strings"

// NormalizeAddr returns the provided address if it is non-empty (after trimming
// whitespace), or the fallback value if the address is empty or whitespace-only.
//
// OpenSSH treats the bind address in a -L/-R forwarding argument as optional —
// when omitted, the local side defaults to the loopback interface. Centralizing
// the defaulting here keeps the same address string flowing into:
//   - duplicate-bind detection (internal/tunnel.NewManager)
//   - ssh argument composition (internal/sshclient.BuildArgs)
//   - the probe endpoint (model.ForwardingSpec.BindEndpoint)
//
// Examples:
//
//	NormalizeAddr("",         "127.0.0.1") → "127.0.0.1"
//	NormalizeAddr("0.0.0.0",  "127.0.0.1") → "0.0.0.0"
func NormalizeAddr(addr, fallback string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fallback
	}
	return addr
}

// DefaultString returns the fallback value if v is empty or consists entirely
// of whitespace; otherwise it returns v unchanged.
func DefaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// EmptyDash returns "-" for blank strings so optional fields render as a
// visible placeholder in CLI tables.
func EmptyDash(s string) string {
	return DefaultString(s, "-")
}
