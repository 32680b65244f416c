// Package forwarding parses forwarding specification strings into validated
// model.ForwardingSpec values.
//
// The accepted grammar mirrors OpenSSH's -L/-R argument:
//
//	local_port:remote_host:remote_port
//	bind_addr:local_port:remote_host:remote_port
//
// Parsing proceeds right to left so that bracketed IPv6 bind addresses, which
// contain colons themselves, are handled correctly ("[::1]:8080:db:5432").
package forwarding

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tunneld/tunneld/internal/model"
	"github.com/tunneld/tunneld/internal/util"
)

// Parse converts a forwarding specification string into a ForwardingSpec with
// the given mode. Ports are validated to the 1-65535 range.
func Parse(s string, mode model.ForwardMode) (model.ForwardingSpec, error) {
	s = strings.TrimSpace(s)

	last := strings.LastIndex(s, ":")
	if last < 0 {
		return model.ForwardingSpec{}, fmt.Errorf("invalid forwarding spec %q: want [bindAddr:]localPort:remoteHost:remotePort", s)
	}
	remotePort, err := parsePort(s[last+1:], "remote port")
	if err != nil {
		return model.ForwardingSpec{}, err
	}

	rest := s[:last]
	second := strings.LastIndex(rest, ":")
	if second < 0 {
		return model.ForwardingSpec{}, fmt.Errorf("invalid forwarding spec %q: missing remote host", s)
	}
	remoteHost := rest[second+1:]
	if remoteHost == "" {
		return model.ForwardingSpec{}, fmt.Errorf("invalid forwarding spec %q: empty remote host", s)
	}

	// rest2 is "[bindAddr:]localPort"
	rest2 := rest[:second]
	bindAddr := ""
	portPart := rest2
	if idx := strings.LastIndex(rest2, ":"); idx >= 0 {
		bindAddr = rest2[:idx]
		portPart = rest2[idx+1:]
	}
	localPort, err := parsePort(portPart, "local port")
	if err != nil {
		return model.ForwardingSpec{}, err
	}

	return model.ForwardingSpec{
		Mode:       mode,
		BindAddr:   bindAddr,
		LocalPort:  localPort,
		RemoteHost: remoteHost,
		RemotePort: remotePort,
	}, nil
}

// ParseAll parses a list of specification strings, failing on the first
// invalid entry.
func ParseAll(specs []string, mode model.ForwardMode) ([]model.ForwardingSpec, error) {
	out := make([]model.ForwardingSpec, 0, len(specs))
	for _, s := range specs {
		spec, err := Parse(s, mode)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func parsePort(s, what string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	if err := util.ValidatePort(p); err != nil {
		return 0, fmt.Errorf("invalid %s: %w", what, err)
	}
	return p, nil
}
