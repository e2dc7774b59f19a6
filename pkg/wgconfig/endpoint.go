// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgconfig

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Endpoint is the UDP address of a peer: a hostname or a literal address, and a port.
//
//nolint:govet
type Endpoint struct {
	Host string
	Port uint16
}

// EndpointFromAddrPort builds a resolved endpoint.
func EndpointFromAddrPort(ap netip.AddrPort) Endpoint {
	return Endpoint{Host: ap.Addr().Unmap().String(), Port: ap.Port()}
}

// ParseEndpoint splits "host:port" or "[v6host]:port" the way wg(8) does.
func ParseEndpoint(s string) (Endpoint, error) {
	var host, port string

	switch {
	case s == "":
		return Endpoint{}, fmt.Errorf("empty endpoint")
	case s[0] == '[':
		end := strings.IndexByte(s, ']')
		if end < 0 || end+1 >= len(s) || s[end+1] != ':' {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q", s)
		}

		host, port = s[1:end], s[end+2:]
	default:
		var found bool

		host, port, found = strings.Cut(s, ":")
		if !found {
			return Endpoint{}, fmt.Errorf("endpoint %q has no port", s)
		}
	}

	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid port in endpoint %q", s)
	}

	if host == "" || strings.IndexFunc(host, invalidHostRune) >= 0 {
		return Endpoint{}, fmt.Errorf("invalid host in endpoint %q", s)
	}

	return Endpoint{Host: host, Port: uint16(p)}, nil
}

// MustParseEndpoint is ParseEndpoint which panics on error.
func MustParseEndpoint(s string) Endpoint {
	e, err := ParseEndpoint(s)
	if err != nil {
		panic(err)
	}

	return e
}

// Addr returns the literal host address, if the host is one.
func (e Endpoint) Addr() (netip.Addr, bool) {
	addr, err := netip.ParseAddr(e.Host)
	if err != nil {
		return netip.Addr{}, false
	}

	return addr, true
}

// IsResolved reports whether the host is a literal address.
func (e Endpoint) IsResolved() bool {
	_, ok := e.Addr()

	return ok
}

// AddrPort returns the endpoint as netip.AddrPort; ok is false for hostnames.
func (e Endpoint) AddrPort() (netip.AddrPort, bool) {
	addr, ok := e.Addr()
	if !ok {
		return netip.AddrPort{}, false
	}

	return netip.AddrPortFrom(addr, e.Port), true
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	if addr, ok := e.Addr(); ok && addr.Is6() {
		return "[" + e.Host + "]:" + strconv.Itoa(int(e.Port))
	}

	return e.Host + ":" + strconv.Itoa(int(e.Port))
}

// invalidHostRune rejects characters outside the URL host character set (RFC 3986
// unreserved, sub-delims, ':' and '%' for IPv6 literals and percent-encoding).
func invalidHostRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}

	return !strings.ContainsRune("-._~!$&'()*+,;=:%", r)
}
