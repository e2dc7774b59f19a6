// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgconfig

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
)

// AddressRange is an IP address with a prefix length.
//
// Unlike a network prefix, the address is kept as written ("10.0.0.2/24" stays
// "10.0.0.2/24"), because interface addresses are host addresses.
type AddressRange struct {
	prefix netip.Prefix
}

// AddressRangeFrom builds an AddressRange, clamping bits to the family maximum.
func AddressRangeFrom(addr netip.Addr, bits int) AddressRange {
	bits = max(0, min(bits, addr.BitLen()))

	return AddressRange{prefix: netip.PrefixFrom(addr, bits)}
}

// ParseAddressRange parses "addr" or "addr/bits".
//
// A missing prefix length means a single host; an oversized one is clamped.
func ParseAddressRange(s string) (AddressRange, error) {
	addrPart, bitsPart, hasBits := strings.Cut(s, "/")

	addr, err := netip.ParseAddr(addrPart)
	if err != nil || addr.Zone() != "" {
		return AddressRange{}, fmt.Errorf("invalid address %q", s)
	}

	bits := addr.BitLen()

	if hasBits {
		n, err := strconv.ParseUint(bitsPart, 10, 8)
		if err != nil {
			return AddressRange{}, fmt.Errorf("invalid prefix length in %q", s)
		}

		bits = min(int(n), addr.BitLen())
	}

	return AddressRange{prefix: netip.PrefixFrom(addr, bits)}, nil
}

// MustParseAddressRange is ParseAddressRange which panics on error.
func MustParseAddressRange(s string) AddressRange {
	r, err := ParseAddressRange(s)
	if err != nil {
		panic(err)
	}

	return r
}

// Addr returns the address as written.
func (r AddressRange) Addr() netip.Addr { return r.prefix.Addr() }

// Bits returns the prefix length.
func (r AddressRange) Bits() int { return r.prefix.Bits() }

// Prefix returns the range as an unmasked netip.Prefix.
func (r AddressRange) Prefix() netip.Prefix { return r.prefix }

// Is4 reports whether the range is IPv4.
func (r AddressRange) Is4() bool { return r.prefix.Addr().Is4() }

// IsValid reports whether the range was initialized.
func (r AddressRange) IsValid() bool { return r.prefix.IsValid() }

// MaskedAddress returns the network address of the range.
func (r AddressRange) MaskedAddress() netip.Addr {
	return r.prefix.Masked().Addr()
}

// SubnetMask returns the prefix length expressed as an address (255.255.255.0 for /24).
func (r AddressRange) SubnetMask() netip.Addr {
	mask, _ := netipx.FromStdIPRaw(net.IP(netipx.PrefixIPNet(r.prefix).Mask))

	return mask
}

// String implements fmt.Stringer.
func (r AddressRange) String() string {
	return r.prefix.String()
}

// DNSServer is a resolver address.
type DNSServer struct {
	Addr netip.Addr
}

// ParseDNSServer parses a bare IP address.
func ParseDNSServer(s string) (DNSServer, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return DNSServer{}, fmt.Errorf("invalid DNS server %q: %w", s, err)
	}

	return DNSServer{Addr: addr}, nil
}

// String implements fmt.Stringer.
func (d DNSServer) String() string {
	return d.Addr.String()
}
