// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package settings

// Platform describes how the host network stack treats tunnels.
//
// It is selected once at startup and passed down to the generator and the adapter.
//
//nolint:govet
type Platform struct {
	Name string

	// DefaultMTU is used when the configuration has no MTU or MTU = 0.
	DefaultMTU int

	// MaxIPv6PrefixLength clamps IPv6 interface address prefixes; zero means no clamp.
	MaxIPv6PrefixLength int

	// TransparentRoaming means the host keeps UDP sockets working across network
	// changes, so a path change only needs the sockets nudged.
	TransparentRoaming bool
}

var (
	// Mobile platforms ignore IPv6 address prefixes longer than /120 and drop tunnel
	// sockets when the network changes.
	Mobile = Platform{
		Name:                "mobile",
		DefaultMTU:          1280,
		MaxIPv6PrefixLength: 120,
	}

	// Desktop uses the wireguard-go default MTU: a 1500 byte link minus 80 bytes of
	// IPv6 and WireGuard overhead.
	Desktop = Platform{
		Name:               "desktop",
		DefaultMTU:         1420,
		TransparentRoaming: true,
	}
)
