// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package netmon

import (
	"context"
	"fmt"
	"net"

	"go4.org/netipx"
)

// Snapshot returns the current path, ignoring the excluded interfaces.
func Snapshot(_ context.Context, exclude []string) (Path, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return Path{}, fmt.Errorf("error listing interfaces: %w", err)
	}

	var links []link

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}

			addr, ok := netipx.FromStdIP(ipnet.IP)
			if !ok {
				continue
			}

			links = append(links, link{name: iface.Name, addr: addr, up: iface.Flags&net.FlagUp != 0})
		}
	}

	return pathFromLinks(links, exclude), nil
}
