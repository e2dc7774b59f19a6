// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package netmon

import (
	"context"
	"fmt"
	"net"

	"github.com/jsimonetti/rtnetlink/rtnl"
	"go4.org/netipx"
	"golang.org/x/sys/unix"
)

// Snapshot returns the current path, ignoring the excluded interfaces.
func Snapshot(_ context.Context, exclude []string) (Path, error) {
	c, err := rtnl.Dial(nil)
	if err != nil {
		return Path{}, fmt.Errorf("error initializing netlink client: %w", err)
	}

	defer c.Close() //nolint:errcheck

	ifaces, err := c.Links()
	if err != nil {
		return Path{}, fmt.Errorf("error listing links: %w", err)
	}

	var links []link

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := c.Addrs(iface, unix.AF_UNSPEC)
		if err != nil {
			return Path{}, fmt.Errorf("error listing addresses of %q: %w", iface.Name, err)
		}

		for _, ipnet := range addrs {
			addr, ok := netipx.FromStdIP(ipnet.IP)
			if !ok {
				continue
			}

			links = append(links, link{
				name: iface.Name,
				addr: addr,
				up:   iface.Flags&net.FlagUp != 0,
			})
		}
	}

	return pathFromLinks(links, exclude), nil
}
