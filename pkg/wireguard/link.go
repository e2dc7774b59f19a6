// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wireguard

import (
	"errors"
	"net/netip"

	"github.com/siderolabs/tunnelctl/pkg/settings"
)

// ErrUnsupportedOS is returned on platforms without link management.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// installedRoutes expands the settings routes into the routes installed on the link.
//
// Routes with a gateway are the subnets of the interface addresses, which the kernel adds
// with the address. A default route is split in two halves so it wins over the host default
// route without replacing it.
func installedRoutes(ns *settings.NetworkSettings) []netip.Prefix {
	var result []netip.Prefix

	for _, r := range ns.Routes {
		if r.Gateway.IsValid() {
			continue
		}

		dst := r.Destination.Masked()

		if dst.Bits() != 0 {
			result = append(result, dst)

			continue
		}

		if dst.Addr().Is4() {
			result = append(result,
				netip.MustParsePrefix("0.0.0.0/1"),
				netip.MustParsePrefix("128.0.0.0/1"),
			)
		} else {
			result = append(result,
				netip.MustParsePrefix("::/1"),
				netip.MustParsePrefix("8000::/1"),
			)
		}
	}

	return result
}
