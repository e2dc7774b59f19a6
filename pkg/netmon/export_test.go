// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package netmon

import "net/netip"

type Link = link

func NewLink(name, addr string, up bool) Link {
	return link{name: name, addr: netip.MustParseAddr(addr), up: up}
}

var PathFromLinks = pathFromLinks
