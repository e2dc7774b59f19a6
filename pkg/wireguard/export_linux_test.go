// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wireguard

import (
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"go.uber.org/zap"

	"github.com/siderolabs/tunnelctl/pkg/settings"
)

type ResolvedDomain = resolvedDomain

func ResolvedDomains(dns *settings.DNSSettings) []ResolvedDomain {
	return resolvedDomains(dns)
}

func LinkWithPins(hosts ...netip.Prefix) *Link {
	l := &Link{logger: zap.NewNop()}

	for _, host := range hosts {
		l.excluded = append(l.excluded, rtnetlink.RouteMessage{
			DstLength:  uint8(host.Bits()),
			Attributes: rtnetlink.RouteAttributes{Dst: host.Addr().AsSlice()},
		})
	}

	return l
}

func (l *Link) PinnedHosts() []netip.Prefix {
	var res []netip.Prefix

	for _, msg := range l.excluded {
		res = append(res, routeDestination(msg))
	}

	return res
}

func (l *Link) HandOver(next *Link) {
	l.disown(next.excluded)
}

func (l *Link) Pinned(host netip.Prefix) bool {
	_, ok := l.pinned(host)

	return ok
}
