// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgconfig

import (
	"fmt"
	"strings"

	"github.com/siderolabs/gen/xslices"
)

// Serialize writes the tunnel in the wg-quick format.
//
// The output parses back into an equal tunnel.
func (t *Tunnel) Serialize() string {
	var sb strings.Builder

	iface := &t.Interface

	sb.WriteString("[Interface]\n")
	fmt.Fprintf(&sb, "PrivateKey = %s\n", iface.PrivateKey.Base64())

	if iface.ListenPort != nil {
		fmt.Fprintf(&sb, "ListenPort = %d\n", *iface.ListenPort)
	}

	for i, p := range ObfuscationParams {
		if v, ok := iface.Obfuscation.Get(i); ok {
			fmt.Fprintf(&sb, "%s = %d\n", p.Key, v)
		}
	}

	if len(iface.Addresses) > 0 {
		fmt.Fprintf(&sb, "Address = %s\n", joinStrings(iface.Addresses))
	}

	if len(iface.DNS)+len(iface.DNSSearch) > 0 {
		dns := append(xslices.Map(iface.DNS, DNSServer.String), iface.DNSSearch...)

		fmt.Fprintf(&sb, "DNS = %s\n", strings.Join(dns, ", "))
	}

	if iface.MTU != nil {
		fmt.Fprintf(&sb, "MTU = %d\n", *iface.MTU)
	}

	for _, peer := range t.Peers {
		sb.WriteString("\n[Peer]\n")
		fmt.Fprintf(&sb, "PublicKey = %s\n", peer.PublicKey.Base64())

		if peer.PresharedKey != nil {
			fmt.Fprintf(&sb, "PresharedKey = %s\n", peer.PresharedKey.Base64())
		}

		if len(peer.AllowedIPs) > 0 {
			fmt.Fprintf(&sb, "AllowedIPs = %s\n", joinStrings(peer.AllowedIPs))
		}

		if peer.Endpoint != nil {
			fmt.Fprintf(&sb, "Endpoint = %s\n", peer.Endpoint)
		}

		if peer.PersistentKeepalive != nil {
			fmt.Fprintf(&sb, "PersistentKeepalive = %d\n", *peer.PersistentKeepalive)
		}
	}

	return sb.String()
}

func joinStrings[T fmt.Stringer](items []T) string {
	return strings.Join(xslices.Map(items, func(item T) string { return item.String() }), ", ")
}
