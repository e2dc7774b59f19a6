// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package settings derives the backend UAPI configuration and the host network
// settings from a tunnel configuration.
package settings

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/siderolabs/gen/xslices"

	"github.com/siderolabs/tunnelctl/pkg/iter"
	"github.com/siderolabs/tunnelctl/pkg/wgconfig"
)

// TunnelRemoteAddress is reported to the host as the tunnel's remote address.
const TunnelRemoteAddress = "127.0.0.1"

// ErrUnresolvedEndpoint is returned when a hostname endpoint reaches UAPI generation.
var ErrUnresolvedEndpoint = errors.New("endpoint is not resolved")

// Generator renders one snapshot of a tunnel and its resolved endpoints.
type Generator struct {
	tunnel    *wgconfig.Tunnel
	endpoints []*wgconfig.Endpoint
	platform  Platform
}

// New creates a Generator. endpoints must be parallel to the tunnel's peers.
func New(tunnel *wgconfig.Tunnel, endpoints []*wgconfig.Endpoint, platform Platform) (*Generator, error) {
	if len(endpoints) != len(tunnel.Peers) {
		return nil, fmt.Errorf("got %d resolved endpoints for %d peers", len(endpoints), len(tunnel.Peers))
	}

	return &Generator{
		tunnel:    tunnel,
		endpoints: endpoints,
		platform:  platform,
	}, nil
}

// Tunnel returns the configuration the generator was created for.
func (g *Generator) Tunnel() *wgconfig.Tunnel {
	return g.tunnel
}

// Platform returns the platform the generator was created for.
func (g *Generator) Platform() Platform {
	return g.platform
}

// UAPIConfiguration returns the full backend configuration, replacing all peers and
// their allowed IPs.
func (g *Generator) UAPIConfiguration() (string, error) {
	var sb strings.Builder

	iface := &g.tunnel.Interface

	writeKV(&sb, "private_key", iface.PrivateKey.Hex())

	if iface.ListenPort != nil {
		writeKV(&sb, "listen_port", strconv.Itoa(int(*iface.ListenPort)))
	}

	for i, p := range wgconfig.ObfuscationParams {
		if v, ok := iface.Obfuscation.Get(i); ok {
			writeKV(&sb, p.UAPIKey, strconv.FormatUint(uint64(v), 10))
		}
	}

	if len(g.tunnel.Peers) > 0 {
		writeKV(&sb, "replace_peers", "true")
	}

	for i, peer := range g.tunnel.Peers {
		writeKV(&sb, "public_key", peer.PublicKey.Hex())

		if peer.PresharedKey != nil {
			writeKV(&sb, "preshared_key", peer.PresharedKey.Hex())
		}

		if err := g.writeEndpoint(&sb, i); err != nil {
			return "", err
		}

		keepalive := 0
		if peer.PersistentKeepalive != nil {
			keepalive = int(*peer.PersistentKeepalive)
		}

		writeKV(&sb, "persistent_keepalive_interval", strconv.Itoa(keepalive))

		if len(peer.AllowedIPs) > 0 {
			writeKV(&sb, "replace_allowed_ips", "true")

			for _, r := range peer.AllowedIPs {
				writeKV(&sb, "allowed_ip", r.String())
			}
		}
	}

	return sb.String(), nil
}

// EndpointUAPIConfiguration returns only the peer endpoints, for reachability changes
// which leave the topology intact.
func (g *Generator) EndpointUAPIConfiguration() (string, error) {
	var sb strings.Builder

	for i, peer := range g.tunnel.Peers {
		writeKV(&sb, "public_key", peer.PublicKey.Hex())

		if err := g.writeEndpoint(&sb, i); err != nil {
			return "", err
		}
	}

	return sb.String(), nil
}

func (g *Generator) writeEndpoint(sb *strings.Builder, i int) error {
	e := g.endpoints[i]
	if e == nil {
		return nil
	}

	if !e.IsResolved() {
		return fmt.Errorf("peer %s: %w: %s", g.tunnel.Peers[i].PublicKey, ErrUnresolvedEndpoint, e)
	}

	writeKV(sb, "endpoint", e.String())

	return nil
}

func writeKV(sb *strings.Builder, key, value string) {
	sb.WriteString(key)
	sb.WriteByte('=')
	sb.WriteString(value)
	sb.WriteByte('\n')
}

// Route is an included route; Gateway is invalid for routes without one.
type Route struct {
	Destination netip.Prefix
	Gateway     netip.Addr
}

// String implements fmt.Stringer.
func (r Route) String() string {
	if !r.Gateway.IsValid() {
		return r.Destination.String()
	}

	return r.Destination.String() + " via " + r.Gateway.String()
}

// DNSSettings are the resolver settings of the tunnel.
type DNSSettings struct {
	Servers       []netip.Addr
	SearchDomains []string

	// MatchDomains lists the domains resolved through the tunnel; [""] matches all.
	MatchDomains []string
}

// MatchAll reports whether all name resolution goes through the tunnel.
func (d *DNSSettings) MatchAll() bool {
	return slices.Contains(d.MatchDomains, "")
}

// NetworkSettings are applied to the host before the backend starts.
//
//nolint:govet
type NetworkSettings struct {
	TunnelRemoteAddress string

	// Addresses are the interface addresses, unmasked, with the prefix of the assigned subnet.
	Addresses []netip.Prefix
	Routes    []Route
	// ExcludedRoutes are the resolved peer endpoints, which must keep using the host routes.
	ExcludedRoutes []netip.Prefix
	DNS            *DNSSettings
	MTU            int
}

// NetworkSettings derives the host network settings.
func (g *Generator) NetworkSettings() *NetworkSettings {
	iface := &g.tunnel.Interface

	ns := &NetworkSettings{
		TunnelRemoteAddress: TunnelRemoteAddress,
		Addresses:           xslices.Map(iface.Addresses, g.assignment),
		MTU:                 g.platform.DefaultMTU,
	}

	if iface.MTU != nil && *iface.MTU != 0 {
		ns.MTU = int(*iface.MTU)
	}

	if len(iface.DNS) > 0 || len(iface.DNSSearch) > 0 {
		ns.DNS = &DNSSettings{
			Servers:       xslices.Map(iface.DNS, func(s wgconfig.DNSServer) netip.Addr { return s.Addr }),
			SearchDomains: slices.Clone(iface.DNSSearch),
		}

		if len(iface.DNS) > 0 {
			ns.DNS.MatchDomains = []string{""}
		}
	}

	interfaceRoutes := xslices.Map(iface.Addresses, func(r wgconfig.AddressRange) Route {
		return Route{
			Destination: netip.PrefixFrom(r.MaskedAddress(), r.Bits()),
			Gateway:     r.Addr(),
		}
	})

	var peerRoutes []Route

	for _, peer := range g.tunnel.Peers {
		for _, r := range peer.AllowedIPs {
			peerRoutes = append(peerRoutes, Route{Destination: r.Prefix()})
		}
	}

	ns.Routes = slices.Collect(iter.Unique(iter.Concat(interfaceRoutes, peerRoutes), func(r Route) Route { return r }))

	for _, e := range g.endpoints {
		if e == nil {
			continue
		}

		addr, ok := e.Addr()
		if !ok {
			continue
		}

		host := netip.PrefixFrom(addr, addr.BitLen())

		if !slices.Contains(ns.ExcludedRoutes, host) {
			ns.ExcludedRoutes = append(ns.ExcludedRoutes, host)
		}
	}

	return ns
}

func (g *Generator) assignment(r wgconfig.AddressRange) netip.Prefix {
	bits := r.Bits()

	if !r.Is4() && g.platform.MaxIPv6PrefixLength > 0 {
		bits = min(bits, g.platform.MaxIPv6PrefixLength)
	}

	return netip.PrefixFrom(r.Addr(), bits)
}
