// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package wireguard

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/netip"
	"slices"

	"github.com/jsimonetti/rtnetlink"
	"github.com/jsimonetti/rtnetlink/rtnl"
	"go.uber.org/zap"
	"go4.org/netipx"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/tunnelctl/pkg/settings"
)

// Link is a tunnel link configured on the host.
type Link struct {
	logger   *zap.Logger
	dns      *resolvedLink
	name     string
	excluded []rtnetlink.RouteMessage
}

// ConfigureLink applies the network settings to the named link.
//
// Excluded routes are pinned to the route the host uses outside the tunnel.
// DNS is configured through systemd-resolved when manageDNS is set.
//
// previous is the configuration being replaced, if any. Its pins that are still excluded
// and its DNS configuration move to the new Link, so closing previous afterwards only
// removes what the new settings dropped.
func ConfigureLink(ctx context.Context, name string, ns *settings.NetworkSettings, previous *Link, manageDNS bool, logger *zap.Logger) (*Link, error) {
	c, err := rtnl.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("error initializing netlink client: %w", err)
	}

	defer c.Close() //nolint:errcheck

	iface, err := linkByName(c, name)
	if err != nil {
		return nil, err
	}

	l := &Link{
		logger: logger.With(zap.String("interface", name)),
		name:   name,
	}

	if ns.MTU > 0 {
		if err = c.Conn.Link.Set(&rtnetlink.LinkMessage{
			Family: unix.AF_UNSPEC,
			Index:  uint32(iface.Index),
			Attributes: &rtnetlink.LinkAttributes{
				Name: name,
				MTU:  uint32(ns.MTU),
			},
		}); err != nil {
			return nil, fmt.Errorf("error setting MTU: %w", err)
		}
	}

	for _, prefix := range ns.Addresses {
		if err = c.AddrAdd(iface, netipx.PrefixIPNet(prefix)); err != nil && !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("error adding address %s: %w", prefix, err)
		}
	}

	for _, host := range ns.ExcludedRoutes {
		if err = l.pinRoute(c, iface, host, previous); err != nil {
			l.abort(ctx, previous)

			return nil, err
		}
	}

	if err = c.LinkUp(iface); err != nil {
		l.abort(ctx, previous)

		return nil, fmt.Errorf("error bringing link up: %w", err)
	}

	for _, dst := range installedRoutes(ns) {
		if err = c.RouteAdd(iface, *netipx.PrefixIPNet(dst), nil); err != nil && !errors.Is(err, fs.ErrExist) {
			l.abort(ctx, previous)

			return nil, fmt.Errorf("error adding route %s: %w", dst, err)
		}
	}

	if manageDNS && ns.DNS != nil {
		l.dns, err = configureResolved(ctx, int32(iface.Index), ns.DNS)
		if err != nil {
			l.abort(ctx, previous)

			return nil, fmt.Errorf("error configuring DNS: %w", err)
		}
	}

	if previous != nil {
		previous.disown(l.excluded)

		// the new configuration replaced the DNS settings of the same link
		if l.dns != nil && previous.dns != nil && previous.dns.ifindex == l.dns.ifindex {
			previous.dns = nil
		}
	}

	l.logger.Info("link configured",
		zap.Stringers("addresses", ns.Addresses),
		zap.Stringers("excluded_routes", ns.ExcludedRoutes),
		zap.Int("mtu", ns.MTU),
	)

	return l, nil
}

// pinRoute copies the current route towards host into a host route, so the endpoint stays
// reachable outside the tunnel.
//
// A pin already held by previous is kept as is. When the current route goes through the
// tunnel itself, the main table default route of another link is used instead.
func (l *Link) pinRoute(c *rtnl.Conn, iface *net.Interface, host netip.Prefix, previous *Link) error {
	if msg, ok := previous.pinned(host); ok {
		if err := c.Conn.Route.Replace(&msg); err != nil {
			return fmt.Errorf("error pinning route to %s: %w", host, err)
		}

		l.excluded = append(l.excluded, msg)

		return nil
	}

	family := uint8(unix.AF_INET)
	if host.Addr().Is6() {
		family = unix.AF_INET6
	}

	current, err := c.Conn.Route.Get(&rtnetlink.RouteMessage{
		Family:    family,
		DstLength: uint8(host.Bits()),
		Attributes: rtnetlink.RouteAttributes{
			Dst: host.Addr().AsSlice(),
		},
	})
	if err != nil {
		return fmt.Errorf("error looking up route to %s: %w", host, err)
	}

	if len(current) > 0 && current[0].Attributes.OutIface == uint32(iface.Index) {
		current, err = defaultRoutes(c, family, uint32(iface.Index))
		if err != nil {
			return err
		}
	}

	if len(current) == 0 {
		l.logger.Warn("no host route to endpoint", zap.Stringer("endpoint", host))

		return nil
	}

	msg := rtnetlink.RouteMessage{
		Family:    family,
		DstLength: uint8(host.Bits()),
		Table:     unix.RT_TABLE_MAIN,
		Protocol:  unix.RTPROT_BOOT,
		Scope:     unix.RT_SCOPE_UNIVERSE,
		Type:      unix.RTN_UNICAST,
		Attributes: rtnetlink.RouteAttributes{
			Dst:      host.Addr().AsSlice(),
			Gateway:  current[0].Attributes.Gateway,
			OutIface: current[0].Attributes.OutIface,
		},
	}

	if msg.Attributes.Gateway == nil {
		msg.Scope = unix.RT_SCOPE_LINK
	}

	if err = c.Conn.Route.Replace(&msg); err != nil {
		return fmt.Errorf("error pinning route to %s: %w", host, err)
	}

	l.excluded = append(l.excluded, msg)

	return nil
}

// defaultRoutes lists the main table default routes of the family that do not go out
// ifindex, lowest metric first.
func defaultRoutes(c *rtnl.Conn, family uint8, ifindex uint32) ([]rtnetlink.RouteMessage, error) {
	routes, err := c.Conn.Route.List()
	if err != nil {
		return nil, fmt.Errorf("error listing routes: %w", err)
	}

	routes = slices.DeleteFunc(routes, func(r rtnetlink.RouteMessage) bool {
		return r.Family != family || r.DstLength != 0 || r.Table != unix.RT_TABLE_MAIN || r.Attributes.OutIface == ifindex
	})

	slices.SortStableFunc(routes, func(a, b rtnetlink.RouteMessage) int {
		return cmp.Compare(a.Attributes.Priority, b.Attributes.Priority)
	})

	return routes, nil
}

// pinned returns the pin of l towards host.
func (l *Link) pinned(host netip.Prefix) (rtnetlink.RouteMessage, bool) {
	if l == nil {
		return rtnetlink.RouteMessage{}, false
	}

	for _, msg := range l.excluded {
		if routeDestination(msg) == host {
			return msg, true
		}
	}

	return rtnetlink.RouteMessage{}, false
}

// disown forgets the pins that moved to another link.
func (l *Link) disown(moved []rtnetlink.RouteMessage) {
	l.excluded = slices.DeleteFunc(l.excluded, func(msg rtnetlink.RouteMessage) bool {
		return slices.ContainsFunc(moved, func(m rtnetlink.RouteMessage) bool {
			return routeDestination(m) == routeDestination(msg)
		})
	})
}

// abort undoes a failed configuration without touching what previous still holds.
func (l *Link) abort(ctx context.Context, previous *Link) {
	if previous != nil {
		l.excluded = slices.DeleteFunc(l.excluded, func(msg rtnetlink.RouteMessage) bool {
			_, held := previous.pinned(routeDestination(msg))

			return held
		})
	}

	l.Close(ctx)
}

func routeDestination(msg rtnetlink.RouteMessage) netip.Prefix {
	addr, ok := netip.AddrFromSlice(msg.Attributes.Dst)
	if !ok {
		return netip.Prefix{}
	}

	return netip.PrefixFrom(addr.Unmap(), int(msg.DstLength))
}

// Name returns the link name.
func (l *Link) Name() string {
	return l.name
}

// Close removes the pinned routes and reverts the DNS configuration.
//
// Addresses and tunnel routes go away with the link itself.
func (l *Link) Close(ctx context.Context) {
	if l.dns != nil {
		if err := l.dns.revert(ctx); err != nil {
			l.logger.Warn("error reverting DNS configuration", zap.Error(err))
		}

		l.dns = nil
	}

	if len(l.excluded) == 0 {
		return
	}

	c, err := rtnl.Dial(nil)
	if err != nil {
		l.logger.Warn("error initializing netlink client", zap.Error(err))

		return
	}

	defer c.Close() //nolint:errcheck

	for _, msg := range l.excluded {
		if err = c.Conn.Route.Delete(&msg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("error removing pinned route", zap.Stringer("destination", net.IP(msg.Attributes.Dst)), zap.Error(err))
		}
	}

	l.excluded = nil
}

func linkByName(c *rtnl.Conn, name string) (*net.Interface, error) {
	links, err := c.Links()
	if err != nil {
		return nil, fmt.Errorf("error listing links: %w", err)
	}

	for _, link := range links {
		if link.Name == name {
			return link, nil
		}
	}

	return nil, fmt.Errorf("link %q not found", name)
}
