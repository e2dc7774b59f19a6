// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package wireguard

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/tunnelctl/pkg/settings"
)

const (
	resolvedDest = "org.freedesktop.resolve1"
	resolvedPath = dbus.ObjectPath("/org/freedesktop/resolve1")

	resolvedManager = "org.freedesktop.resolve1.Manager."
)

type resolvedAddress struct {
	Family  int32
	Address []byte
}

type resolvedDomain struct {
	Domain      string
	RoutingOnly bool
}

// resolvedLink is the per-link configuration of systemd-resolved.
type resolvedLink struct {
	ifindex int32
}

// resolvedDomains lists search domains followed by routing-only match domains.
func resolvedDomains(dns *settings.DNSSettings) []resolvedDomain {
	domains := make([]resolvedDomain, 0, len(dns.SearchDomains)+len(dns.MatchDomains))

	for _, domain := range dns.SearchDomains {
		domains = append(domains, resolvedDomain{Domain: domain})
	}

	for _, domain := range dns.MatchDomains {
		if domain == "" {
			domain = "."
		}

		domains = append(domains, resolvedDomain{Domain: domain, RoutingOnly: true})
	}

	return domains
}

func configureResolved(ctx context.Context, ifindex int32, dns *settings.DNSSettings) (*resolvedLink, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error connecting to system bus: %w", err)
	}

	defer conn.Close() //nolint:errcheck

	obj := conn.Object(resolvedDest, resolvedPath)

	servers := make([]resolvedAddress, 0, len(dns.Servers))

	for _, addr := range dns.Servers {
		family := int32(unix.AF_INET)
		if addr.Is6() {
			family = unix.AF_INET6
		}

		servers = append(servers, resolvedAddress{Family: family, Address: addr.AsSlice()})
	}

	calls := []struct {
		method string
		args   []any
	}{
		{"SetLinkDNS", []any{ifindex, servers}},
		{"SetLinkDomains", []any{ifindex, resolvedDomains(dns)}},
		{"SetLinkDefaultRoute", []any{ifindex, dns.MatchAll()}},
	}

	link := &resolvedLink{ifindex: ifindex}

	for _, call := range calls {
		if err = obj.CallWithContext(ctx, resolvedManager+call.method, 0, call.args...).Err; err != nil {
			link.revert(ctx) //nolint:errcheck

			return nil, fmt.Errorf("error calling %s: %w", call.method, err)
		}
	}

	return link, nil
}

func (l *resolvedLink) revert(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error connecting to system bus: %w", err)
	}

	defer conn.Close() //nolint:errcheck

	return conn.Object(resolvedDest, resolvedPath).CallWithContext(ctx, resolvedManager+"RevertLink", 0, l.ifindex).Err
}
