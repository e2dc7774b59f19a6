// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package netmon watches host network reachability.
package netmon

import (
	"context"
	"net/netip"
	"slices"
	"strings"

	"github.com/siderolabs/tunnelctl/pkg/iter"
)

// Status is the reachability of a network path.
type Status int

// Path statuses.
const (
	StatusUnsatisfied Status = iota
	StatusSatisfied
	StatusRequiresConnection
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusUnsatisfied:
		return "unsatisfied"
	case StatusSatisfied:
		return "satisfied"
	case StatusRequiresConnection:
		return "requires connection"
	}

	return "unknown"
}

// Path is a snapshot of the host's usable network interfaces.
type Path struct {
	Status Status

	// Interfaces are the names of usable interfaces, sorted.
	Interfaces []string
}

// Viable reports whether traffic may flow, possibly after connecting on demand.
func (p Path) Viable() bool {
	return p.Status == StatusSatisfied || p.Status == StatusRequiresConnection
}

// Equal compares paths.
func (p Path) Equal(other Path) bool {
	return p.Status == other.Status && slices.Equal(p.Interfaces, other.Interfaces)
}

// String implements fmt.Stringer.
func (p Path) String() string {
	return p.Status.String() + " [" + strings.Join(p.Interfaces, " ") + "]"
}

// link is one interface address seen in a snapshot.
type link struct {
	name string
	addr netip.Addr
	up   bool
}

// usable reports whether the address can carry traffic to the internet.
func (l link) usable() bool {
	return l.up && l.addr.IsGlobalUnicast() && !l.addr.IsLinkLocalUnicast()
}

func pathFromLinks(links []link, exclude []string) Path {
	usable := slices.Collect(iter.Filter(slices.Values(links), func(l link) bool {
		return l.usable() && !slices.Contains(exclude, l.name)
	}))

	slices.SortFunc(usable, func(a, b link) int { return strings.Compare(a.name, b.name) })

	var p Path

	for l := range iter.Deduplicate(usable, func(a, b link) bool { return a.name == b.name }) {
		p.Interfaces = append(p.Interfaces, l.name)
	}

	if len(p.Interfaces) > 0 {
		p.Status = StatusSatisfied
	}

	return p
}

// Connectivity answers whether the host has a usable network path at all.
type Connectivity struct {
	// Exclude lists interfaces which don't count, e.g. the tunnel itself.
	Exclude []string
}

// IsReachable reports whether the current path is viable.
func (c *Connectivity) IsReachable(ctx context.Context) bool {
	p, err := Snapshot(ctx, c.Exclude)

	return err == nil && p.Viable()
}
