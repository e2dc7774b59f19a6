// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package events carries tunnel list and status notifications to subscribers.
package events

import (
	"fmt"
	"strings"
)

// Kind is the event type.
type Kind int

// Event kinds.
const (
	KindAdded Kind = iota + 1
	KindRemoved
	KindMoved
	KindModified
	KindStatusChanged
	KindActivationSucceeded
	KindActivationFailed
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "added"
	case KindRemoved:
		return "removed"
	case KindMoved:
		return "moved"
	case KindModified:
		return "modified"
	case KindStatusChanged:
		return "status changed"
	case KindActivationSucceeded:
		return "activation succeeded"
	case KindActivationFailed:
		return "activation failed"
	}

	return fmt.Sprintf("kind %d", int(k))
}

// Status is the observable status of a tunnel.
type Status int

// Tunnel statuses.
const (
	StatusInactive Status = iota
	StatusActivating
	StatusActive
	StatusDeactivating
	StatusReasserting
	StatusRestarting
	StatusWaiting
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActivating:
		return "activating"
	case StatusActive:
		return "active"
	case StatusDeactivating:
		return "deactivating"
	case StatusReasserting:
		return "reasserting"
	case StatusRestarting:
		return "restarting"
	case StatusWaiting:
		return "waiting"
	}

	return fmt.Sprintf("status %d", int(s))
}

// Event describes one change of the tunnel list or of a tunnel status.
//
// Index is the position in the name-sorted list after the change (before it, for KindRemoved).
// FromIndex is set for KindMoved only. Err is set for KindActivationFailed only.
type Event struct {
	Err       error
	Tunnel    string
	Kind      Kind
	Index     int
	FromIndex int
	Status    Status
}

// String implements fmt.Stringer.
func (e Event) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s %q", e.Kind, e.Tunnel)

	switch e.Kind { //nolint:exhaustive
	case KindMoved:
		fmt.Fprintf(&sb, " %d -> %d", e.FromIndex, e.Index)
	case KindStatusChanged:
		fmt.Fprintf(&sb, " -> %s", e.Status)
	case KindActivationFailed:
		fmt.Fprintf(&sb, ": %s", e.Err)
	}

	return sb.String()
}
