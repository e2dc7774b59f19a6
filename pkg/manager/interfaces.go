// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package manager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/siderolabs/tunnelctl/pkg/events"
	"github.com/siderolabs/tunnelctl/pkg/profilestore"
)

// ProfileStore persists tunnel profiles.
type ProfileStore interface {
	LoadAll(ctx context.Context) ([]*profilestore.Profile, error)
	// Save stores the profile and advances its generation in place.
	Save(ctx context.Context, p *profilestore.Profile) error
	Remove(ctx context.Context, id uuid.UUID) error
	Reload(ctx context.Context, id uuid.UUID) (*profilestore.Profile, error)
}

// CredentialStore keeps configuration blobs behind opaque references.
type CredentialStore interface {
	Put(name string, blob []byte) (ref string, err error)
	Open(ref string) ([]byte, error)
	Delete(ref string) error
	Verify(ref string) bool
}

// Connectivity reports whether the host has any usable network.
type Connectivity interface {
	IsReachable(ctx context.Context) bool
}

// SessionStatus is the connection status reported by a tunnel session.
type SessionStatus int

// Session statuses.
const (
	SessionInvalid SessionStatus = iota
	SessionDisconnected
	SessionConnecting
	SessionConnected
	SessionReasserting
	SessionDisconnecting
)

// String implements fmt.Stringer.
func (s SessionStatus) String() string {
	switch s {
	case SessionInvalid:
		return "invalid"
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionReasserting:
		return "reasserting"
	case SessionDisconnecting:
		return "disconnecting"
	}

	return fmt.Sprintf("session status %d", int(s))
}

// TunnelStatus maps the session status onto the tunnel status.
func (s SessionStatus) TunnelStatus() events.Status {
	switch s {
	case SessionConnecting:
		return events.StatusActivating
	case SessionConnected:
		return events.StatusActive
	case SessionReasserting:
		return events.StatusReasserting
	case SessionDisconnecting:
		return events.StatusDeactivating
	case SessionInvalid, SessionDisconnected:
	}

	return events.StatusInactive
}

// SessionEvent is a status change of the session of profile ID.
type SessionEvent struct {
	ID     uuid.UUID
	Status SessionStatus
}

// Sessions runs tunnel sessions.
type Sessions interface {
	// Start brings the session of the profile up. It returns ErrConfigurationDisabled,
	// ErrConfigurationStale or ErrConfigurationInvalid for the conditions the caller can fix.
	Start(ctx context.Context, p *profilestore.Profile) error
	// Stop requests the session to go down; completion is reported through Events.
	Stop(id uuid.UUID)
	Events() <-chan SessionEvent
}
