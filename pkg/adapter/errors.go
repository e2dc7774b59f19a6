// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package adapter

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures.
type ErrorKind int

// Adapter error kinds.
const (
	KindInvalidState ErrorKind = iota + 1
	KindDNSResolution
	KindSetNetworkSettings
	KindCannotLocateTunnelDevice
	KindStartBackend
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidState:
		return "invalid state"
	case KindDNSResolution:
		return "DNS resolution"
	case KindSetNetworkSettings:
		return "set network settings"
	case KindCannotLocateTunnelDevice:
		return "cannot locate tunnel device"
	case KindStartBackend:
		return "start backend"
	}

	return fmt.Sprintf("kind %d", int(k))
}

// Error is an adapter failure. Code is the backend error code for KindStartBackend.
type Error struct {
	Err  error
	Kind ErrorKind
	Code int32
}

// ErrInvalidState matches any invalid-state error with errors.Is.
var ErrInvalidState = &Error{Kind: KindInvalidState}

// ErrClosed is returned by operations on a closed adapter.
var ErrClosed = errors.New("adapter is closed")

// Error implements error.
func (e *Error) Error() string {
	switch {
	case e.Kind == KindStartBackend:
		return fmt.Sprintf("%s: backend error code %d", e.Kind, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches adapter errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Kind == e.Kind
}
