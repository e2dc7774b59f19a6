// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package manager

import (
	"errors"
	"fmt"
)

// Errors reported by Sessions.Start which the activation retries.
var (
	ErrConfigurationDisabled = errors.New("configuration is disabled")
	ErrConfigurationStale    = errors.New("configuration is stale")
	ErrConfigurationInvalid  = errors.New("configuration is invalid")
)

// ErrorKind classifies manager failures.
type ErrorKind int

// Manager error kinds.
const (
	KindEmptyName ErrorKind = iota + 1
	KindNameAlreadyExists
	KindSystemErrorOnListingTunnels
	KindSystemErrorOnAddTunnel
	KindSystemErrorOnModifyTunnel
	KindSystemErrorOnRemoveTunnel
	KindTunnelNotInactive
	KindAnotherTunnelOperational
	KindFailedWhileSaving
	KindFailedWhileLoading
	KindFailedWhileStarting
	KindTooManyAttempts
	KindNoInternet
)

// Error is a manager failure with enough detail for presentation.
//
// Tunnel names the tunnel the operation was about; Other names the tunnel blocking it for
// KindAnotherTunnelOperational.
type Error struct {
	Err    error
	Tunnel string
	Other  string
	Kind   ErrorKind
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Title(), e.Message(), e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Title(), e.Message())
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches manager errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Kind == e.Kind
}

// Title is a short summary of the failure.
func (e *Error) Title() string {
	switch e.Kind {
	case KindEmptyName:
		return "No name provided"
	case KindNameAlreadyExists:
		return "Name already exists"
	case KindSystemErrorOnListingTunnels:
		return "Unable to list tunnels"
	case KindSystemErrorOnAddTunnel:
		return "Unable to create tunnel"
	case KindSystemErrorOnModifyTunnel:
		return "Unable to modify tunnel"
	case KindSystemErrorOnRemoveTunnel:
		return "Unable to remove tunnel"
	case KindTunnelNotInactive, KindAnotherTunnelOperational:
		return "Activation in progress"
	case KindFailedWhileSaving, KindFailedWhileLoading, KindFailedWhileStarting, KindTooManyAttempts, KindNoInternet:
		return "Activation failure"
	}

	return "Unknown error"
}

// Message explains the failure.
func (e *Error) Message() string {
	switch e.Kind {
	case KindEmptyName:
		return "cannot create tunnel with an empty name"
	case KindNameAlreadyExists:
		return fmt.Sprintf("a tunnel named %q already exists", e.Tunnel)
	case KindSystemErrorOnListingTunnels:
		return "the tunnel profiles could not be loaded"
	case KindSystemErrorOnAddTunnel:
		return fmt.Sprintf("tunnel %q could not be saved", e.Tunnel)
	case KindSystemErrorOnModifyTunnel:
		return fmt.Sprintf("tunnel %q could not be updated", e.Tunnel)
	case KindSystemErrorOnRemoveTunnel:
		return fmt.Sprintf("tunnel %q could not be removed", e.Tunnel)
	case KindTunnelNotInactive:
		return fmt.Sprintf("tunnel %q is already active or in the process of being activated", e.Tunnel)
	case KindAnotherTunnelOperational:
		return fmt.Sprintf("tunnel %q cannot be activated while %q is operational", e.Tunnel, e.Other)
	case KindFailedWhileSaving:
		return fmt.Sprintf("tunnel %q could not be enabled", e.Tunnel)
	case KindFailedWhileLoading:
		return fmt.Sprintf("tunnel %q could not be reloaded", e.Tunnel)
	case KindFailedWhileStarting:
		return fmt.Sprintf("tunnel %q could not be started", e.Tunnel)
	case KindTooManyAttempts:
		return fmt.Sprintf("tunnel %q could not be activated after %d attempts", e.Tunnel, maxActivationAttempts)
	case KindNoInternet:
		return fmt.Sprintf("tunnel %q could not be activated, make sure you are connected to the internet", e.Tunnel)
	}

	return fmt.Sprintf("error kind %d", int(e.Kind))
}
