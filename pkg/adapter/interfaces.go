// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package adapter

import (
	"golang.zx2c4.com/wireguard/tun"

	"github.com/siderolabs/tunnelctl/pkg/netmon"
	"github.com/siderolabs/tunnelctl/pkg/settings"
)

// LogLevel is the severity of a backend log line.
type LogLevel int

// Backend log levels.
const (
	LogLevelVerbose LogLevel = iota
	LogLevelError
)

// Backend is the packet-forwarding engine, configured with UAPI text.
//
// Handles are positive; TurnOn returns a negative error code on failure.
type Backend interface {
	TurnOn(uapi string, dev tun.Device) int32
	TurnOff(handle int32)
	SetConfig(handle int32, uapi string) int64
	GetConfig(handle int32) (string, bool)
	BumpSockets(handle int32)
	SetLogger(fn func(level LogLevel, msg string))
}

// Provider is the host side of the tunnel: the packet I/O device and the OS network settings.
type Provider interface {
	// TunDevice returns the device the backend reads and writes packets on.
	TunDevice() (tun.Device, error)

	// SetNetworkSettings applies ns and calls done once applied. done may never be called.
	SetNetworkSettings(ns *settings.NetworkSettings, done func(error))

	// SetReasserting flags a reconnect in progress.
	SetReasserting(reasserting bool)
}

// PathMonitor reports network path changes.
type PathMonitor interface {
	Start(handler func(netmon.Path))
	Cancel()
}
