// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wireguard runs user-space WireGuard devices and configures their host links.
package wireguard

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/ipc"
	"golang.zx2c4.com/wireguard/tun"

	"github.com/siderolabs/tunnelctl/pkg/adapter"
)

// Backend error codes, negated errno values as in the UAPI protocol.
const (
	CodeInvalid = int32(ipc.IpcErrorInvalid)
	CodeIO      = int32(ipc.IpcErrorIO)
)

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithUAPISocket serves the UAPI socket of every device so the wg tool can inspect it.
func WithUAPISocket() BackendOption {
	return func(b *Backend) {
		b.serveUAPI = true
	}
}

// WithBind overrides the UDP bind factory.
func WithBind(newBind func() conn.Bind) BackendOption {
	return func(b *Backend) {
		b.newBind = newBind
	}
}

// Backend runs wireguard-go devices addressed by integer handles.
type Backend struct {
	logger  *zap.Logger
	newBind func() conn.Bind

	mu        sync.Mutex
	devices   map[int32]*runningDevice
	logFn     func(adapter.LogLevel, string)
	last      int32
	serveUAPI bool
}

type runningDevice struct {
	dev  *device.Device
	uapi net.Listener
	name string
	wg   sync.WaitGroup
}

// NewBackend creates a Backend.
func NewBackend(logger *zap.Logger, opts ...BackendOption) *Backend {
	b := &Backend{
		logger:  logger,
		newBind: conn.NewDefaultBind,
		devices: map[int32]*runningDevice{},
	}

	for _, o := range opts {
		o(b)
	}

	return b
}

// SetLogger routes device logs to fn instead of the backend logger.
func (b *Backend) SetLogger(fn func(adapter.LogLevel, string)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logFn = fn
}

func (b *Backend) deviceLogger() *device.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.logFn != nil {
		return callbackLogger(b.logFn)
	}

	return DeviceLogger(b.logger)
}

// TurnOn starts a device on the packet device with the UAPI configuration.
//
// It returns a positive handle, or CodeInvalid for a rejected configuration and CodeIO
// for other failures.
func (b *Backend) TurnOn(uapi string, tunDev tun.Device) int32 {
	name, err := tunDev.Name()
	if err != nil {
		b.logger.Error("error getting tun device name", zap.Error(err))

		return CodeIO
	}

	logger := b.logger.With(zap.String("interface", name))

	dev := device.NewDevice(tunDev, b.newBind(), b.deviceLogger())

	if err = dev.IpcSet(uapi); err != nil {
		logger.Error("error applying configuration", zap.Error(err))
		dev.Close()

		return CodeInvalid
	}

	if err = dev.Up(); err != nil {
		logger.Error("error bringing device up", zap.Error(err))
		dev.Close()

		return CodeIO
	}

	running := &runningDevice{dev: dev, name: name}

	if b.serveUAPI {
		running.uapi, err = UAPIOpen(name)
		if err != nil {
			logger.Warn("UAPI socket unavailable", zap.Error(err))
		} else {
			running.wg.Add(1)

			go func() {
				defer running.wg.Done()

				serveUAPI(dev, running.uapi, logger)
			}()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.last++
	b.devices[b.last] = running

	logger.Info("device up", zap.Int32("handle", b.last))

	return b.last
}

// TurnOff closes the device of the handle.
func (b *Backend) TurnOff(handle int32) {
	b.mu.Lock()
	running, ok := b.devices[handle]
	delete(b.devices, handle)
	b.mu.Unlock()

	if !ok {
		return
	}

	if running.uapi != nil {
		if err := running.uapi.Close(); err != nil {
			b.logger.Error("error closing uapi socket", zap.Error(err))
		}
	}

	running.dev.Close()
	running.wg.Wait()

	b.logger.Info("device down", zap.String("interface", running.name), zap.Int32("handle", handle))
}

// SetConfig applies UAPI configuration to a running device, returning 0 or the UAPI error code.
func (b *Backend) SetConfig(handle int32, uapi string) int64 {
	running, ok := b.get(handle)
	if !ok {
		return int64(CodeInvalid)
	}

	err := running.dev.IpcSet(uapi)
	if err == nil {
		return 0
	}

	var ipcErr *device.IPCError

	if errors.As(err, &ipcErr) {
		return ipcErr.ErrorCode()
	}

	return ipc.IpcErrorUnknown
}

// GetConfig returns the UAPI runtime configuration of a running device.
func (b *Backend) GetConfig(handle int32) (string, bool) {
	running, ok := b.get(handle)
	if !ok {
		return "", false
	}

	text, err := running.dev.IpcGet()
	if err != nil {
		b.logger.Error("error reading device configuration", zap.Error(err))

		return "", false
	}

	return text, true
}

// BumpSockets rebinds the device sockets after a network change.
func (b *Backend) BumpSockets(handle int32) {
	running, ok := b.get(handle)
	if !ok {
		return
	}

	if err := running.dev.BindUpdate(); err != nil {
		b.logger.Error("error rebinding sockets", zap.String("interface", running.name), zap.Error(err))
	}
}

// Close turns off every running device.
func (b *Backend) Close() {
	b.mu.Lock()
	handles := make([]int32, 0, len(b.devices))

	for handle := range b.devices {
		handles = append(handles, handle)
	}
	b.mu.Unlock()

	for _, handle := range handles {
		b.TurnOff(handle)
	}
}

func (b *Backend) get(handle int32) (*runningDevice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	running, ok := b.devices[handle]

	return running, ok
}

func serveUAPI(dev *device.Device, uapi net.Listener, logger *zap.Logger) {
	var wg sync.WaitGroup

	defer wg.Wait()

	for {
		unixSock, err := uapi.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		} else if err != nil {
			logger.Warn("error accepting uapi connection", zap.Error(err))

			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			dev.IpcHandle(unixSock)
		}()
	}
}
