// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package agent

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siderolabs/gen/xslices"
	"go.uber.org/zap"
	wgtun "golang.zx2c4.com/wireguard/tun"

	"github.com/siderolabs/tunnelctl/pkg/settings"
	"github.com/siderolabs/tunnelctl/pkg/tun"
	"github.com/siderolabs/tunnelctl/pkg/wireguard"
)

// linkTimeout bounds a single link configuration round.
const linkTimeout = 30 * time.Second

// LinkConfigurator applies network settings to a named host link.
//
// previous is the configuration being replaced, or nil. It is closed once the new
// configuration is in place.
type LinkConfigurator func(ctx context.Context, name string, ns *settings.NetworkSettings, previous LinkCloser) (LinkCloser, error)

// LinkCloser undoes a link configuration.
type LinkCloser interface {
	Close(ctx context.Context)
}

// TUNCreator creates the packet device.
type TUNCreator func(name string, mtu int) (wgtun.Device, error)

// SystemLink configures links with the wireguard package.
func SystemLink(manageDNS bool, logger *zap.Logger) LinkConfigurator {
	return func(ctx context.Context, name string, ns *settings.NetworkSettings, previous LinkCloser) (LinkCloser, error) {
		prev, _ := previous.(*wireguard.Link)

		link, err := wireguard.ConfigureLink(ctx, name, ns, prev, manageDNS, logger)
		if err != nil {
			return nil, err
		}

		return link, nil
	}
}

// SystemTUN creates kernel TUN devices.
func SystemTUN(name string, mtu int) (wgtun.Device, error) {
	return wgtun.CreateTUN(name, mtu)
}

// provider is the host side of a tunnel session: it owns the TUN device and its link
// configuration.
type provider struct {
	logger      *zap.Logger
	createTUN   TUNCreator
	configure   LinkConfigurator
	reasserting func(bool)

	addrs atomic.Pointer[[]netip.Addr]

	mu   sync.Mutex
	dev  *tun.Device
	link LinkCloser
	name string
}

func newProvider(name string, createTUN TUNCreator, configure LinkConfigurator, reasserting func(bool), logger *zap.Logger) *provider {
	p := &provider{
		logger:      logger,
		createTUN:   createTUN,
		configure:   configure,
		reasserting: reasserting,
		name:        name,
	}

	p.addrs.Store(&[]netip.Addr{})

	return p
}

// acceptInput keeps only the packets addressed to the current interface addresses.
func (p *provider) acceptInput(h tun.PacketHeader) bool {
	return tun.FilterAllExcept(*p.addrs.Load()...)(h)
}

// TunDevice implements adapter.Provider.
func (p *provider) TunDevice() (wgtun.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dev == nil || p.dev.IsClosed() {
		return nil, errors.New("tunnel device is not configured")
	}

	return p.dev, nil
}

// SetNetworkSettings implements adapter.Provider.
func (p *provider) SetNetworkSettings(ns *settings.NetworkSettings, done func(error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), linkTimeout)
		defer cancel()

		done(p.apply(ctx, ns))
	}()
}

func (p *provider) apply(ctx context.Context, ns *settings.NetworkSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	addrs := xslices.Map(ns.Addresses, netip.Prefix.Addr)
	p.addrs.Store(&addrs)

	if p.dev == nil || p.dev.IsClosed() {
		dev, err := p.createTUN(p.name, ns.MTU)
		if err != nil {
			return fmt.Errorf("error creating tun device: %w", err)
		}

		p.dev = tun.Wrap(dev, p.acceptInput)
	}

	name, err := p.dev.Name()
	if err != nil {
		return fmt.Errorf("error getting tun device name: %w", err)
	}

	link, err := p.configure(ctx, name, ns, p.link)
	if err != nil {
		return err
	}

	// the new configuration is in place before the old one is undone
	if p.link != nil {
		p.link.Close(ctx)
	}

	p.link = link

	p.logger.Debug("network settings applied", zap.String("interface", name))

	return nil
}

// SetReasserting implements adapter.Provider.
func (p *provider) SetReasserting(reasserting bool) {
	p.logger.Debug("reasserting", zap.Bool("reasserting", reasserting))

	if p.reasserting != nil {
		p.reasserting(reasserting)
	}
}

// Close reverts the link configuration and closes the device.
func (p *provider) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.link != nil {
		p.link.Close(ctx)
		p.link = nil
	}

	if p.dev != nil {
		if err := p.dev.Close(); err != nil {
			p.logger.Warn("error closing tun device", zap.Error(err))
		}

		p.dev = nil
	}
}
