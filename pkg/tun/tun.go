// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package tun wraps the wireguard-go packet device with inbound filters and close tracking.
package tun

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync/atomic"

	"golang.zx2c4.com/wireguard/tun"
)

const (
	ipv4HeaderLen = 20
	ipv6HeaderLen = 40
)

// PacketHeader is the part of an IP header the filters look at.
type PacketHeader struct {
	SourceAddr      netip.Addr
	DestinationAddr netip.Addr
	Version         uint8
	Protocol        uint8
}

// InputPacketFilter reports whether a packet delivered to the host should be dropped.
type InputPacketFilter func(PacketHeader) bool

// FilterAllExcept drops packets not addressed to one of addrs.
func FilterAllExcept(addrs ...netip.Addr) InputPacketFilter {
	return func(p PacketHeader) bool {
		return !slices.Contains(addrs, p.DestinationAddr)
	}
}

// Device wraps a wireguard-go tun device.
type Device struct {
	tun.Device
	InputPacketFilters []InputPacketFilter

	closed atomic.Bool
}

// CreateTUN creates a Device with the provided name and MTU.
func CreateTUN(iface string, mtu int, packetFilters ...InputPacketFilter) (*Device, error) {
	dev, err := tun.CreateTUN(iface, mtu)
	if err != nil {
		return nil, fmt.Errorf("error creating tun device: %w", err)
	}

	return Wrap(dev, packetFilters...), nil
}

// Wrap adds filters to an existing device.
func Wrap(dev tun.Device, packetFilters ...InputPacketFilter) *Device {
	return &Device{Device: dev, InputPacketFilters: packetFilters}
}

// Write one or more packets to the device, dropping the ones a filter rejects.
func (d *Device) Write(bufs [][]byte, offset int) (int, error) {
	if len(d.InputPacketFilters) == 0 {
		return d.Device.Write(bufs, offset)
	}

	result := make([][]byte, 0, len(bufs))

	for _, buf := range bufs {
		packet, err := DecodePacketHeader(buf[offset:])
		if err != nil {
			continue
		}

		if !slices.ContainsFunc(d.InputPacketFilters, func(filter InputPacketFilter) bool { return filter(packet) }) {
			result = append(result, buf)
		}
	}

	if len(result) == 0 {
		return len(bufs), nil
	}

	if _, err := d.Device.Write(result, offset); err != nil {
		return 0, err
	}

	return len(bufs), nil
}

// Close closes the underlying device once.
func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}

	return d.Device.Close()
}

// IsClosed reports whether Close was called.
func (d *Device) IsClosed() bool {
	return d.closed.Load()
}

// DecodePacketHeader decodes the addresses of an IPv4 or IPv6 packet.
func DecodePacketHeader(data []byte) (PacketHeader, error) {
	if len(data) == 0 {
		return PacketHeader{}, errors.New("empty packet")
	}

	var (
		header PacketHeader
		ok     bool
	)

	header.Version = data[0] >> 4

	switch header.Version {
	case 4:
		if len(data) < ipv4HeaderLen {
			return header, errors.New("packet too short to be a valid IPv4 header")
		}

		header.Protocol = data[9]
		header.SourceAddr, ok = netip.AddrFromSlice(data[12:16])
		if ok {
			header.DestinationAddr, ok = netip.AddrFromSlice(data[16:20])
		}
	case 6:
		if len(data) < ipv6HeaderLen {
			return header, errors.New("packet too short to be a valid IPv6 header")
		}

		header.Protocol = data[6]
		header.SourceAddr, ok = netip.AddrFromSlice(data[8:24])
		if ok {
			header.DestinationAddr, ok = netip.AddrFromSlice(data[24:40])
		}
	default:
		return header, fmt.Errorf("invalid packet version %d", header.Version)
	}

	if !ok {
		return header, errors.New("failed to decode packet addresses")
	}

	return header, nil
}
