// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgconfig

import (
	"strconv"
	"strings"

	"github.com/siderolabs/go-pointer"

	"github.com/siderolabs/tunnelctl/pkg/wgkey"
)

type section int

const (
	noSection section = iota
	interfaceSection
	peerSection
)

// multiValueKeys may be repeated within a section; values are joined with commas.
var multiValueKeys = map[string]struct{}{
	"address":    {},
	"allowedips": {},
	"dns":        {},
}

// attributes collects the key/value lines of one section, keyed by lowercased key.
type attributes struct {
	values map[string]string
}

func (a *attributes) reset() {
	a.values = map[string]string{}
}

func (a *attributes) add(keyWithCase, value string) error {
	key := strings.ToLower(keyWithCase)

	present, ok := a.values[key]
	if !ok {
		a.values[key] = value

		return nil
	}

	if _, multi := multiValueKeys[key]; !multi {
		return &ParseError{Kind: KindMultipleEntriesForKey, Value: keyWithCase}
	}

	a.values[key] = present + "," + value

	return nil
}

// Parse reads a tunnel in the wg-quick format.
//
// Comments start with '#'. Section headers are case-insensitive, and so are keys.
func Parse(text, name string) (*Tunnel, error) {
	var (
		state  = noSection
		attrs  attributes
		iface  *Interface
		peers  []Peer
		closer = func() error {
			switch state {
			case interfaceSection:
				if iface != nil {
					return &ParseError{Kind: KindMultipleInterfaces}
				}

				i, err := collateInterface(attrs.values)
				if err != nil {
					return err
				}

				iface = &i
			case peerSection:
				p, err := collatePeer(attrs.values)
				if err != nil {
					return err
				}

				peers = append(peers, p)
			case noSection:
			}

			return nil
		}
	)

	attrs.reset()

	for _, line := range strings.FieldsFunc(text, isNewline) {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}

		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)

		switch {
		case line == "":
			continue
		case lower == "[interface]", lower == "[peer]":
			if err := closer(); err != nil {
				return nil, err
			}

			attrs.reset()

			state = peerSection
			if lower == "[interface]" {
				state = interfaceSection
			}

			continue
		}

		keyWithCase, value, found := strings.Cut(line, "=")
		if !found {
			return nil, &ParseError{Kind: KindInvalidLine, Value: line}
		}

		keyWithCase = strings.TrimSpace(keyWithCase)
		value = strings.TrimSpace(value)

		if err := checkKey(state, keyWithCase); err != nil {
			return nil, err
		}

		if err := attrs.add(keyWithCase, value); err != nil {
			return nil, err
		}
	}

	if err := closer(); err != nil {
		return nil, err
	}

	if iface == nil {
		return nil, &ParseError{Kind: KindNoInterface}
	}

	return NewTunnel(name, *iface, peers)
}

func checkKey(state section, keyWithCase string) error {
	key := strings.ToLower(keyWithCase)

	switch state {
	case noSection:
		return &ParseError{Kind: KindAttributeOutsideSection, Value: keyWithCase}
	case interfaceSection:
		switch key {
		case "privatekey", "listenport", "address", "dns", "mtu":
			return nil
		}

		if obfuscationIndex(key) >= 0 {
			return nil
		}

		return &ParseError{Kind: KindInterfaceHasUnrecognizedKey, Value: keyWithCase}
	case peerSection:
		switch key {
		case "publickey", "presharedkey", "allowedips", "endpoint", "persistentkeepalive":
			return nil
		}

		return &ParseError{Kind: KindPeerHasUnrecognizedKey, Value: keyWithCase}
	}

	return nil
}

func obfuscationIndex(key string) int {
	for i, p := range ObfuscationParams {
		if strings.EqualFold(p.Key, key) {
			return i
		}
	}

	return -1
}

func collateInterface(attrs map[string]string) (Interface, error) {
	var iface Interface

	privateKey, ok := attrs["privatekey"]
	if !ok {
		return iface, &ParseError{Kind: KindInterfaceHasNoPrivateKey}
	}

	key, err := wgkey.ParsePrivateKey(privateKey)
	if err != nil {
		return iface, &ParseError{Kind: KindInterfaceHasInvalidPrivateKey, Value: privateKey}
	}

	iface.PrivateKey = key

	if s, ok := attrs["listenport"]; ok {
		port, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return iface, &ParseError{Kind: KindInterfaceHasInvalidListenPort, Value: s}
		}

		iface.ListenPort = pointer.To(uint16(port))
	}

	for i, p := range ObfuscationParams {
		s, ok := attrs[strings.ToLower(p.Key)]
		if !ok {
			continue
		}

		v, err := strconv.ParseUint(s, 10, p.Bits)
		if err != nil {
			return iface, &ParseError{Kind: KindInterfaceHasInvalidObfuscation, Value: p.Key + " = " + s}
		}

		iface.Obfuscation.Set(i, uint32(v))
	}

	if s, ok := attrs["address"]; ok {
		for _, item := range splitList(s) {
			r, err := ParseAddressRange(item)
			if err != nil {
				return iface, &ParseError{Kind: KindInterfaceHasInvalidAddress, Value: item}
			}

			iface.Addresses = append(iface.Addresses, r)
		}
	}

	if s, ok := attrs["dns"]; ok {
		for _, item := range splitList(s) {
			if server, err := ParseDNSServer(item); err == nil {
				iface.DNS = append(iface.DNS, server)
			} else {
				iface.DNSSearch = append(iface.DNSSearch, item)
			}
		}
	}

	if s, ok := attrs["mtu"]; ok {
		mtu, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return iface, &ParseError{Kind: KindInterfaceHasInvalidMTU, Value: s}
		}

		iface.MTU = pointer.To(uint16(mtu))
	}

	return iface, nil
}

func collatePeer(attrs map[string]string) (Peer, error) {
	var peer Peer

	publicKey, ok := attrs["publickey"]
	if !ok {
		return peer, &ParseError{Kind: KindPeerHasNoPublicKey}
	}

	key, err := wgkey.ParsePublicKey(publicKey)
	if err != nil {
		return peer, &ParseError{Kind: KindPeerHasInvalidPublicKey, Value: publicKey}
	}

	peer.PublicKey = key

	if s, ok := attrs["presharedkey"]; ok {
		psk, err := wgkey.ParsePresharedKey(s)
		if err != nil {
			return peer, &ParseError{Kind: KindPeerHasInvalidPresharedKey, Value: s}
		}

		peer.PresharedKey = &psk
	}

	if s, ok := attrs["allowedips"]; ok {
		for _, item := range splitList(s) {
			r, err := ParseAddressRange(item)
			if err != nil {
				return peer, &ParseError{Kind: KindPeerHasInvalidAllowedIP, Value: item}
			}

			peer.AllowedIPs = append(peer.AllowedIPs, r)
		}
	}

	if s, ok := attrs["endpoint"]; ok {
		e, err := ParseEndpoint(s)
		if err != nil {
			return peer, &ParseError{Kind: KindPeerHasInvalidEndpoint, Value: s}
		}

		peer.Endpoint = &e
	}

	if s, ok := attrs["persistentkeepalive"]; ok {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return peer, &ParseError{Kind: KindPeerHasInvalidPersistentKeepalive, Value: s}
		}

		peer.PersistentKeepalive = pointer.To(uint16(v))
	}

	return peer, nil
}

func splitList(s string) []string {
	var res []string

	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			res = append(res, item)
		}
	}

	return res
}

func isNewline(r rune) bool {
	return r == '\n' || r == '\r'
}
