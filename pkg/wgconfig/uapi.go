// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgconfig

import (
	"strconv"
	"strings"
	"time"

	"github.com/siderolabs/go-pointer"

	"github.com/siderolabs/tunnelctl/pkg/wgkey"
)

// ParseUAPI reads the runtime configuration returned by the backend for a "get=1" request.
//
// The backend knows nothing about addresses, DNS or MTU, so those come from base,
// as does the tunnel name. Peer statistics are filled from the runtime counters.
func ParseUAPI(text string, base *Tunnel) (*Tunnel, error) {
	iface := base.Interface.Clone()
	iface.ListenPort = nil
	iface.Obfuscation = Obfuscation{}

	var (
		peers   []Peer
		current *Peer
	)

	flush := func() {
		if current != nil {
			peers = append(peers, *current)
			current = nil
		}
	}

	for _, line := range strings.FieldsFunc(text, isNewline) {
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, &ParseError{Kind: KindInvalidUAPI, Value: line}
		}

		if key == "public_key" {
			flush()

			pub, err := wgkey.ParsePublicKeyHex(value)
			if err != nil {
				return nil, &ParseError{Kind: KindInvalidUAPI, Value: line}
			}

			current = &Peer{PublicKey: pub}

			continue
		}

		var err error

		if current == nil {
			err = applyInterfaceUAPI(&iface, key, value)
		} else {
			err = applyPeerUAPI(current, key, value)
		}

		if err != nil {
			return nil, &ParseError{Kind: KindInvalidUAPI, Value: line}
		}
	}

	flush()

	return NewTunnel(base.Name, iface, peers)
}

func applyInterfaceUAPI(iface *Interface, key, value string) error {
	switch key {
	case "private_key":
		k, err := wgkey.ParsePrivateKeyHex(value)
		if err != nil {
			return err
		}

		iface.PrivateKey = k
	case "listen_port":
		port, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return err
		}

		if port != 0 {
			iface.ListenPort = pointer.To(uint16(port))
		}
	default:
		for i, p := range ObfuscationParams {
			if p.UAPIKey != key {
				continue
			}

			v, err := strconv.ParseUint(value, 10, p.Bits)
			if err != nil {
				return err
			}

			iface.Obfuscation.Set(i, uint32(v))
		}
	}

	// fwmark, errno and unknown keys are ignored
	return nil
}

func applyPeerUAPI(peer *Peer, key, value string) error {
	switch key {
	case "preshared_key":
		psk, err := wgkey.ParsePresharedKeyHex(value)
		if err != nil {
			return err
		}

		if !psk.IsZero() {
			peer.PresharedKey = &psk
		}
	case "endpoint":
		e, err := ParseEndpoint(value)
		if err != nil {
			return err
		}

		peer.Endpoint = &e
	case "allowed_ip":
		r, err := ParseAddressRange(value)
		if err != nil {
			return err
		}

		peer.AllowedIPs = append(peer.AllowedIPs, r)
	case "persistent_keepalive_interval":
		v, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return err
		}

		if v != 0 {
			peer.PersistentKeepalive = pointer.To(uint16(v))
		}
	case "rx_bytes", "tx_bytes":
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}

		if key == "rx_bytes" {
			peer.Stats.RxBytes = v
		} else {
			peer.Stats.TxBytes = v
		}
	case "last_handshake_time_sec":
		sec, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}

		if sec != 0 {
			peer.Stats.LastHandshake = time.Unix(sec, int64(peer.Stats.LastHandshake.Nanosecond()))
		}
	case "last_handshake_time_nsec":
		nsec, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}

		if !peer.Stats.LastHandshake.IsZero() {
			peer.Stats.LastHandshake = time.Unix(peer.Stats.LastHandshake.Unix(), nsec)
		}
	}

	return nil
}
