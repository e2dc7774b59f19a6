// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgconfig_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/siderolabs/gen/ensure"
	"github.com/siderolabs/gen/xtesting/check"
	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/tunnelctl/pkg/wgconfig"
	"github.com/siderolabs/tunnelctl/pkg/wgkey"
)

const (
	privateKey   = "WABuqVKiKk6vQWdaFWxsTQaJpnMdJQgXEb6LPDO4ME4="
	publicKey1   = "+NBLoj9UNT0Wc5lLpV4wxsRYpOKUkkoXEGOFVBhqTkE="
	publicKey2   = "AP8+zHSoAOH48W5y7v0aRJ8+RQGIaMVm73gNm+re2Xk="
	presharedKey = "iLdM2C53R4i5wc9w5X3owsuhTQ9gtWOxA9VslV1r61s="

	privateKeyHex   = "58006ea952a22a4eaf41675a156c6c4d0689a6731d25081711be8b3c33b8304e"
	publicKey1Hex   = "f8d04ba23f54353d1673994ba55e30c6c458a4e294924a1710638554186a4e41"
	presharedKeyHex = "88b74cd82e774788b9c1cf70e57de8c2cba14d0f60b563b103d56c955d6beb5b"
)

const simpleConfig = `[Interface]
PrivateKey = ` + privateKey + `
Address = 10.0.0.2/32

[Peer]
PublicKey = ` + publicKey1 + `
AllowedIPs = 0.0.0.0/0, ::/0
Endpoint = 203.0.113.1:51820
`

const fullConfig = `[Interface]
PrivateKey = ` + privateKey + `
ListenPort = 51820
Jc = 4
Jmin = 40
Jmax = 70
S1 = 0
H1 = 1234567890
H4 = 4294967295
Address = 10.0.0.2/24, fd00::2/64
DNS = 1.1.1.1, 2606:4700:4700::1111, example.com
MTU = 1380

[Peer]
PublicKey = ` + publicKey1 + `
PresharedKey = ` + presharedKey + `
AllowedIPs = 0.0.0.0/0, ::/0
Endpoint = [2001:db8::1]:51820
PersistentKeepalive = 25

[Peer]
PublicKey = ` + publicKey2 + `
AllowedIPs = 192.168.10.0/24
Endpoint = vpn.example.com:443
`

func TestParseSimple(t *testing.T) {
	t.Parallel()

	tunnel, err := wgconfig.Parse(simpleConfig, "simple")
	require.NoError(t, err)

	assert.Equal(t, "simple", tunnel.Name)
	assert.Equal(t, privateKey, tunnel.Interface.PrivateKey.Base64())
	assert.Equal(t, []wgconfig.AddressRange{wgconfig.MustParseAddressRange("10.0.0.2/32")}, tunnel.Interface.Addresses)
	assert.Empty(t, tunnel.Interface.DNS)
	assert.Empty(t, tunnel.Interface.DNSSearch)
	assert.Nil(t, tunnel.Interface.MTU)
	assert.Nil(t, tunnel.Interface.ListenPort)
	assert.True(t, tunnel.Interface.Obfuscation.IsZero())

	require.Len(t, tunnel.Peers, 1)

	peer := tunnel.Peers[0]
	assert.Equal(t, publicKey1, peer.PublicKey.Base64())
	assert.Nil(t, peer.PresharedKey)
	assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, stringsOf(peer.AllowedIPs))
	require.NotNil(t, peer.Endpoint)
	assert.True(t, peer.Endpoint.IsResolved())
	assert.Equal(t, "203.0.113.1:51820", peer.Endpoint.String())
	assert.Nil(t, peer.PersistentKeepalive)

	assert.Equal(t, simpleConfig, tunnel.Serialize())
}

func TestParseFull(t *testing.T) {
	t.Parallel()

	tunnel, err := wgconfig.Parse(fullConfig, "full")
	require.NoError(t, err)

	iface := tunnel.Interface
	assert.Equal(t, pointer.To[uint16](51820), iface.ListenPort)
	assert.Equal(t, pointer.To[uint16](1380), iface.MTU)
	assert.Equal(t, []string{"10.0.0.2/24", "fd00::2/64"}, stringsOf(iface.Addresses))
	assert.Equal(t, []string{"1.1.1.1", "2606:4700:4700::1111"}, stringsOf(iface.DNS))
	assert.Equal(t, []string{"example.com"}, iface.DNSSearch)
	assert.Equal(t, pointer.To[uint16](4), iface.Obfuscation.JunkPacketCount)
	assert.Equal(t, pointer.To[uint16](0), iface.Obfuscation.InitPacketJunkSize)
	assert.Nil(t, iface.Obfuscation.ResponsePacketJunkSize)
	assert.Equal(t, pointer.To[uint32](4294967295), iface.Obfuscation.TransportPacketMagicHeader)

	require.Len(t, tunnel.Peers, 2)
	assert.Equal(t, presharedKey, tunnel.Peers[0].PresharedKey.Base64())
	assert.Equal(t, pointer.To[uint16](25), tunnel.Peers[0].PersistentKeepalive)
	assert.Equal(t, "[2001:db8::1]:51820", tunnel.Peers[0].Endpoint.String())
	assert.False(t, tunnel.Peers[1].Endpoint.IsResolved())

	assert.Equal(t, fullConfig, tunnel.Serialize())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for name, text := range map[string]string{
		"simple": simpleConfig,
		"full":   fullConfig,
		"messy": "# exported\n[interface]\r\nprivatekey=" + privateKey + "   # inline\n" +
			"address = 10.0.0.1/24,,  10.0.0.2/24\n\n[PEER]\npublickey = " + publicKey1 + "\n",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tunnel := ensure.Value(wgconfig.Parse(text, name))
			serialized := tunnel.Serialize()

			reparsed, err := wgconfig.Parse(serialized, name)
			require.NoError(t, err)

			assert.True(t, tunnel.Equal(reparsed))
			assert.Equal(t, serialized, reparsed.Serialize())
		})
	}
}

func TestParseMultiValued(t *testing.T) {
	t.Parallel()

	tunnel, err := wgconfig.Parse(`[Interface]
PrivateKey = `+privateKey+`
Address = 10.0.0.1/24
Address = 10.0.0.2/24
DNS = 1.1.1.1
DNS = example.com
`, "multi")
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.1/24", "10.0.0.2/24"}, stringsOf(tunnel.Interface.Addresses))
	assert.Equal(t, []string{"1.1.1.1"}, stringsOf(tunnel.Interface.DNS))
	assert.Equal(t, []string{"example.com"}, tunnel.Interface.DNSSearch)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	iface := "[Interface]\nPrivateKey = " + privateKey + "\n"

	for name, test := range map[string]struct {
		text  string
		check check.Check
	}{
		"empty": {
			text:  "",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindNoInterface}),
		},
		"invalid line": {
			text:  iface + "garbage\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindInvalidLine, Value: "garbage"}),
		},
		"outside section": {
			text:  "PrivateKey = " + privateKey + "\n" + iface,
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindAttributeOutsideSection, Value: "PrivateKey"}),
		},
		"unknown interface key": {
			text:  iface + "Table = off\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindInterfaceHasUnrecognizedKey, Value: "Table"}),
		},
		"unknown peer key": {
			text:  iface + "[Peer]\nPublicKey = " + publicKey1 + "\nPostUp = true\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindPeerHasUnrecognizedKey, Value: "PostUp"}),
		},
		"duplicate mtu": {
			text:  iface + "MTU = 1\nMTU = 2\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindMultipleEntriesForKey, Value: "MTU"}),
		},
		"multiple interfaces": {
			text:  iface + iface,
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindMultipleInterfaces}),
		},
		"no private key": {
			text:  "[Interface]\nAddress = 10.0.0.1/32\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindInterfaceHasNoPrivateKey}),
		},
		"invalid private key": {
			text:  "[Interface]\nPrivateKey = AAAA\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindInterfaceHasInvalidPrivateKey, Value: "AAAA"}),
		},
		"invalid listen port": {
			text:  iface + "ListenPort = 70000\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindInterfaceHasInvalidListenPort, Value: "70000"}),
		},
		"invalid address": {
			text:  iface + "Address = 10.0.0.1/24, 10.0.0.300\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindInterfaceHasInvalidAddress, Value: "10.0.0.300"}),
		},
		"invalid mtu": {
			text:  iface + "MTU = -1\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindInterfaceHasInvalidMTU, Value: "-1"}),
		},
		"invalid obfuscation": {
			text:  iface + "Jc = 65536\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindInterfaceHasInvalidObfuscation}),
		},
		"no public key": {
			text:  iface + "[Peer]\nAllowedIPs = 0.0.0.0/0\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindPeerHasNoPublicKey}),
		},
		"invalid public key": {
			text:  iface + "[Peer]\nPublicKey = " + publicKey1[1:] + "\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindPeerHasInvalidPublicKey}),
		},
		"invalid preshared key": {
			text:  iface + "[Peer]\nPublicKey = " + publicKey1 + "\nPresharedKey = x\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindPeerHasInvalidPresharedKey, Value: "x"}),
		},
		"invalid allowed ip": {
			text:  iface + "[Peer]\nPublicKey = " + publicKey1 + "\nAllowedIPs = 0.0.0.0/0, fe80::1%eth0\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindPeerHasInvalidAllowedIP, Value: "fe80::1%eth0"}),
		},
		"invalid endpoint": {
			text:  iface + "[Peer]\nPublicKey = " + publicKey1 + "\nEndpoint = example.com\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindPeerHasInvalidEndpoint, Value: "example.com"}),
		},
		"invalid keepalive": {
			text:  iface + "[Peer]\nPublicKey = " + publicKey1 + "\nPersistentKeepalive = off\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindPeerHasInvalidPersistentKeepalive, Value: "off"}),
		},
		"duplicate peers": {
			text: iface +
				"[Peer]\nPublicKey = " + publicKey1 + "\nAllowedIPs = 10.0.0.0/8\n" +
				"[Peer]\nPublicKey = " + publicKey1 + "\nEndpoint = 1.2.3.4:5\n",
			check: check.ErrorIs(&wgconfig.ParseError{Kind: wgconfig.KindMultiplePeersWithSamePublicKey, Value: publicKey1}),
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := wgconfig.Parse(test.text, name)
			test.check(t, err)
		})
	}
}

func TestParseErrorMessage(t *testing.T) {
	t.Parallel()

	_, err := wgconfig.Parse("[Interface]\nPrivateKey = "+privateKey+"\nMTU = 1\nMTU = 2\n", "dup")
	require.Error(t, err)

	var parseErr *wgconfig.ParseError

	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "Invalid configuration", parseErr.Title())
	assert.Equal(t, `There should be only one entry per section for key "MTU".`, parseErr.Message())

	_, err = wgconfig.Parse("", "empty")
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "Configuration must have an [Interface] section.", err.Error())
}

func TestNewTunnelDuplicatePeers(t *testing.T) {
	t.Parallel()

	pub := ensure.Value(wgkey.ParsePublicKey(publicKey2))

	_, err := wgconfig.NewTunnel("dup", wgconfig.Interface{}, []wgconfig.Peer{
		{PublicKey: pub, AllowedIPs: []wgconfig.AddressRange{wgconfig.MustParseAddressRange("10.0.0.0/8")}},
		{PublicKey: pub, Endpoint: pointer.To(wgconfig.MustParseEndpoint("1.1.1.1:1"))},
	})
	require.ErrorIs(t, err, &wgconfig.ParseError{Kind: wgconfig.KindMultiplePeersWithSamePublicKey})
}

func TestInterfaceEqual(t *testing.T) {
	t.Parallel()

	a := wgconfig.Interface{Addresses: []wgconfig.AddressRange{
		wgconfig.MustParseAddressRange("fd00::1/64"),
		wgconfig.MustParseAddressRange("10.0.0.1/24"),
		wgconfig.MustParseAddressRange("fd00::2/64"),
	}}

	b := a.Clone()
	b.Addresses = []wgconfig.AddressRange{
		wgconfig.MustParseAddressRange("10.0.0.1/24"),
		wgconfig.MustParseAddressRange("fd00::1/64"),
		wgconfig.MustParseAddressRange("fd00::2/64"),
	}

	assert.True(t, a.Equal(b))

	b.Addresses[1], b.Addresses[2] = b.Addresses[2], b.Addresses[1]
	assert.False(t, a.Equal(b))
}

func TestClone(t *testing.T) {
	t.Parallel()

	tunnel := ensure.Value(wgconfig.Parse(fullConfig, "full"))
	clone := tunnel.Clone()

	require.True(t, tunnel.Equal(clone))

	*clone.Interface.MTU = 1200
	clone.Peers[0].AllowedIPs[0] = wgconfig.MustParseAddressRange("10.0.0.0/8")
	clone.Interface.Obfuscation.Set(0, 9)

	assert.Equal(t, pointer.To[uint16](1380), tunnel.Interface.MTU)
	assert.Equal(t, "0.0.0.0/0", tunnel.Peers[0].AllowedIPs[0].String())
	assert.Equal(t, pointer.To[uint16](4), tunnel.Interface.Obfuscation.JunkPacketCount)
	assert.False(t, tunnel.Equal(clone))
}

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	for input, test := range map[string]struct {
		host  string
		port  uint16
		check check.Check
	}{
		"1.2.3.4:51820":          {host: "1.2.3.4", port: 51820, check: check.NoError()},
		"[2001:db8::1]:443":      {host: "2001:db8::1", port: 443, check: check.NoError()},
		"vpn.example.com:1":      {host: "vpn.example.com", port: 1, check: check.NoError()},
		"vpn.example.com":        {check: check.EqualError(`endpoint "vpn.example.com" has no port`)},
		"vpn.example.com:65536":  {check: check.EqualError(`invalid port in endpoint "vpn.example.com:65536"`)},
		"[2001:db8::1]443":       {check: check.EqualError(`invalid endpoint "[2001:db8::1]443"`)},
		"bad host.example.com:1": {check: check.EqualError(`invalid host in endpoint "bad host.example.com:1"`)},
		":51820":                 {check: check.EqualError(`invalid host in endpoint ":51820"`)},
	} {
		t.Run(input, func(t *testing.T) {
			t.Parallel()

			e, err := wgconfig.ParseEndpoint(input)
			test.check(t, err)

			if err == nil {
				assert.Equal(t, test.host, e.Host)
				assert.Equal(t, test.port, e.Port)
				assert.Equal(t, input, e.String())
			}
		})
	}
}

func TestAddressRange(t *testing.T) {
	t.Parallel()

	r := wgconfig.MustParseAddressRange("10.1.2.3/16")
	assert.Equal(t, "10.1.2.3/16", r.String())
	assert.Equal(t, netip.MustParseAddr("10.1.0.0"), r.MaskedAddress())
	assert.Equal(t, netip.MustParseAddr("255.255.0.0"), r.SubnetMask())

	assert.Equal(t, "10.1.2.3/32", wgconfig.MustParseAddressRange("10.1.2.3").String())
	assert.Equal(t, "10.1.2.3/32", wgconfig.MustParseAddressRange("10.1.2.3/40").String())
	assert.Equal(t, "fd00::1/128", wgconfig.MustParseAddressRange("fd00::1/200").String())

	_, err := wgconfig.ParseAddressRange("10.1.2.3/x")
	require.Error(t, err)
}

func TestParseUAPI(t *testing.T) {
	t.Parallel()

	base := ensure.Value(wgconfig.Parse(simpleConfig, "simple"))

	runtime := "private_key=" + privateKeyHex + "\n" +
		"listen_port=41414\n" +
		"jc=3\n" +
		"fwmark=0\n" +
		"public_key=" + publicKey1Hex + "\n" +
		"preshared_key=" + presharedKeyHex + "\n" +
		"protocol_version=1\n" +
		"endpoint=203.0.113.1:51820\n" +
		"last_handshake_time_sec=1700000000\n" +
		"last_handshake_time_nsec=5\n" +
		"tx_bytes=100\n" +
		"rx_bytes=200\n" +
		"persistent_keepalive_interval=0\n" +
		"allowed_ip=0.0.0.0/0\n" +
		"allowed_ip=::/0\n" +
		"errno=0\n"

	tunnel, err := wgconfig.ParseUAPI(runtime, base)
	require.NoError(t, err)

	assert.Equal(t, "simple", tunnel.Name)
	assert.Equal(t, pointer.To[uint16](41414), tunnel.Interface.ListenPort)
	assert.Equal(t, pointer.To[uint16](3), tunnel.Interface.Obfuscation.JunkPacketCount)
	assert.Equal(t, base.Interface.Addresses, tunnel.Interface.Addresses)

	require.Len(t, tunnel.Peers, 1)

	peer := tunnel.Peers[0]
	assert.Equal(t, publicKey1, peer.PublicKey.Base64())
	assert.Equal(t, presharedKey, peer.PresharedKey.Base64())
	assert.Nil(t, peer.PersistentKeepalive)
	assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, stringsOf(peer.AllowedIPs))
	assert.Equal(t, uint64(200), peer.Stats.RxBytes)
	assert.Equal(t, uint64(100), peer.Stats.TxBytes)
	assert.True(t, time.Unix(1700000000, 5).Equal(peer.Stats.LastHandshake))

	_, err = wgconfig.ParseUAPI("private_key\n", base)
	require.ErrorIs(t, err, &wgconfig.ParseError{Kind: wgconfig.KindInvalidUAPI})
}

func stringsOf[T interface{ String() string }](items []T) []string {
	res := make([]string, 0, len(items))

	for _, item := range items {
		res = append(res, item.String())
	}

	return res
}
