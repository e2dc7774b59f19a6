// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package settings_test

import (
	"net/netip"
	"testing"

	"github.com/siderolabs/gen/ensure"
	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/tunnelctl/pkg/settings"
	"github.com/siderolabs/tunnelctl/pkg/wgconfig"
)

const (
	privateKey = "WABuqVKiKk6vQWdaFWxsTQaJpnMdJQgXEb6LPDO4ME4="
	publicKey1 = "+NBLoj9UNT0Wc5lLpV4wxsRYpOKUkkoXEGOFVBhqTkE="
	publicKey2 = "AP8+zHSoAOH48W5y7v0aRJ8+RQGIaMVm73gNm+re2Xk="
	psk        = "iLdM2C53R4i5wc9w5X3owsuhTQ9gtWOxA9VslV1r61s="

	privateKeyHex = "58006ea952a22a4eaf41675a156c6c4d0689a6731d25081711be8b3c33b8304e"
	publicKey1Hex = "f8d04ba23f54353d1673994ba55e30c6c458a4e294924a1710638554186a4e41"
	publicKey2Hex = "00ff3ecc74a800e1f8f16e72eefd1a449f3e45018868c566ef780d9beaded979"
	pskHex        = "88b74cd82e774788b9c1cf70e57de8c2cba14d0f60b563b103d56c955d6beb5b"
)

const config = `[Interface]
PrivateKey = ` + privateKey + `
ListenPort = 51820
Jc = 4
H2 = 77
Address = 10.0.0.2/24, fd00::2/64
DNS = 1.1.1.1, corp.example

[Peer]
PublicKey = ` + publicKey1 + `
PresharedKey = ` + psk + `
AllowedIPs = 0.0.0.0/0, ::/0, 10.0.0.0/24
Endpoint = vpn.example.com:51820
PersistentKeepalive = 25

[Peer]
PublicKey = ` + publicKey2 + `
AllowedIPs = 0.0.0.0/0
`

func generator(t *testing.T, platform settings.Platform, endpoints ...*wgconfig.Endpoint) *settings.Generator {
	t.Helper()

	tunnel := ensure.Value(wgconfig.Parse(config, "test"))

	g, err := settings.New(tunnel, endpoints, platform)
	require.NoError(t, err)

	return g
}

func resolved() []*wgconfig.Endpoint {
	return []*wgconfig.Endpoint{pointer.To(wgconfig.MustParseEndpoint("192.0.2.1:51820")), nil}
}

func TestNewLengthMismatch(t *testing.T) {
	t.Parallel()

	_, err := settings.New(ensure.Value(wgconfig.Parse(config, "test")), nil, settings.Desktop)
	require.EqualError(t, err, "got 0 resolved endpoints for 2 peers")
}

func TestUAPIConfiguration(t *testing.T) {
	t.Parallel()

	g := generator(t, settings.Desktop, resolved()...)

	uapi, err := g.UAPIConfiguration()
	require.NoError(t, err)

	assert.Equal(t, "private_key="+privateKeyHex+"\n"+
		"listen_port=51820\n"+
		"jc=4\n"+
		"h2=77\n"+
		"replace_peers=true\n"+
		"public_key="+publicKey1Hex+"\n"+
		"preshared_key="+pskHex+"\n"+
		"endpoint=192.0.2.1:51820\n"+
		"persistent_keepalive_interval=25\n"+
		"replace_allowed_ips=true\n"+
		"allowed_ip=0.0.0.0/0\n"+
		"allowed_ip=::/0\n"+
		"allowed_ip=10.0.0.0/24\n"+
		"public_key="+publicKey2Hex+"\n"+
		"persistent_keepalive_interval=0\n"+
		"replace_allowed_ips=true\n"+
		"allowed_ip=0.0.0.0/0\n", uapi)

	endpoints, err := g.EndpointUAPIConfiguration()
	require.NoError(t, err)

	assert.Equal(t, "public_key="+publicKey1Hex+"\n"+
		"endpoint=192.0.2.1:51820\n"+
		"public_key="+publicKey2Hex+"\n", endpoints)
}

func TestUAPIConfigurationNoPeers(t *testing.T) {
	t.Parallel()

	tunnel := ensure.Value(wgconfig.Parse("[Interface]\nPrivateKey = "+privateKey+"\n", "bare"))
	g := ensure.Value(settings.New(tunnel, nil, settings.Mobile))

	uapi, err := g.UAPIConfiguration()
	require.NoError(t, err)
	assert.Equal(t, "private_key="+privateKeyHex+"\n", uapi)
}

func TestUAPIUnresolved(t *testing.T) {
	t.Parallel()

	g := generator(t, settings.Desktop, pointer.To(wgconfig.MustParseEndpoint("vpn.example.com:51820")), nil)

	for name, render := range map[string]func() (string, error){
		"full":     g.UAPIConfiguration,
		"endpoint": g.EndpointUAPIConfiguration,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := render()
			require.ErrorIs(t, err, settings.ErrUnresolvedEndpoint)
		})
	}
}

func TestNetworkSettings(t *testing.T) {
	t.Parallel()

	for name, test := range map[string]struct {
		platform  settings.Platform
		addresses []string
		mtu       int
	}{
		"mobile": {
			platform:  settings.Mobile,
			addresses: []string{"10.0.0.2/24", "fd00::2/64"},
			mtu:       1280,
		},
		"desktop": {
			platform:  settings.Desktop,
			addresses: []string{"10.0.0.2/24", "fd00::2/64"},
			mtu:       1420,
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ns := generator(t, test.platform, resolved()...).NetworkSettings()

			assert.Equal(t, settings.TunnelRemoteAddress, ns.TunnelRemoteAddress)
			assert.Equal(t, test.addresses, stringsOf(ns.Addresses))
			assert.Equal(t, test.mtu, ns.MTU)

			assert.Equal(t, []string{
				"10.0.0.0/24 via 10.0.0.2",
				"fd00::/64 via fd00::2",
				"0.0.0.0/0",
				"::/0",
				"10.0.0.0/24",
			}, stringsOf(ns.Routes))

			assert.Equal(t, []string{"192.0.2.1/32"}, stringsOf(ns.ExcludedRoutes))

			require.NotNil(t, ns.DNS)
			assert.Equal(t, []netip.Addr{netip.MustParseAddr("1.1.1.1")}, ns.DNS.Servers)
			assert.Equal(t, []string{"corp.example"}, ns.DNS.SearchDomains)
			assert.True(t, ns.DNS.MatchAll())
		})
	}
}

func TestNetworkSettingsIPv6Clamp(t *testing.T) {
	t.Parallel()

	tunnel := ensure.Value(wgconfig.Parse(`[Interface]
PrivateKey = `+privateKey+`
Address = fd00::2/128, 10.0.0.2/32
MTU = 0
DNS = corp.example
`, "clamp"))

	mobile := ensure.Value(settings.New(tunnel, nil, settings.Mobile)).NetworkSettings()
	assert.Equal(t, []string{"fd00::2/120", "10.0.0.2/32"}, stringsOf(mobile.Addresses))
	assert.Equal(t, []string{"fd00::2/128 via fd00::2", "10.0.0.2/32 via 10.0.0.2"}, stringsOf(mobile.Routes))
	assert.Equal(t, 1280, mobile.MTU)

	require.NotNil(t, mobile.DNS)
	assert.Empty(t, mobile.DNS.Servers)
	assert.False(t, mobile.DNS.MatchAll())

	desktop := ensure.Value(settings.New(tunnel, nil, settings.Desktop)).NetworkSettings()
	assert.Equal(t, []string{"fd00::2/128", "10.0.0.2/32"}, stringsOf(desktop.Addresses))
	assert.Equal(t, 1420, desktop.MTU)
}

func TestNetworkSettingsNoDNS(t *testing.T) {
	t.Parallel()

	tunnel := ensure.Value(wgconfig.Parse("[Interface]\nPrivateKey = "+privateKey+"\nMTU = 1400\n", "nodns"))
	ns := ensure.Value(settings.New(tunnel, nil, settings.Mobile)).NetworkSettings()

	assert.Nil(t, ns.DNS)
	assert.Empty(t, ns.Routes)
	assert.Equal(t, 1400, ns.MTU)
}

func stringsOf[T interface{ String() string }](items []T) []string {
	res := make([]string, 0, len(items))

	for _, item := range items {
		res = append(res, item.String())
	}

	return res
}
