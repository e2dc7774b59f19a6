// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wgconfig models a WireGuard tunnel and reads/writes it in the wg-quick text format.
package wgconfig

import (
	"slices"
	"time"

	"github.com/siderolabs/go-pointer"

	"github.com/siderolabs/tunnelctl/pkg/wgkey"
)

// Tunnel is one configured tunnel: the local interface and its peers.
//
// A Tunnel handed to the adapter must not be mutated; use Clone to edit.
//
//nolint:govet
type Tunnel struct {
	Name      string
	Interface Interface
	Peers     []Peer
}

// NewTunnel validates peers and returns a Tunnel.
func NewTunnel(name string, iface Interface, peers []Peer) (*Tunnel, error) {
	if err := checkUniquePeers(peers); err != nil {
		return nil, err
	}

	return &Tunnel{Name: name, Interface: iface, Peers: peers}, nil
}

// Clone returns a deep copy of the tunnel.
func (t *Tunnel) Clone() *Tunnel {
	if t == nil {
		return nil
	}

	res := &Tunnel{
		Name:      t.Name,
		Interface: t.Interface.Clone(),
		Peers:     make([]Peer, 0, len(t.Peers)),
	}

	for _, p := range t.Peers {
		res.Peers = append(res.Peers, p.Clone())
	}

	return res
}

// Equal compares configurations, ignoring runtime statistics.
func (t *Tunnel) Equal(other *Tunnel) bool {
	if t == nil || other == nil {
		return t == other
	}

	return t.Name == other.Name &&
		t.Interface.Equal(other.Interface) &&
		slices.EqualFunc(t.Peers, other.Peers, Peer.Equal)
}

// Endpoints returns the endpoint of every peer, nil where a peer has none.
func (t *Tunnel) Endpoints() []*Endpoint {
	res := make([]*Endpoint, len(t.Peers))

	for i := range t.Peers {
		if t.Peers[i].Endpoint != nil {
			e := *t.Peers[i].Endpoint
			res[i] = &e
		}
	}

	return res
}

func checkUniquePeers(peers []Peer) error {
	seen := make(map[wgkey.PublicKey]struct{}, len(peers))

	for _, p := range peers {
		if _, ok := seen[p.PublicKey]; ok {
			return &ParseError{Kind: KindMultiplePeersWithSamePublicKey, Value: p.PublicKey.Base64()}
		}

		seen[p.PublicKey] = struct{}{}
	}

	return nil
}

// Interface is the local side of a tunnel.
//
//nolint:govet
type Interface struct {
	PrivateKey  wgkey.PrivateKey
	Addresses   []AddressRange
	ListenPort  *uint16
	MTU         *uint16
	DNS         []DNSServer
	DNSSearch   []string
	Obfuscation Obfuscation
}

// Clone returns a deep copy.
func (i Interface) Clone() Interface {
	res := i
	res.Addresses = slices.Clone(i.Addresses)
	res.DNS = slices.Clone(i.DNS)
	res.DNSSearch = slices.Clone(i.DNSSearch)
	res.ListenPort = clonePtr(i.ListenPort)
	res.MTU = clonePtr(i.MTU)
	res.Obfuscation = i.Obfuscation.Clone()

	return res
}

// Equal compares interfaces. Addresses are compared IPv4 first, then IPv6, each
// family keeping its own order; every other list is order sensitive.
func (i Interface) Equal(other Interface) bool {
	return i.PrivateKey.Equal(other.PrivateKey) &&
		equalPtr(i.ListenPort, other.ListenPort) &&
		equalPtr(i.MTU, other.MTU) &&
		slices.Equal(partitionByFamily(i.Addresses), partitionByFamily(other.Addresses)) &&
		slices.Equal(i.DNS, other.DNS) &&
		slices.Equal(i.DNSSearch, other.DNSSearch) &&
		i.Obfuscation.Equal(other.Obfuscation)
}

func partitionByFamily(addrs []AddressRange) []AddressRange {
	res := make([]AddressRange, 0, len(addrs))

	for _, a := range addrs {
		if a.Is4() {
			res = append(res, a)
		}
	}

	for _, a := range addrs {
		if !a.Is4() {
			res = append(res, a)
		}
	}

	return res
}

// Obfuscation holds the vendor extension parameters of obfuscating WireGuard forks.
//
// They are opaque to this package and carried through verbatim, in this field order.
type Obfuscation struct {
	JunkPacketCount            *uint16 // Jc
	JunkPacketMinSize          *uint16 // Jmin
	JunkPacketMaxSize          *uint16 // Jmax
	InitPacketJunkSize         *uint16 // S1
	ResponsePacketJunkSize     *uint16 // S2
	InitPacketMagicHeader      *uint32 // H1
	ResponsePacketMagicHeader  *uint32 // H2
	UnderloadPacketMagicHeader *uint32 // H3
	TransportPacketMagicHeader *uint32 // H4
}

// ObfuscationParam describes one extension parameter.
type ObfuscationParam struct {
	Key     string // wg-quick key, e.g. "Jc"
	UAPIKey string // UAPI key, e.g. "jc"
	Bits    int    // integer width
}

// ObfuscationParams lists extension parameters in their declared order.
var ObfuscationParams = []ObfuscationParam{
	{Key: "Jc", UAPIKey: "jc", Bits: 16},
	{Key: "Jmin", UAPIKey: "jmin", Bits: 16},
	{Key: "Jmax", UAPIKey: "jmax", Bits: 16},
	{Key: "S1", UAPIKey: "s1", Bits: 16},
	{Key: "S2", UAPIKey: "s2", Bits: 16},
	{Key: "H1", UAPIKey: "h1", Bits: 32},
	{Key: "H2", UAPIKey: "h2", Bits: 32},
	{Key: "H3", UAPIKey: "h3", Bits: 32},
	{Key: "H4", UAPIKey: "h4", Bits: 32},
}

// Get returns the value of the i-th parameter of ObfuscationParams.
func (o *Obfuscation) Get(i int) (uint32, bool) {
	if i < 5 {
		p := o.small()[i]
		if *p == nil {
			return 0, false
		}

		return uint32(**p), true
	}

	p := o.large()[i-5]
	if *p == nil {
		return 0, false
	}

	return **p, true
}

// Set sets the i-th parameter of ObfuscationParams; v must fit its width.
func (o *Obfuscation) Set(i int, v uint32) {
	if i < 5 {
		*o.small()[i] = pointer.To(uint16(v))

		return
	}

	*o.large()[i-5] = pointer.To(v)
}

// IsZero reports whether no parameter is set.
func (o Obfuscation) IsZero() bool {
	for i := range ObfuscationParams {
		if _, ok := o.Get(i); ok {
			return false
		}
	}

	return true
}

// Clone returns a deep copy.
func (o Obfuscation) Clone() Obfuscation {
	var res Obfuscation

	for i := range ObfuscationParams {
		if v, ok := o.Get(i); ok {
			res.Set(i, v)
		}
	}

	return res
}

// Equal compares parameter values.
func (o Obfuscation) Equal(other Obfuscation) bool {
	for i := range ObfuscationParams {
		a, aok := o.Get(i)
		b, bok := other.Get(i)

		if aok != bok || a != b {
			return false
		}
	}

	return true
}

func (o *Obfuscation) small() [5]**uint16 {
	return [5]**uint16{&o.JunkPacketCount, &o.JunkPacketMinSize, &o.JunkPacketMaxSize, &o.InitPacketJunkSize, &o.ResponsePacketJunkSize}
}

func (o *Obfuscation) large() [4]**uint32 {
	return [4]**uint32{&o.InitPacketMagicHeader, &o.ResponsePacketMagicHeader, &o.UnderloadPacketMagicHeader, &o.TransportPacketMagicHeader}
}

// Peer is a remote side of a tunnel.
//
//nolint:govet
type Peer struct {
	PublicKey           wgkey.PublicKey
	PresharedKey        *wgkey.PresharedKey
	AllowedIPs          []AddressRange
	Endpoint            *Endpoint
	PersistentKeepalive *uint16

	// Stats is populated from the backend only.
	Stats Stats
}

// Stats are runtime counters of a peer.
type Stats struct {
	LastHandshake time.Time
	RxBytes       uint64
	TxBytes       uint64
}

// Clone returns a deep copy.
func (p Peer) Clone() Peer {
	res := p
	res.PresharedKey = clonePtr(p.PresharedKey)
	res.AllowedIPs = slices.Clone(p.AllowedIPs)
	res.Endpoint = clonePtr(p.Endpoint)
	res.PersistentKeepalive = clonePtr(p.PersistentKeepalive)

	return res
}

// Equal compares peer configuration, ignoring Stats.
func (p Peer) Equal(other Peer) bool {
	pskEqual := (p.PresharedKey == nil) == (other.PresharedKey == nil)
	if pskEqual && p.PresharedKey != nil {
		pskEqual = p.PresharedKey.Equal(*other.PresharedKey)
	}

	return p.PublicKey.Equal(other.PublicKey) &&
		pskEqual &&
		slices.Equal(p.AllowedIPs, other.AllowedIPs) &&
		equalPtr(p.Endpoint, other.Endpoint) &&
		equalPtr(p.PersistentKeepalive, other.PersistentKeepalive)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}

	return pointer.To(*p)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
