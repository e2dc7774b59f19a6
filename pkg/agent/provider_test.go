// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package agent_test

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	wgtun "golang.zx2c4.com/wireguard/tun"
	"golang.zx2c4.com/wireguard/tun/tuntest"

	"github.com/siderolabs/tunnelctl/pkg/agent"
	"github.com/siderolabs/tunnelctl/pkg/settings"
)

type fakeLink struct {
	rec    *linkRecorder
	id     int
	closed bool
}

func (l *fakeLink) Close(context.Context) {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()

	l.closed = true
	l.rec.ops = append(l.rec.ops, fmt.Sprintf("close %d", l.id))
}

type linkRecorder struct {
	mu        sync.Mutex
	names     []string
	links     []*fakeLink
	previous  []agent.LinkCloser
	ops       []string
	created   int
	fail      error
	failAfter int
}

func (r *linkRecorder) createTUN(_ string, _ int) (wgtun.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.created++

	return tuntest.NewChannelTUN().TUN(), nil
}

func (r *linkRecorder) configure(_ context.Context, name string, _ *settings.NetworkSettings, previous agent.LinkCloser) (agent.LinkCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail != nil && len(r.links) >= r.failAfter {
		return nil, r.fail
	}

	l := &fakeLink{rec: r, id: len(r.links)}

	r.names = append(r.names, name)
	r.links = append(r.links, l)
	r.previous = append(r.previous, previous)
	r.ops = append(r.ops, fmt.Sprintf("configure %d", l.id))

	return l, nil
}

func applySettings(t *testing.T, set func(*settings.NetworkSettings, func(error)), ns *settings.NetworkSettings) error {
	t.Helper()

	done := make(chan error, 1)

	set(ns, func(err error) { done <- err })

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		require.FailNow(t, "settings were not applied")
	}

	return nil
}

func TestProviderLifecycle(t *testing.T) {
	t.Parallel()

	rec := &linkRecorder{}

	var reasserting []bool

	p := agent.NewProvider("tunnelctl0", rec.createTUN, rec.configure, func(on bool) { reasserting = append(reasserting, on) }, zaptest.NewLogger(t))

	_, err := p.TunDevice()
	require.Error(t, err)

	ns := &settings.NetworkSettings{
		Addresses: []netip.Prefix{netip.MustParsePrefix("10.0.0.2/24")},
		MTU:       1420,
	}

	require.NoError(t, applySettings(t, p.SetNetworkSettings, ns))

	dev, err := p.TunDevice()
	require.NoError(t, err)

	name, err := dev.Name()
	require.NoError(t, err)

	// reapplying keeps the device and replaces the link configuration
	require.NoError(t, applySettings(t, p.SetNetworkSettings, ns))

	again, err := p.TunDevice()
	require.NoError(t, err)
	assert.Same(t, dev, again)

	rec.mu.Lock()
	assert.Equal(t, 1, rec.created)
	assert.Equal(t, []string{name, name}, rec.names)
	assert.True(t, rec.links[0].closed)
	assert.False(t, rec.links[1].closed)
	assert.Nil(t, rec.previous[0])
	assert.Same(t, rec.links[0], rec.previous[1])
	// the old configuration goes away only after the new one is in place
	assert.Equal(t, []string{"configure 0", "configure 1", "close 0"}, rec.ops)
	rec.mu.Unlock()

	// the backend closing the device makes the next round recreate it
	require.NoError(t, dev.Close())
	require.NoError(t, applySettings(t, p.SetNetworkSettings, ns))

	rec.mu.Lock()
	assert.Equal(t, 2, rec.created)
	rec.mu.Unlock()

	p.SetReasserting(true)
	p.SetReasserting(false)

	assert.Equal(t, []bool{true, false}, reasserting)

	p.Close(t.Context())

	rec.mu.Lock()
	assert.True(t, rec.links[2].closed)
	rec.mu.Unlock()

	_, err = p.TunDevice()
	require.Error(t, err)
}

func TestProviderConfigureFailure(t *testing.T) {
	t.Parallel()

	rec := &linkRecorder{fail: errors.New("netlink: permission denied"), failAfter: 1}
	p := agent.NewProvider("tunnelctl0", rec.createTUN, rec.configure, nil, zaptest.NewLogger(t))

	ns := &settings.NetworkSettings{MTU: 1420}

	require.NoError(t, applySettings(t, p.SetNetworkSettings, ns))

	err := applySettings(t, p.SetNetworkSettings, ns)
	require.EqualError(t, err, "netlink: permission denied")

	// a failed round keeps the previous configuration
	rec.mu.Lock()
	assert.False(t, rec.links[0].closed)
	rec.mu.Unlock()

	p.Close(context.Background())

	rec.mu.Lock()
	assert.True(t, rec.links[0].closed)
	assert.Equal(t, []string{"configure 0", "close 0"}, rec.ops)
	rec.mu.Unlock()
}
