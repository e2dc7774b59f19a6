// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wireguard_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/conn/bindtest"
	"golang.zx2c4.com/wireguard/ipc"
	"golang.zx2c4.com/wireguard/tun/tuntest"

	"github.com/siderolabs/tunnelctl/pkg/adapter"
	"github.com/siderolabs/tunnelctl/pkg/wireguard"
)

const (
	privateKeyHex = "58006ea952a22a4eaf41675a156c6c4d0689a6731d25081711be8b3c33b8304e"
	peerKeyHex    = "f8d04ba23f54353d1673994ba55e30c6c458a4e294924a1710638554186a4e41"
)

func newBackend(t *testing.T) *wireguard.Backend {
	t.Helper()

	b := wireguard.NewBackend(zaptest.NewLogger(t), wireguard.WithBind(func() conn.Bind {
		return bindtest.NewChannelBinds()[0]
	}))

	t.Cleanup(b.Close)

	return b
}

func TestBackendLifecycle(t *testing.T) {
	t.Parallel()

	b := newBackend(t)

	handle := b.TurnOn("private_key="+privateKeyHex+"\n", tuntest.NewChannelTUN().TUN())
	require.Positive(t, handle)

	text, ok := b.GetConfig(handle)
	require.True(t, ok)
	assert.Contains(t, text, "private_key="+privateKeyHex+"\n")

	assert.EqualValues(t, 0, b.SetConfig(handle, "public_key="+peerKeyHex+"\nallowed_ip=10.0.0.0/24\n"))

	text, ok = b.GetConfig(handle)
	require.True(t, ok)
	assert.Contains(t, text, "public_key="+peerKeyHex+"\n")
	assert.Contains(t, text, "allowed_ip=10.0.0.0/24\n")

	assert.Equal(t, ipc.IpcErrorInvalid, b.SetConfig(handle, "bogus_key=1\n"))

	b.BumpSockets(handle)

	second := b.TurnOn("private_key="+privateKeyHex+"\n", tuntest.NewChannelTUN().TUN())
	require.Positive(t, second)
	assert.NotEqual(t, handle, second)

	b.TurnOff(handle)

	_, ok = b.GetConfig(handle)
	assert.False(t, ok)

	_, ok = b.GetConfig(second)
	assert.True(t, ok)
}

func TestBackendInvalidConfiguration(t *testing.T) {
	t.Parallel()

	b := newBackend(t)

	assert.Equal(t, wireguard.CodeInvalid, b.TurnOn("bogus_key=1\n", tuntest.NewChannelTUN().TUN()))
	assert.Equal(t, wireguard.CodeInvalid, int32(b.SetConfig(42, "private_key="+privateKeyHex+"\n")))

	_, ok := b.GetConfig(42)
	assert.False(t, ok)

	// unknown handles are ignored
	b.TurnOff(42)
	b.BumpSockets(42)
}

func TestBackendLogCallback(t *testing.T) {
	t.Parallel()

	b := newBackend(t)

	var (
		mu    sync.Mutex
		lines []string
	)

	b.SetLogger(func(level adapter.LogLevel, msg string) {
		mu.Lock()
		defer mu.Unlock()

		if level == adapter.LogLevelVerbose {
			lines = append(lines, msg)
		}
	})

	handle := b.TurnOn("private_key="+privateKeyHex+"\n", tuntest.NewChannelTUN().TUN())
	require.Positive(t, handle)

	b.TurnOff(handle)

	mu.Lock()
	defer mu.Unlock()

	assert.True(t, func() bool {
		for _, line := range lines {
			if strings.Contains(line, "Device closing") {
				return true
			}
		}

		return false
	}(), "lines: %v", lines)
}

func TestDeviceLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)

	logger := wireguard.DeviceLogger(zap.New(core))

	logger.Verbosef("peer %d handshake", 1)
	logger.Errorf("failed to %s", "send")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "peer 1 handshake", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "failed to send", entries[1].Message)
}
