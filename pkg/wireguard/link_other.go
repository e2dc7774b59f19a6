// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package wireguard

import (
	"context"

	"go.uber.org/zap"

	"github.com/siderolabs/tunnelctl/pkg/settings"
)

// Link is a tunnel link configured on the host.
type Link struct {
	name string
}

// ConfigureLink applies the network settings to the named link.
func ConfigureLink(context.Context, string, *settings.NetworkSettings, *Link, bool, *zap.Logger) (*Link, error) {
	return nil, ErrUnsupportedOS
}

// Name returns the link name.
func (l *Link) Name() string {
	return l.name
}

// Close is a no-op.
func (l *Link) Close(context.Context) {}
