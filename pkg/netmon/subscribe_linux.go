// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package netmon

import (
	"context"
	"time"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const multicastGroups = unix.RTMGRP_LINK |
	unix.RTMGRP_IPV4_IFADDR | unix.RTMGRP_IPV6_IFADDR |
	unix.RTMGRP_IPV4_ROUTE | unix.RTMGRP_IPV6_ROUTE

// subscribe signals link, address and route changes; it falls back to polling
// if the netlink subscription fails.
func subscribe(ctx context.Context, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	conn, err := rtnetlink.Dial(&netlink.Config{Groups: multicastGroups})
	if err != nil {
		logger.Warn("failed to subscribe to netlink updates, polling instead", zap.Error(err))

		return poll(ctx, interval)
	}

	ch := make(chan struct{}, 1)

	go func() {
		<-ctx.Done()

		conn.Close() //nolint:errcheck
	}()

	go func() {
		defer close(ch)

		for {
			if _, _, err := conn.Receive(); err != nil {
				if ctx.Err() == nil {
					logger.Warn("netlink receive failed", zap.Error(err))
				}

				return
			}

			notify(ch)
		}
	}()

	return ch
}
