// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !(linux || darwin || freebsd || openbsd)

package wireguard

import (
	"net"
)

// UAPIOpen opens a UAPI socket.
func UAPIOpen(string) (net.Listener, error) {
	return nil, ErrUnsupportedOS
}
