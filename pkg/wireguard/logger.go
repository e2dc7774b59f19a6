// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wireguard

import (
	"fmt"

	"go.uber.org/zap"
	"golang.zx2c4.com/wireguard/device"

	"github.com/siderolabs/tunnelctl/pkg/adapter"
)

// DeviceLogger adapts wireguard-go logging to zap.
func DeviceLogger(logger *zap.Logger) *device.Logger {
	sugar := logger.Sugar()

	return &device.Logger{
		Verbosef: sugar.Debugf,
		Errorf:   sugar.Errorf,
	}
}

// callbackLogger routes device logging to a log callback.
func callbackLogger(fn func(adapter.LogLevel, string)) *device.Logger {
	return &device.Logger{
		Verbosef: func(format string, args ...any) { fn(adapter.LogLevelVerbose, fmt.Sprintf(format, args...)) },
		Errorf:   func(format string, args ...any) { fn(adapter.LogLevelError, fmt.Sprintf(format, args...)) },
	}
}
