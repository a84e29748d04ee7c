//go:build !gocv

package capture

import "errors"

func openDevice(device int) (Device, error) {
	return nil, &DeviceAccessError{Device: device, Err: errors.New("built without camera support (build tag gocv)")}
}
