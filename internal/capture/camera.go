package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrTorchUnsupported is returned by devices without a controllable flash
var ErrTorchUnsupported = errors.New("torch not supported")

// ErrReleased is returned when a released camera is used again
var ErrReleased = errors.New("camera already released")

// DeviceAccessError reports that the camera could not be used. The flow
// can continue through file import.
type DeviceAccessError struct {
	Device int
	Err    error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("camera %d unavailable: %v; import an image file instead", e.Device, e.Err)
}

func (e *DeviceAccessError) Unwrap() error {
	return e.Err
}

// Device is an opened video capture device
type Device interface {
	Read() (Image, error)
	SetTorch(on bool) error
	Close() error
}

// Opener opens a capture device by index
type Opener func(device int) (Device, error)

// Camera hands out exclusive access to one capture device
type Camera struct {
	device int
	open   Opener
}

// NewCamera creates a Camera backed by the platform video capture
func NewCamera(device int) *Camera {
	return NewCameraWithOpener(device, openDevice)
}

// NewCameraWithOpener creates a Camera with a custom device opener (useful for testing)
func NewCameraWithOpener(device int, open Opener) *Camera {
	return &Camera{device: device, open: open}
}

// Acquire opens the device. The caller must Release the returned Live.
func (c *Camera) Acquire(ctx context.Context) (*Live, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := c.open(c.device)
	if err != nil {
		var dae *DeviceAccessError
		if errors.As(err, &dae) {
			return nil, err
		}
		return nil, &DeviceAccessError{Device: c.device, Err: err}
	}

	slog.Info("camera acquired", "device", c.device)
	return &Live{device: c.device, dev: dev}, nil
}

// Live is an acquired camera streaming frames
type Live struct {
	mu       sync.Mutex
	device   int
	dev      Device
	torch    bool
	released bool
}

// Preview returns the current frame without releasing the device
func (l *Live) Preview() (Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return Image{}, ErrReleased
	}
	img, err := l.dev.Read()
	if err != nil {
		return Image{}, &DeviceAccessError{Device: l.device, Err: err}
	}
	return img, nil
}

// ToggleTorch flips the flash when the device supports it and reports the
// resulting state. Unsupported devices leave the torch off without error.
func (l *Live) ToggleTorch() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return false
	}
	if err := l.dev.SetTorch(!l.torch); err != nil {
		if !errors.Is(err, ErrTorchUnsupported) {
			slog.Warn("toggling torch", "device", l.device, "error", err)
		}
		return l.torch
	}
	l.torch = !l.torch
	return l.torch
}

// Snapshot captures a frame and releases the device
func (l *Live) Snapshot() (Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return Image{}, ErrReleased
	}
	img, err := l.dev.Read()
	l.release()
	if err != nil {
		return Image{}, &DeviceAccessError{Device: l.device, Err: err}
	}
	if len(img.Data) == 0 {
		return Image{}, &DeviceAccessError{Device: l.device, Err: ErrEmptyImage}
	}
	return img, nil
}

// Release stops the device. It is safe to call more than once.
func (l *Live) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.release()
}

func (l *Live) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

func (l *Live) release() {
	if l.released {
		return
	}
	l.released = true
	if l.torch {
		_ = l.dev.SetTorch(false)
		l.torch = false
	}
	if err := l.dev.Close(); err != nil {
		slog.Warn("closing camera", "device", l.device, "error", err)
	}
	slog.Info("camera released", "device", l.device)
}
