//go:build gocv

package capture

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

type videoDevice struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func openDevice(device int) (Device, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, &DeviceAccessError{Device: device, Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &DeviceAccessError{Device: device, Err: errors.New("device not opened")}
	}
	return &videoDevice{vc: vc, mat: gocv.NewMat()}, nil
}

func (d *videoDevice) Read() (Image, error) {
	if ok := d.vc.Read(&d.mat); !ok || d.mat.Empty() {
		return Image{}, errors.New("no frame read from device")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, d.mat)
	if err != nil {
		return Image{}, fmt.Errorf("encoding frame: %w", err)
	}
	defer buf.Close()

	// the native buffer is freed on Close
	data := append([]byte(nil), buf.GetBytes()...)
	return Image{Data: data, MIMEType: "image/jpeg", Filename: "camera.jpg"}, nil
}

// OpenCV exposes no portable flash control
func (d *videoDevice) SetTorch(bool) error {
	return ErrTorchUnsupported
}

func (d *videoDevice) Close() error {
	d.mat.Close()
	return d.vc.Close()
}
