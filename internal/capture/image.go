package capture

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxImageSize is the largest image accepted from a file import
const MaxImageSize = 50 << 20

var (
	ErrEmptyImage    = errors.New("image is empty")
	ErrImageTooLarge = fmt.Errorf("image exceeds %d bytes", MaxImageSize)
)

// Image is a captured or imported picture of a ticket
type Image struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Base64 returns the image bytes in standard base64 encoding
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// ReadFile imports an image from disk
func ReadFile(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	return FromReader(f, filepath.Base(path), "")
}

// FromReader imports an image from r. The content type falls back to the
// filename extension and then to sniffing the first bytes.
func FromReader(r io.Reader, filename, contentType string) (Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return Image{}, fmt.Errorf("reading image: %w", err)
	}
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}
	if len(data) > MaxImageSize {
		return Image{}, ErrImageTooLarge
	}

	return Image{
		Data:     data,
		MIMEType: detectType(data, filename, contentType),
		Filename: filename,
	}, nil
}

func detectType(data []byte, filename, contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
		return mt
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".pdf":
		return "application/pdf"
	case "":
	default:
		if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); mt != "" {
			mt, _, _ = mime.ParseMediaType(mt)
			return mt
		}
	}

	// ftyp box with a HEIF brand; http.DetectContentType does not know it
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		switch string(data[8:12]) {
		case "heic", "heix", "mif1", "msf1":
			return "image/heic"
		}
	}

	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
