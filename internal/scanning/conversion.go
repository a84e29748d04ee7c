package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/cashtos/internal/capture"
)

// passthroughTypes are sent to the model untouched
var passthroughTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// prepareImage returns the bytes and MIME type to upload. PDFs are rendered
// to their first page and HEIC or other rasters are re-encoded as PNG.
func prepareImage(img capture.Image) ([]byte, string, error) {
	if len(img.Data) == 0 {
		return nil, "", capture.ErrEmptyImage
	}

	mimeType := strings.ToLower(strings.TrimSpace(img.MIMEType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	switch {
	case mimeType == "application/pdf":
		data, err := pdfToPNG(img.Data)
		if err != nil {
			return nil, "", fmt.Errorf("converting PDF to image: %w", err)
		}
		return data, "image/png", nil
	case isHEIC(img.Data, mimeType):
		data, err := heicToPNG(img.Data)
		if err != nil {
			return nil, "", fmt.Errorf("converting HEIC to image: %w", err)
		}
		return data, "image/png", nil
	case passthroughTypes[mimeType]:
		return img.Data, mimeType, nil
	}

	data, err := imageToPNG(img.Data)
	if err != nil {
		return nil, "", fmt.Errorf("converting %s to PNG: %w", mimeType, err)
	}
	return data, "image/png", nil
}

func pdfToPNG(data []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// tickets are single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

func heicToPNG(data []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	return encodePNG(img)
}

func imageToPNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if errors.Is(err, image.ErrFormat) {
		return nil, fmt.Errorf("unsupported image format (JPEG, PNG, GIF, WEBP, HEIC, HEIF and PDF are accepted): %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEIC checks the MIME type and the ftyp box brand
func isHEIC(data []byte, mimeType string) bool {
	if strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif") {
		return true
	}
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}
