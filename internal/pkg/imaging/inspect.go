package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned for zero-sized payloads or images.
var ErrEmptyImage = errors.New("empty image")

// Info describes a decoded image payload.
type Info struct {
	Width       int
	Height      int
	Format      string // jpeg, png, gif, webp, tiff, bmp
	ContentType string
	Ext         string // with leading dot
}

// Inspect decodes data fully so that truncated or corrupt payloads are rejected,
// and reports dimensions and the detected format.
func Inspect(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}

	return &Info{
		Width:       b.Dx(),
		Height:      b.Dy(),
		Format:      format,
		ContentType: mimeFromFormat(format),
		Ext:         extFromFormat(format),
	}, nil
}

func mimeFromFormat(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "tiff":
		return "image/tiff"
	case "bmp":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

func extFromFormat(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "":
		return ".bin"
	default:
		return "." + format
	}
}
