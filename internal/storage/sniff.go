package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// sniffLimit bounds how much of an object is read for format detection.
// Every supported format keeps its dimensions well within the first 64 KiB.
const sniffLimit = 64 << 10

var ErrNotAnImage = errors.New("object is not a supported image")

// SniffImage reports the image format of data, or ErrNotAnImage when the
// bytes do not decode as gif, jpeg, png or webp.
func SniffImage(data []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("%w: zero-sized image", ErrNotAnImage)
	}
	return format, nil
}
