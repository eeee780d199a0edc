// Package qrcode renders scan links as PNG images.
package qrcode

import (
	"fmt"

	qr "github.com/skip2/go-qrcode"
)

// DefaultSize is the edge length in pixels used when callers pass 0.
const DefaultSize = 256

// Renderer draws content as a scannable PNG.
type Renderer interface {
	PNG(content string, size int) ([]byte, error)
}

// PNGRenderer renders with medium error correction, enough to survive a
// scuffed sticker.
type PNGRenderer struct{}

// PNG implements Renderer.
func (PNGRenderer) PNG(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qr.Encode(content, qr.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return png, nil
}
