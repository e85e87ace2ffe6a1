package qr

import (
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrEmptyChallenge is returned for an empty payload.
var ErrEmptyChallenge = errors.New("qr: empty challenge")

// Renderer turns an opaque QRIS challenge into a PNG image. The payload is
// encoded byte for byte and never interpreted.
type Renderer struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewRenderer returns a renderer producing size×size images at medium recovery.
func NewRenderer(size int) Renderer {
	if size <= 0 {
		size = 320
	}
	return Renderer{Size: size, Level: qrcode.Medium}
}

// PNG encodes challenge as a PNG.
func (r Renderer) PNG(challenge string) ([]byte, error) {
	if strings.TrimSpace(challenge) == "" {
		return nil, ErrEmptyChallenge
	}
	size := r.Size
	if size <= 0 {
		size = 320
	}
	return qrcode.Encode(challenge, r.Level, size)
}
