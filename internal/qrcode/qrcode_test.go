package qrcode

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNG(t *testing.T) {
	data, err := PNGRenderer{}.PNG("https://qrescue.example/scan/abc", 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
}

func TestPNGTooLong(t *testing.T) {
	_, err := PNGRenderer{}.PNG(strings.Repeat("x", 5000), 128)
	assert.Error(t, err)
}
