package qr_test

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-qris/internal/qr"
)

func TestPNGHasConfiguredSize(t *testing.T) {
	r := qr.NewRenderer(320)
	out, err := r.PNG("00020101021226610016ID.CO.EXAMPLE.WWW01189360091800000000000215ID10200000000000303UMI51440014ID.CO.QRIS.WWW0215ID10200000000000303UMI520454995303360540575000.005802ID5910TOKO QRIS6007JAKARTA6304ABCD")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 320, img.Bounds().Dx())
	require.Equal(t, 320, img.Bounds().Dy())
}

func TestPNGRejectsEmptyChallenge(t *testing.T) {
	_, err := qr.NewRenderer(0).PNG("  ")
	require.ErrorIs(t, err, qr.ErrEmptyChallenge)
}
