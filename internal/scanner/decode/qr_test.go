package decode

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQRDecoderReadsEncodedCode(t *testing.T) {
	bm, err := qrcode.NewQRCodeWriter().Encode("BK123", gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	require.NoError(t, err)

	got, err := NewQRDecoder().Decode(bm)
	require.NoError(t, err)
	assert.Equal(t, "BK123", got)
}

func TestQRDecoderBlankFrameIsNoise(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 120, 120))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	_, err := NewQRDecoder().Decode(img)
	assert.ErrorIs(t, err, ErrNoCode)
}
