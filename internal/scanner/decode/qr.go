package decode

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoCode is the steady-state "no code in frame" result. It is noise, not a
// failure.
var ErrNoCode = errors.New("no code in frame")

// Decoder extracts a payload from a single frame.
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// QRDecoder decodes QR codes with gozxing. It is not safe for concurrent use;
// the engine runs at most one loop.
type QRDecoder struct {
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

// NewQRDecoder returns a decoder tuned for handheld phone screens.
func NewQRDecoder() *QRDecoder {
	return &QRDecoder{
		reader: qrcode.NewQRCodeReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode returns the trimmed QR text. Frames without a readable code, including
// malformed or partially visible codes, yield ErrNoCode.
func (d *QRDecoder) Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	res, err := d.reader.Decode(bmp, d.hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	text := strings.TrimSpace(res.GetText())
	if text == "" {
		return "", ErrNoCode
	}
	return text, nil
}
