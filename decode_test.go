package main

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func solidJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func assertOpaque(t *testing.T, img *image.NRGBA) {
	t.Helper()
	for i := 3; i < len(img.Pix); i += 4 {
		require.Equal(t, uint8(0xff), img.Pix[i])
	}
}

func TestDecodeJPEG(t *testing.T) {
	img, err := DecodeImage(solidJPEG(t, 10, 10, color.RGBA{200, 30, 30, 255}))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 10), img.Bounds())
	assertOpaque(t, img)
}

func TestDecodeGrayscalePNG(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 3))
	gray.SetGray(1, 1, color.Gray{Y: 77})

	img, err := DecodeImage(encodePNG(t, gray))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	assert.Equal(t, color.NRGBA{77, 77, 77, 255}, img.NRGBAAt(1, 1))
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, img.NRGBAAt(0, 0))
}

func TestDecodeDropsAlphaWithoutBlending(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 0})
	src.SetNRGBA(1, 1, color.NRGBA{200, 100, 50, 128})

	img, err := DecodeImage(encodePNG(t, src))
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{10, 20, 30, 255}, img.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{200, 100, 50, 255}, img.NRGBAAt(1, 1))
}

func TestDecodePalettedGIF(t *testing.T) {
	src := image.NewPaletted(image.Rect(0, 0, 5, 5), palette.Plan9)
	src.SetColorIndex(2, 2, 7)

	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, src, nil))

	img, err := DecodeImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 5), img.Bounds())
	assertOpaque(t, img)
}

func TestDecodeBMP(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(0, 0, color.RGBA{1, 2, 3, 255})

	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, src))

	img, err := DecodeImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{1, 2, 3, 255}, img.NRGBAAt(0, 0))
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	jpg := solidJPEG(t, 10, 10, color.White)

	cases := map[string][]byte{
		"empty":     {},
		"text":      []byte("this is not an image, just text renamed to .jpg\n"),
		"truncated": jpg[:len(jpg)/3],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeImage(data)
			require.ErrorIs(t, err, ErrInvalidImage)
			assert.Equal(t, KindInvalidImage, classifyError(err))
		})
	}
}

// bmpHeader is a 24-bit BMP file header and BITMAPINFOHEADER with no pixel data.
func bmpHeader(width, height uint32) []byte {
	b := make([]byte, 54)
	copy(b, "BM")
	binary.LittleEndian.PutUint32(b[2:], 54)
	binary.LittleEndian.PutUint32(b[10:], 54)
	binary.LittleEndian.PutUint32(b[14:], 40)
	binary.LittleEndian.PutUint32(b[18:], width)
	binary.LittleEndian.PutUint32(b[22:], height)
	binary.LittleEndian.PutUint16(b[26:], 1)
	binary.LittleEndian.PutUint16(b[28:], 24)
	return b
}

func TestDecodeRejectsOversizedDimensions(t *testing.T) {
	_, err := DecodeImage(bmpHeader(100000, 100000))
	require.ErrorIs(t, err, ErrInvalidImage)
	assert.Contains(t, err.Error(), "unsupported dimensions")
	assert.Equal(t, KindInvalidImage, classifyError(err))
}
