package texture

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is raw 8-bit pixel data with Channels interleaved samples per pixel,
// rows top to bottom.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// Valid reports whether the image can be uploaded.
func (img *Image) Valid() bool {
	if img == nil || img.Width <= 0 || img.Height <= 0 || img.Channels < 1 {
		return false
	}
	return len(img.Pix) >= img.Width*img.Height*img.Channels
}

// ToRGBA8 pads or truncates every pixel to four channels. One channel is
// luminance, two are luminance and alpha. Missing alpha is 255.
func (img *Image) ToRGBA8() []byte {
	n := img.Width * img.Height
	out := make([]byte, n*4)
	c := img.Channels
	for i := 0; i < n; i++ {
		src := img.Pix[i*c : i*c+c]
		dst := out[i*4 : i*4+4]
		switch c {
		case 1:
			dst[0], dst[1], dst[2], dst[3] = src[0], src[0], src[0], 255
		case 2:
			dst[0], dst[1], dst[2], dst[3] = src[0], src[0], src[0], src[1]
		case 3:
			dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], 255
		default:
			copy(dst, src[:4])
		}
	}
	return out
}

// FromImage converts any decoded image to a 4-channel Image with
// non-premultiplied alpha.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	if nrgba, ok := src.(*image.NRGBA); ok && nrgba.Stride == 4*b.Dx() && b.Min == (image.Point{}) {
		return &Image{Width: b.Dx(), Height: b.Dy(), Channels: 4, Pix: nrgba.Pix}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return &Image{Width: b.Dx(), Height: b.Dy(), Channels: 4, Pix: dst.Pix}
}

// Decode reads PNG, JPEG, GIF, BMP, TIFF or WebP data.
func Decode(r io.Reader) (*Image, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("texture: decode: %w", err)
	}
	img := FromImage(src)
	if !img.Valid() {
		return nil, fmt.Errorf("texture: decoded empty %s image", format)
	}
	return img, nil
}

func DecodeBytes(data []byte) (*Image, error) {
	return Decode(bytes.NewReader(data))
}

func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("texture: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
