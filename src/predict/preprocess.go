package predict

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultImageSize = 224

	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

// MaxImagePixels bounds width*height of an upload before it gets decoded.
const MaxImagePixels = 40_000_000

var supportedMimeTypes = []string{"image/jpeg", "image/png", "image/gif"}

// DecodeImage sniffs and decodes an uploaded image. Anything that isn't a
// supported raster format yields ErrInvalidInput.
func DecodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrInvalidInput)
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), supportedMimeTypes...) {
		return nil, mtype.String(), fmt.Errorf("%w: %s", ErrInvalidInput, mtype.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, mtype.String(), fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, mtype.String(), fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, mtype.String(), fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidInput, cfg.Width, cfg.Height, MaxImagePixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, mtype.String(), fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if img.Bounds().Empty() {
		return nil, mtype.String(), fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	return img, mtype.String(), nil
}

// Preprocess resizes img to size x size using nearest neighbor sampling and
// returns the pixels as float32 in [0,1] with a leading batch dimension of 1.
// The caller owns the returned tensor and has to Release it.
func Preprocess(img image.Image, size int, layout string) *Tensor {
	if size <= 0 {
		size = DefaultImageSize
	}

	resized := imaging.Resize(img, size, size, imaging.NearestNeighbor)

	var t *Tensor
	s := int64(size)
	if layout == LayoutNCHW {
		t = NewTensor(1, 3, s, s)
	} else {
		t = NewTensor(1, s, s, 3)
	}

	plane := size * size
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+size*4]
		for x := 0; x < size; x++ {
			r := float32(row[x*4]) / 255.0
			g := float32(row[x*4+1]) / 255.0
			b := float32(row[x*4+2]) / 255.0

			px := y*size + x
			if layout == LayoutNCHW {
				t.Data[px] = r
				t.Data[plane+px] = g
				t.Data[2*plane+px] = b
			} else {
				t.Data[px*3] = r
				t.Data[px*3+1] = g
				t.Data[px*3+2] = b
			}
		}
	}
	return t
}
