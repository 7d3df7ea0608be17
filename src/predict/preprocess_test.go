package predict

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func quadrantImage(size int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	half := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			switch {
			case x < half && y < half:
				img.Set(x, y, color.NRGBA{R: 255, A: 255})
			case x >= half && y < half:
				img.Set(x, y, color.NRGBA{G: 255, A: 255})
			case x < half:
				img.Set(x, y, color.NRGBA{B: 255, A: 255})
			default:
				img.Set(x, y, color.NRGBA{R: 51, G: 102, B: 204, A: 255})
			}
		}
	}
	return img
}

func TestPreprocess_NHWC(t *testing.T) {
	req := require.New(t)

	tensor := Preprocess(quadrantImage(100), 4, LayoutNHWC)
	defer tensor.Release()

	req.Equal([]int64{1, 4, 4, 3}, tensor.Shape)
	req.Len(tensor.Data, 48)

	// top-left pixel is pure red
	req.Equal([]float32{1, 0, 0}, tensor.Data[0:3])
	// bottom-right pixel keeps its exact color with nearest neighbor
	last := (4*4 - 1) * 3
	req.InDelta(51.0/255.0, tensor.Data[last], 1e-6)
	req.InDelta(102.0/255.0, tensor.Data[last+1], 1e-6)
	req.InDelta(204.0/255.0, tensor.Data[last+2], 1e-6)
}

func TestPreprocess_NCHW(t *testing.T) {
	req := require.New(t)

	tensor := Preprocess(quadrantImage(8), 2, LayoutNCHW)
	defer tensor.Release()

	req.Equal([]int64{1, 3, 2, 2}, tensor.Shape)
	// red plane, green plane, blue plane
	req.Equal([]float32{1, 0, 0, 0.2}, tensor.Data[0:4])
	req.Equal([]float32{0, 1, 0, 0.4}, tensor.Data[4:8])
	req.Equal([]float32{0, 0, 1, 0.8}, tensor.Data[8:12])
}

func TestPreprocess_DefaultSize(t *testing.T) {
	req := require.New(t)

	tensor := Preprocess(quadrantImage(10), 0, "")
	defer tensor.Release()

	req.Equal([]int64{1, DefaultImageSize, DefaultImageSize, 3}, tensor.Shape)
}

func emptyGif(t *testing.T) []byte {
	var buf bytes.Buffer
	img := image.NewPaletted(image.Rect(0, 0, 0, 0), color.Palette{color.Black, color.White})
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

// oversizedPng returns a valid 1x1 png whose header claims width x height.
func oversizedPng(t *testing.T, width, height uint32) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, quadrantImage(1)))
	data := buf.Bytes()

	// IHDR: length(4) type(4) data(13) crc(4), right after the 8 byte signature
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecodeImage_EmptyRaster(t *testing.T) {
	_, format, err := DecodeImage(emptyGif(t))

	require.ErrorIs(t, err, ErrInvalidInput)
	require.Equal(t, "image/gif", format)
}

func TestDecodeImage_TooManyPixels(t *testing.T) {
	_, _, err := DecodeImage(oversizedPng(t, 40000, 40000))

	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestDecodeImage(t *testing.T) {
	req := require.New(t)

	var buf bytes.Buffer
	req.NoError(png.Encode(&buf, quadrantImage(6)))

	img, format, err := DecodeImage(buf.Bytes())
	req.NoError(err)
	req.Equal("image/png", format)
	req.Equal(6, img.Bounds().Dx())

	_, format, err = DecodeImage([]byte("%PDF-1.4 not an image"))
	req.ErrorIs(err, ErrInvalidInput)
	req.Equal("application/pdf", format)

	// a 0x0 raster is a valid gif but nothing to classify
	_, format, err = DecodeImage(emptyGif(t))
	req.ErrorIs(err, ErrInvalidInput)
	req.Equal("image/gif", format)
}

func TestTensor_ReleaseIsIdempotent(t *testing.T) {
	req := require.New(t)

	tensor := NewTensor(2, 3)
	req.Len(tensor.Data, 6)
	tensor.Data[0] = 42

	tensor.Release()
	tensor.Release()
	req.True(tensor.Released())

	// reused buffers come back zeroed
	next := NewTensor(6)
	defer next.Release()
	req.Equal(make([]float32, 6), next.Data)
}

func TestTensor_ArgMax(t *testing.T) {
	req := require.New(t)

	tensor := NewTensor(4)
	defer tensor.Release()
	copy(tensor.Data, []float32{0.1, 0.6, 0.2, 0.1})

	idx, v := tensor.ArgMax()
	req.Equal(1, idx)
	req.Equal(float32(0.6), v)
}
