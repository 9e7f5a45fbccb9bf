package engine

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/galerly/transform/pkg/errors"
)

// testImage builds a gradient raster so encoders produce nontrivial output.
func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

// noisyJPEG encodes random pixels so the stream stays well above the
// preview size floor.
func noisyJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	require.Greater(t, buf.Len(), minPreviewSize)
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDetectSignatures(t *testing.T) {
	r := NewDecoderRegistry()

	tests := []struct {
		name string
		data []byte
	}{
		{"jpeg", encodeJPEG(t, testImage(16, 16))},
		{"png", encodePNG(t, testImage(16, 16))},
		{"gif", encodeImageWith(t, func(buf *bytes.Buffer, img image.Image) error {
			return gif.Encode(buf, img, nil)
		})},
		{"bmp", encodeImageWith(t, func(buf *bytes.Buffer, img image.Image) error {
			return bmp.Encode(buf, img)
		})},
		{"webp", append([]byte("RIFF\x00\x00\x00\x00WEBP"), make([]byte, 16)...)},
		{"heif", isoContainer("heic")},
		{"raw-cr3", isoContainer("crx ")},
		{"raw-raf", append([]byte("FUJIFILM"), make([]byte, 24)...)},
		{"raw-x3f", append([]byte("FOVb"), make([]byte, 24)...)},
		{"raw-rw2", append([]byte{'I', 'I', 0x55, 0x00}, make([]byte, 24)...)},
		{"raw-orf", append([]byte{'I', 'I', 'R', 'O'}, make([]byte, 24)...)},
		{"tiff", append([]byte{'I', 'I', 0x2A, 0x00}, make([]byte, 24)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := r.Detect(tt.data)
			require.NotNil(t, dec, "no decoder matched")
			assert.Equal(t, tt.name, dec.Name)
		})
	}

	// Big-endian TIFF shares the decoder with little-endian.
	dec := r.Detect(append([]byte{'M', 'M', 0x00, 0x2A}, make([]byte, 24)...))
	require.NotNil(t, dec)
	assert.Equal(t, "tiff", dec.Name)
}

func encodeImageWith(t *testing.T, enc func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, enc(&buf, testImage(16, 16)))
	return buf.Bytes()
}

func isoContainer(brand string) []byte {
	data := make([]byte, 32)
	binary.BigEndian.PutUint32(data[0:4], 24)
	copy(data[4:8], "ftyp")
	copy(data[8:12], brand)
	return data
}

func TestDecodeStandardFormats(t *testing.T) {
	r := NewDecoderRegistry()
	src := testImage(32, 24)

	var tiffBuf bytes.Buffer
	require.NoError(t, tiff.Encode(&tiffBuf, src, nil))

	tests := []struct {
		container string
		data      []byte
	}{
		{"jpeg", encodeJPEG(t, src)},
		{"png", encodePNG(t, src)},
		{"tiff", tiffBuf.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.container, func(t *testing.T) {
			img, name, err := r.Decode(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.container, name)
			assert.Equal(t, 32, img.Bounds().Dx())
			assert.Equal(t, 24, img.Bounds().Dy())
		})
	}
}

func TestDecodeTooShort(t *testing.T) {
	r := NewDecoderRegistry()
	_, _, err := r.Decode([]byte{0xFF, 0xD8})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDecodeFailed, errors.CodeOf(err))
}

func TestDecodeUnrecognizedContainer(t *testing.T) {
	r := NewDecoderRegistry()
	_, _, err := r.Decode([]byte("this is definitely not an image"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnsupportedFormat, errors.CodeOf(err))
}

func TestDecodeCorruptJPEG(t *testing.T) {
	r := NewDecoderRegistry()
	data := append([]byte{0xFF, 0xD8, 0xFF}, bytes.Repeat([]byte{0xAB}, 64)...)
	_, name, err := r.Decode(data)
	require.Error(t, err)
	assert.Equal(t, "jpeg", name)
	assert.Equal(t, errors.ErrCodeDecodeFailed, errors.CodeOf(err))
}

// rawWithPreview builds a minimal little-endian TIFF container whose only
// IFD points at an embedded JPEG preview, the layout the TIFF-based RAW
// family uses.
func rawWithPreview(t *testing.T, preview []byte) []byte {
	t.Helper()

	const ifdOff = 8
	const previewOff = 64

	data := make([]byte, previewOff+len(preview))
	data[0], data[1], data[2], data[3] = 'I', 'I', 0x2A, 0x00
	binary.LittleEndian.PutUint32(data[4:8], ifdOff)

	// IFD: entry count, two LONG entries, next-IFD pointer.
	binary.LittleEndian.PutUint16(data[ifdOff:], 2)
	writeIFDEntry(data[ifdOff+2:], 0x0201, previewOff)
	writeIFDEntry(data[ifdOff+14:], 0x0202, uint32(len(preview)))
	binary.LittleEndian.PutUint32(data[ifdOff+26:], 0)

	copy(data[previewOff:], preview)
	return data
}

func writeIFDEntry(entry []byte, tag uint16, value uint32) {
	binary.LittleEndian.PutUint16(entry[0:2], tag)
	binary.LittleEndian.PutUint16(entry[2:4], 4) // LONG
	binary.LittleEndian.PutUint32(entry[4:8], 1)
	binary.LittleEndian.PutUint32(entry[8:12], value)
}

func TestDecodeRawEmbeddedPreview(t *testing.T) {
	r := NewDecoderRegistry()
	preview := noisyJPEG(t, 512, 384)
	data := rawWithPreview(t, preview)

	img, name, err := r.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "tiff", name)
	assert.Equal(t, 512, img.Bounds().Dx())
	assert.Equal(t, 384, img.Bounds().Dy())
}

func TestDecodeRawMarkerScan(t *testing.T) {
	r := NewDecoderRegistry()
	preview := noisyJPEG(t, 512, 384)

	// RAF has no TIFF index; the preview is found by scanning for its
	// start marker.
	data := append([]byte("FUJIFILMCCD-RAW "), make([]byte, 48)...)
	data = append(data, preview...)

	img, name, err := r.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "raw-raf", name)
	assert.Equal(t, 512, img.Bounds().Dx())
}

func TestDecodeRawNoPreview(t *testing.T) {
	r := NewDecoderRegistry()

	// A RAW signature with no embedded JPEG anywhere fails the decode.
	data := append([]byte("FOVb"), make([]byte, 64*1024)...)
	_, _, err := r.Decode(data)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDecodeFailed, errors.CodeOf(err))
}

// A well-formed HEIC signature with a broken container exercises the heif
// decode path end to end; a truncated file must come back as a decode
// failure, not a success or a crash.
func TestDecodeCorruptHEIC(t *testing.T) {
	r := NewDecoderRegistry()
	data := append(isoContainer("heic"), bytes.Repeat([]byte{0x00}, 64)...)

	_, name, err := r.Decode(data)
	require.Error(t, err)
	assert.Equal(t, "heif", name)
	assert.Equal(t, errors.ErrCodeDecodeFailed, errors.CodeOf(err))
}

// Full HEIC decoding needs a real camera file; the fixture is optional so
// the suite stays free of binary blobs.
func TestDecodeHEICFixture(t *testing.T) {
	data, err := os.ReadFile("testdata/sample.heic")
	if err != nil {
		t.Skip("no HEIC fixture present")
	}

	r := NewDecoderRegistry()
	img, name, err := r.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "heif", name)
	assert.Positive(t, img.Bounds().Dx())
	assert.Positive(t, img.Bounds().Dy())
}

func TestScannedPreviewRejectsThumbnails(t *testing.T) {
	// An embedded JPEG below the size floor is an EXIF thumbnail, not a
	// preview.
	small := encodeJPEG(t, testImage(64, 64))
	require.Less(t, len(small), minPreviewSize)

	data := append([]byte("FOVb\x00\x00\x00\x00"), small...)
	_, err := decodeScannedPreview(data)
	assert.ErrorIs(t, err, errNoPreview)
}
