package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/adrium/goheif"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	xwebp "golang.org/x/image/webp"

	"github.com/galerly/transform/pkg/errors"
)

// Decoder turns sniffed source bytes into an in-memory raster.
type Decoder struct {
	// Name identifies the container family in logs.
	Name string

	// Match inspects leading bytes; file extensions are never trusted.
	Match func(data []byte) bool

	// Decode parses the full source into a raster.
	Decode func(data []byte) (image.Image, error)
}

// DecoderRegistry dispatches on detected magic-byte signatures. New
// formats are added by registering a decoder, not by editing a central
// conditional. Registration order matters: specific RAW signatures come
// before the generic TIFF match they would otherwise fall into.
type DecoderRegistry struct {
	decoders []Decoder
}

// Register appends a decoder to the registry.
func (r *DecoderRegistry) Register(d Decoder) {
	r.decoders = append(r.decoders, d)
}

// Detect returns the decoder whose signature matches, or nil.
func (r *DecoderRegistry) Detect(data []byte) *Decoder {
	for i := range r.decoders {
		if r.decoders[i].Match(data) {
			return &r.decoders[i]
		}
	}
	return nil
}

// Decode sniffs and decodes in one step. An unrecognized container is
// UNSUPPORTED_FORMAT; a recognized container that fails to parse is
// DECODE_FAILED. Neither outcome is ever cached as a rendition.
func (r *DecoderRegistry) Decode(data []byte) (image.Image, string, error) {
	if len(data) < 12 {
		return nil, "", errors.NewError(errors.ErrCodeDecodeFailed,
			"source too short to be an image")
	}

	dec := r.Detect(data)
	if dec == nil {
		return nil, "", errors.NewError(errors.ErrCodeUnsupportedFormat,
			"unrecognized source container")
	}

	img, err := dec.Decode(data)
	if err != nil {
		return nil, dec.Name, errors.Wrap(errors.ErrCodeDecodeFailed,
			fmt.Sprintf("failed to decode %s source", dec.Name), err)
	}
	return img, dec.Name, nil
}

// NewDecoderRegistry builds the default registry covering standard web
// formats, HEIC/HEIF, and the supported camera RAW containers.
func NewDecoderRegistry() *DecoderRegistry {
	r := &DecoderRegistry{}

	r.Register(Decoder{
		Name:  "jpeg",
		Match: matchPrefix(0xFF, 0xD8, 0xFF),
		Decode: func(data []byte) (image.Image, error) {
			return jpeg.Decode(bytes.NewReader(data))
		},
	})
	r.Register(Decoder{
		Name:  "png",
		Match: matchPrefix(0x89, 'P', 'N', 'G'),
		Decode: func(data []byte) (image.Image, error) {
			return png.Decode(bytes.NewReader(data))
		},
	})
	r.Register(Decoder{
		Name:  "gif",
		Match: matchPrefix('G', 'I', 'F', '8'),
		Decode: func(data []byte) (image.Image, error) {
			return gif.Decode(bytes.NewReader(data))
		},
	})
	r.Register(Decoder{
		Name: "webp",
		Match: func(data []byte) bool {
			return len(data) >= 12 &&
				bytes.Equal(data[0:4], []byte("RIFF")) &&
				bytes.Equal(data[8:12], []byte("WEBP"))
		},
		Decode: func(data []byte) (image.Image, error) {
			return xwebp.Decode(bytes.NewReader(data))
		},
	})
	r.Register(Decoder{
		Name:  "bmp",
		Match: matchPrefix('B', 'M'),
		Decode: func(data []byte) (image.Image, error) {
			return bmp.Decode(bytes.NewReader(data))
		},
	})
	r.Register(Decoder{
		Name: "heif",
		Match: func(data []byte) bool {
			switch ftypBrand(data) {
			case "heic", "heix", "hevc", "hevx", "heim", "heis", "mif1", "msf1":
				return true
			}
			return false
		},
		Decode: func(data []byte) (image.Image, error) {
			return goheif.Decode(bytes.NewReader(data))
		},
	})

	// Canon CR3 is an ISO-BMFF container, not TIFF.
	r.Register(Decoder{
		Name: "raw-cr3",
		Match: func(data []byte) bool {
			return ftypBrand(data) == "crx "
		},
		Decode: decodeScannedPreview,
	})
	r.Register(Decoder{
		Name:   "raw-raf",
		Match:  matchPrefix('F', 'U', 'J', 'I', 'F', 'I', 'L', 'M'),
		Decode: decodeScannedPreview,
	})
	r.Register(Decoder{
		Name:   "raw-x3f",
		Match:  matchPrefix('F', 'O', 'V', 'b'),
		Decode: decodeScannedPreview,
	})

	// Panasonic RW2 and Olympus ORF use TIFF structure with nonstandard
	// magic numbers, so the generic TIFF decoder never sees them.
	r.Register(Decoder{
		Name: "raw-rw2",
		Match: func(data []byte) bool {
			return len(data) >= 4 && data[0] == 'I' && data[1] == 'I' && data[2] == 0x55
		},
		Decode: decodeRawContainer,
	})
	r.Register(Decoder{
		Name: "raw-orf",
		Match: func(data []byte) bool {
			return len(data) >= 4 && data[0] == 'I' && data[1] == 'I' && data[2] == 'R' &&
				(data[3] == 'O' || data[3] == 'S')
		},
		Decode: decodeRawContainer,
	})

	// TIFF magic covers plain TIFF plus the TIFF-based RAW family
	// (DNG, CR2, NEF, ARW, PEF). A container carrying a usable embedded
	// JPEG preview is treated as RAW; otherwise it decodes as TIFF.
	r.Register(Decoder{
		Name: "tiff",
		Match: func(data []byte) bool {
			if len(data) < 8 {
				return false
			}
			le := data[0] == 'I' && data[1] == 'I' && data[2] == 0x2A && data[3] == 0x00
			be := data[0] == 'M' && data[1] == 'M' && data[2] == 0x00 && data[3] == 0x2A
			return le || be
		},
		Decode: func(data []byte) (image.Image, error) {
			if img, err := decodeRawContainer(data); err == nil {
				return img, nil
			}
			return tiff.Decode(bytes.NewReader(data))
		},
	})

	return r
}

func matchPrefix(prefix ...byte) func([]byte) bool {
	return func(data []byte) bool {
		return bytes.HasPrefix(data, prefix)
	}
}

// ftypBrand returns the ISO-BMFF major brand, or "" if the data is not an
// ISO container.
func ftypBrand(data []byte) string {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return ""
	}
	return string(data[8:12])
}
