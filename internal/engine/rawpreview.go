package engine

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"sort"

	"github.com/galerly/transform/pkg/errors"
)

// Every supported RAW container embeds at least one full-size JPEG
// rendering of the frame. Decoding that preview instead of demosaicing the
// sensor data keeps memory bounded by the preview size regardless of how
// large the mosaic is.

// minPreviewSize filters out EXIF thumbnails, which are a few KB.
const minPreviewSize = 24 * 1024

// maxIFDDepth bounds the SubIFD recursion on malformed files.
const maxIFDDepth = 4

var errNoPreview = errors.New("no embedded preview found")

type previewSpan struct {
	off    uint32
	length uint32
}

// decodeRawContainer extracts and decodes the largest embedded JPEG
// preview from a TIFF-structured RAW file, falling back to a marker scan
// when the IFD walk finds nothing.
func decodeRawContainer(data []byte) (image.Image, error) {
	for _, s := range tiffPreviewSpans(data) {
		if img, err := jpeg.Decode(bytes.NewReader(data[s.off : s.off+s.length])); err == nil {
			return img, nil
		}
	}
	return decodeScannedPreview(data)
}

// tiffPreviewSpans walks the IFD chain (including SubIFDs) and collects
// candidate JPEG streams, largest first. It accepts nonstandard magic
// numbers after the byte-order mark because several RAW variants use them.
func tiffPreviewSpans(data []byte) []previewSpan {
	if len(data) < 8 {
		return nil
	}

	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil
	}

	var spans []previewSpan
	walkIFD(data, order, order.Uint32(data[4:8]), 0, &spans)

	sort.Slice(spans, func(i, j int) bool { return spans[i].length > spans[j].length })
	return spans
}

func walkIFD(data []byte, order binary.ByteOrder, offset uint32, depth int, spans *[]previewSpan) {
	if depth > maxIFDDepth {
		return
	}
	if offset == 0 || int(offset)+2 > len(data) {
		return
	}

	count := order.Uint16(data[offset : offset+2])
	entriesEnd := int(offset) + 2 + int(count)*12
	if entriesEnd+4 > len(data) {
		return
	}

	var jpegOff, jpegLen, stripOff, stripLen uint32
	var compression uint16

	for i := 0; i < int(count); i++ {
		entry := data[int(offset)+2+i*12:]
		tag := order.Uint16(entry[0:2])
		typ := order.Uint16(entry[2:4])
		cnt := order.Uint32(entry[4:8])

		switch tag {
		case 0x0103: // Compression
			compression = uint16(entryScalar(order, typ, entry[8:12]))
		case 0x0111: // StripOffsets
			if cnt == 1 {
				stripOff = entryScalar(order, typ, entry[8:12])
			}
		case 0x0117: // StripByteCounts
			if cnt == 1 {
				stripLen = entryScalar(order, typ, entry[8:12])
			}
		case 0x0201: // JPEGInterchangeFormat
			jpegOff = entryScalar(order, typ, entry[8:12])
		case 0x0202: // JPEGInterchangeFormatLength
			jpegLen = entryScalar(order, typ, entry[8:12])
		case 0x014A: // SubIFDs
			if cnt == 1 {
				walkIFD(data, order, order.Uint32(entry[8:12]), depth+1, spans)
			} else {
				arrOff := order.Uint32(entry[8:12])
				for j := uint32(0); j < cnt && j < 16; j++ {
					p := int(arrOff) + int(j)*4
					if p+4 > len(data) {
						break
					}
					walkIFD(data, order, order.Uint32(data[p:p+4]), depth+1, spans)
				}
			}
		}
	}

	addSpan(data, jpegOff, jpegLen, spans)

	// Old-style (6) and new-style (7) JPEG compression mark strips that
	// are themselves complete JPEG streams, e.g. the CR2 IFD0 preview.
	if compression == 6 || compression == 7 {
		addSpan(data, stripOff, stripLen, spans)
	}

	next := order.Uint32(data[entriesEnd : entriesEnd+4])
	if next > offset { // forward-only, malformed chains can loop
		walkIFD(data, order, next, depth+1, spans)
	}
}

func addSpan(data []byte, off, length uint32, spans *[]previewSpan) {
	if off == 0 || length < minPreviewSize {
		return
	}
	end := uint64(off) + uint64(length)
	if end > uint64(len(data)) {
		return
	}
	if data[off] != 0xFF || data[off+1] != 0xD8 {
		return
	}
	*spans = append(*spans, previewSpan{off: off, length: length})
}

// entryScalar reads a single SHORT or LONG value from an IFD entry's
// inline value field.
func entryScalar(order binary.ByteOrder, typ uint16, value []byte) uint32 {
	if typ == 3 { // SHORT
		return uint32(order.Uint16(value[0:2]))
	}
	return order.Uint32(value[0:4])
}

var jpegSOI = []byte{0xFF, 0xD8, 0xFF}

// decodeScannedPreview locates embedded JPEG streams by their start
// markers and decodes the largest one. Used for RAW containers without a
// TIFF index (CR3, RAF, X3F) and as a last resort for TIFF-based ones.
func decodeScannedPreview(data []byte) (image.Image, error) {
	var best image.Image
	bestPixels := 0

	pos := 0
	for attempts := 0; attempts < 6; attempts++ {
		idx := bytes.Index(data[pos:], jpegSOI)
		if idx < 0 {
			break
		}
		start := pos + idx

		if len(data)-start >= minPreviewSize {
			if img, err := jpeg.Decode(bytes.NewReader(data[start:])); err == nil {
				b := img.Bounds()
				if pixels := b.Dx() * b.Dy(); pixels > bestPixels {
					best = img
					bestPixels = pixels
				}
				// A full-size preview ends the search.
				if b.Dx() >= 1024 || b.Dy() >= 1024 {
					break
				}
			}
		}
		pos = start + 3
	}

	if best == nil || bestPixels < 256*256 {
		return nil, errNoPreview
	}
	return best, nil
}
