package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"

	"github.com/galerly/transform/pkg/errors"
	"github.com/galerly/transform/pkg/types"
)

// encodeImage serializes the raster to the target format. Quality applies
// to lossy formats only.
func encodeImage(img image.Image, format types.Format, quality int) ([]byte, string, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case types.FormatPNG:
		err = png.Encode(&buf, img)
	case types.FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	}

	if err != nil {
		return nil, "", errors.Wrap(errors.ErrCodeEncodeFailed,
			fmt.Sprintf("failed to encode %s output", format), err).
			WithComponent("transform-engine").WithOperation("encode")
	}

	return buf.Bytes(), format.ContentType(), nil
}
