package engine

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/galerly/transform/pkg/types"
)

// applyResize implements the fit-mode geometry rules. Lanczos resampling
// throughout; nearest-neighbor aliases badly on photographic content.
func applyResize(img image.Image, req *types.TransformRequest) image.Image {
	switch {
	case req.Width > 0 && req.Height > 0:
		switch req.Fit {
		case types.FitCover:
			return imaging.Fill(img, req.Width, req.Height, imaging.Center, imaging.Lanczos)
		case types.FitFill:
			return imaging.Resize(img, req.Width, req.Height, imaging.Lanczos)
		default: // inside: fits within the box, never upscales
			return imaging.Fit(img, req.Width, req.Height, imaging.Lanczos)
		}
	case req.Width > 0:
		return imaging.Resize(img, req.Width, 0, imaging.Lanczos)
	case req.Height > 0:
		return imaging.Resize(img, 0, req.Height, imaging.Lanczos)
	default:
		return img
	}
}

// isOpaque reports whether the raster carries no transparency. Unknown
// image implementations are treated as transparent so they get flattened.
func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

// flattenOnWhite composites the image over an opaque white background.
// Required before encoding to a format without an alpha channel; naive
// alpha dropping turns transparent regions black.
func flattenOnWhite(img image.Image) image.Image {
	src := imaging.Clone(img)
	bg := imaging.New(src.Bounds().Dx(), src.Bounds().Dy(), color.White)
	return imaging.Overlay(bg, src, image.Pt(0, 0), 1.0)
}
