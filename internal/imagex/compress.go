// Package imagex prepares images for upload: decode, bound the longest side,
// re-encode as JPEG. Re-encoding drops EXIF metadata.
package imagex

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const ContentType = "image/jpeg"

// MaxDecodedBytes bounds the RGBA size a header may claim before decoding.
const MaxDecodedBytes int64 = 256 << 20

var ErrTooLarge = errors.New("image too large")

// Compress decodes data and returns a JPEG whose longest side is at most
// maxDim pixels (0 keeps the original size).
func Compress(data []byte, maxDim, quality int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read image dimensions: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height)*4 > MaxDecodedBytes {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	dst := Scale(src, maxDim)

	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Fit returns the size of a w x h box scaled down so its longest side is at
// most maxDim, keeping the aspect ratio.
func Fit(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		nh := h * maxDim / w
		return maxDim, max(nh, 1)
	}
	nw := w * maxDim / h
	return max(nw, 1), maxDim
}

// Scale draws src onto an opaque RGBA canvas of the fitted size. Transparent
// areas become white since JPEG has no alpha.
func Scale(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), maxDim)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
