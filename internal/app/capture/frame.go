package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/dkeye/airboard/internal/domain"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	penRadius    = 4
	eraserRadius = 20
)

var (
	penColor    = color.RGBA{G: 255, A: 255}
	eraserColor = color.RGBA{R: 255, A: 255}
	idleColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Mirror returns a horizontally flipped RGBA copy of src.
func Mirror(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.X-1-x, y-b.Min.Y, src.At(x, y))
		}
	}
	return dst
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Annotate draws the pointer of every hand and a label in the top left corner.
// src is not modified when it is not an *image.RGBA.
func Annotate(src image.Image, hands []domain.Hand, label string) *image.RGBA {
	img := toRGBA(src)
	b := img.Bounds()
	for _, h := range hands {
		x := b.Min.X + int(h.Index.X*float64(b.Dx()))
		y := b.Min.Y + int(h.Index.Y*float64(b.Dy()))
		switch h.Mode {
		case domain.ModeErase:
			ring(img, x, y, eraserRadius, eraserColor)
		case domain.ModeDraw:
			ring(img, x, y, penRadius+2, penColor)
		default:
			ring(img, x, y, penRadius, idleColor)
		}
		dot(img, x, y, 2, idleColor)
	}
	if label != "" {
		addLabel(img, b.Min.X+4, b.Min.Y+4, label)
	}
	return img
}

func addLabel(img *image.RGBA, x, y int, label string) {
	draw.Draw(img, image.Rect(x, y, x+len(label)*7+3, y+12), &image.Uniform{C: color.RGBA{A: 255}}, image.Point{}, draw.Src)
	(&font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(idleColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(y + 10)},
	}).DrawString(label)
}

func ring(img *image.RGBA, cx, cy, r int, c color.Color) {
	outer, inner := r*r, (r-2)*(r-2)
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			d := x*x + y*y
			if d <= outer && d >= inner {
				img.Set(cx+x, cy+y, c)
			}
		}
	}
}

func dot(img *image.RGBA, cx, cy, r int, c color.Color) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			if x*x+y*y <= r*r {
				img.Set(cx+x, cy+y, c)
			}
		}
	}
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
