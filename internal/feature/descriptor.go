package feature

import (
	"context"
	"image"
	"math"

	"golang.org/x/image/draw"
)

const (
	gridSize  = 16
	histBins  = 4
	histSize  = histBins * histBins * histBins
	descWidth = gridSize*gridSize + histSize

	// Images are shrunk to fit this side length before they are described.
	describeSide = 256
)

// Descriptor is an in-process global image descriptor: a 16x16 luminance
// thumbnail followed by a 4x4x4 RGB histogram, L2-normalised as a whole.
type Descriptor struct {
	maxPixels int
}

type DescriptorOption func(*Descriptor)

// WithMaxPixels caps the decoded size of accepted images. Non-positive
// values keep DefaultMaxPixels.
func WithMaxPixels(n int) DescriptorOption {
	return func(d *Descriptor) {
		if n > 0 {
			d.maxPixels = n
		}
	}
}

func NewDescriptor(opts ...DescriptorOption) *Descriptor {
	d := &Descriptor{maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Descriptor) Name() string   { return "descriptor" }
func (d *Descriptor) Dimension() int { return descWidth }

func (d *Descriptor) Extract(ctx context.Context, data []byte) ([]float32, error) {
	img, _, err := Decode(data, d.maxPixels)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return describe(shrink(img)), nil
}

// shrink scales img down to fit within describeSide on both sides. Smaller
// images are returned unchanged.
func shrink(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if longest <= describeSide {
		return img
	}
	dw := max(1, w*describeSide/longest)
	dh := max(1, h*describeSide/longest)
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func describe(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var lum [gridSize * gridSize]float64
	var cnt [gridSize * gridSize]float64
	var hist [histSize]float64

	for y := b.Min.Y; y < b.Max.Y; y++ {
		gy := (y - b.Min.Y) * gridSize / h
		for x := b.Min.X; x < b.Max.X; x++ {
			gx := (x - b.Min.X) * gridSize / w
			r, g, bl, _ := img.At(x, y).RGBA()
			r8, g8, b8 := r>>8, g>>8, bl>>8

			cell := gy*gridSize + gx
			lum[cell] += 0.299*float64(r8) + 0.587*float64(g8) + 0.114*float64(b8)
			cnt[cell]++

			bin := (int(r8)*histBins/256)*histBins*histBins + (int(g8)*histBins/256)*histBins + int(b8)*histBins/256
			hist[bin]++
		}
	}

	out := make([]float64, descWidth)
	for i := range lum {
		if cnt[i] > 0 {
			out[i] = lum[i] / cnt[i] / 255
		}
	}
	total := float64(w * h)
	for i := range hist {
		out[gridSize*gridSize+i] = hist[i] / total
	}

	var norm float64
	for _, v := range out {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, descWidth)
	for i, v := range out {
		if norm > 0 {
			v /= norm
		}
		vec[i] = float32(v)
	}
	return vec
}
