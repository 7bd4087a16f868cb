package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

const (
	MinQuality = 1
	MaxQuality = 100
)

// Source is a decoded image together with its metadata.
type Source struct {
	Path     string
	Image    image.Image
	Metadata Metadata
}

// Codec decodes source images and encodes them at a quality level.
type Codec interface {
	Decode(path string) (*Source, error)
	Encode(img image.Image, format Format, quality int) ([]byte, error)
}

// ImagingCodec implements Codec on top of disintegration/imaging.
type ImagingCodec struct{}

// NewImagingCodec creates a new ImagingCodec instance.
func NewImagingCodec() *ImagingCodec {
	return &ImagingCodec{}
}

// Decode reads the image at path and applies its EXIF orientation.
func (c *ImagingCodec) Decode(path string) (*Source, error) {
	meta, err := ReadMetadata(path)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	return &Source{Path: path, Image: img, Metadata: meta}, nil
}

// Encode returns img encoded as format at the given quality.
func (c *ImagingCodec) Encode(img image.Image, format Format, quality int) ([]byte, error) {
	if quality < MinQuality || quality > MaxQuality {
		return nil, fmt.Errorf("quality %d out of range [%d, %d]", quality, MinQuality, MaxQuality)
	}
	kind, err := format.imagingFormat()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch kind {
	case imaging.JPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case imaging.PNG:
		if quality < MaxQuality {
			img = quantize(img, quality)
		}
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case imaging.GIF:
		p := quantize(img, quality)
		err = imaging.Encode(&buf, p, imaging.GIF, imaging.GIFNumColors(len(p.Palette)))
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// paletteLevels returns the number of levels per colour channel used at the
// given quality: 6 at quality 100 down to 2 at the lowest qualities.
func paletteLevels(quality int) int {
	return 2 + quality*4/MaxQuality
}

// uniformPalette spreads levels values evenly over each RGB channel.
func uniformPalette(levels int, transparent bool) color.Palette {
	pal := make(color.Palette, 0, levels*levels*levels+1)
	step := 255 / (levels - 1)
	for r := 0; r < levels; r++ {
		for g := 0; g < levels; g++ {
			for b := 0; b < levels; b++ {
				pal = append(pal, color.RGBA{
					R: uint8(r * step),
					G: uint8(g * step),
					B: uint8(b * step),
					A: 0xff,
				})
			}
		}
	}
	if transparent {
		pal = append(pal, color.RGBA{})
	}
	return pal
}

// quantize dithers img onto a uniform palette sized for quality.
func quantize(img image.Image, quality int) *image.Paletted {
	opaque := true
	if o, ok := img.(interface{ Opaque() bool }); ok {
		opaque = o.Opaque()
	}
	bounds := img.Bounds()
	dst := image.NewPaletted(bounds, uniformPalette(paletteLevels(quality), !opaque))
	draw.FloydSteinberg.Draw(dst, bounds, img, bounds.Min)
	return dst
}
