package codec

import (
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Metadata describes a source image.
type Metadata struct {
	Format      Format
	Width       int
	Height      int
	Size        int64
	Orientation int // EXIF orientation, 1 when absent
	CameraModel string
	TakenAt     *time.Time
}

// ReadMetadata returns the metadata of the image at path without decoding the
// pixel data. Sources whose format cannot be encoded yield ErrUnsupportedFormat.
func ReadMetadata(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Metadata{}, fmt.Errorf("stat: %w", err)
	}

	cfg, name, err := image.DecodeConfig(f)
	if err != nil {
		return Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	format, err := detectedFormat(name, path)
	if err != nil {
		return Metadata{}, err
	}

	meta := Metadata{
		Format:      format,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Size:        info.Size(),
		Orientation: 1,
	}

	if format == FormatJPG || format == FormatJPEG {
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			readEXIF(f, &meta)
		}
	}
	return meta, nil
}

// readEXIF fills the optional EXIF fields. Missing or broken EXIF data is not
// an error.
func readEXIF(r io.Reader, meta *Metadata) {
	x, err := exif.Decode(r)
	if err != nil {
		return
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if o, err := tag.Int(0); err == nil && o >= 1 && o <= 8 {
			meta.Orientation = o
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if model, err := tag.StringVal(); err == nil {
			meta.CameraModel = model
		}
	}
	if tm, err := x.DateTime(); err == nil {
		meta.TakenAt = &tm
	}
}
