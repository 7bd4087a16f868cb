// Package codec wraps the image codec library used by the optimizer. It
// decodes source images, reports their metadata and encodes them back at a
// given quality level in one of the supported output formats.
package codec

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrUnsupportedFormat is returned for format names and source images that
// the codec cannot encode.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Format is an output encoding. Its value doubles as the output file extension.
type Format string

const (
	FormatJPG  Format = "jpg"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
)

// FormatInfo describes a supported format for listings.
type FormatInfo struct {
	Format      Format
	Encoding    string
	Lossy       bool
	Description string
}

// SupportedFormats returns every format the codec can encode, in display order.
func SupportedFormats() []FormatInfo {
	return []FormatInfo{
		{
			Format:      FormatJPG,
			Encoding:    "JPEG",
			Lossy:       true,
			Description: "Baseline JPEG, quality maps directly to the encoder quality",
		},
		{
			Format:      FormatJPEG,
			Encoding:    "JPEG",
			Lossy:       true,
			Description: "Same encoder as jpg with the .jpeg extension",
		},
		{
			Format:      FormatPNG,
			Encoding:    "PNG",
			Lossy:       false,
			Description: "Full colour at quality 100, dithered palette below",
		},
		{
			Format:      FormatGIF,
			Encoding:    "GIF",
			Lossy:       true,
			Description: "Dithered palette, colour count shrinks with quality",
		},
	}
}

// ParseFormat returns the Format named by s. Matching is case-insensitive and
// a leading dot is ignored.
func ParseFormat(s string) (Format, error) {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	switch Format(name) {
	case FormatJPG, FormatJPEG, FormatPNG, FormatGIF:
		return Format(name), nil
	}
	return "", fmt.Errorf("%w: %q (valid: jpg, jpeg, png, gif)", ErrUnsupportedFormat, s)
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	return string(f)
}

func (f Format) String() string {
	return string(f)
}

// imagingFormat maps the format onto the encoder used by imaging.
func (f Format) imagingFormat() (imaging.Format, error) {
	switch f {
	case FormatJPG, FormatJPEG:
		return imaging.JPEG, nil
	case FormatPNG:
		return imaging.PNG, nil
	case FormatGIF:
		return imaging.GIF, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
}

// detectedFormat maps a decoder format name onto an output Format. JPEG keeps
// the spelling of the source file's extension.
func detectedFormat(decoderName, path string) (Format, error) {
	switch decoderName {
	case "jpeg":
		if strings.EqualFold(filepath.Ext(path), ".jpeg") {
			return FormatJPEG, nil
		}
		return FormatJPG, nil
	case "png":
		return FormatPNG, nil
	case "gif":
		return FormatGIF, nil
	}
	return "", fmt.Errorf("%w: detected %q", ErrUnsupportedFormat, decoderName)
}

// Target selects the output format of a task: either the source image's own
// format or an explicit override. The zero value keeps the source format.
type Target struct {
	format Format
}

// SourceFormat keeps each file's detected format.
func SourceFormat() Target {
	return Target{}
}

// Override forces every output into f.
func Override(f Format) Target {
	return Target{format: f}
}

// ParseTarget parses a user supplied format. An empty string keeps the
// source format.
func ParseTarget(s string) (Target, error) {
	if strings.TrimSpace(s) == "" {
		return SourceFormat(), nil
	}
	f, err := ParseFormat(s)
	if err != nil {
		return Target{}, err
	}
	return Override(f), nil
}

// Override returns the forced format, if any.
func (t Target) Override() (Format, bool) {
	return t.format, t.format != ""
}

// Resolve returns the effective output format for a source whose detected
// format is detected.
func (t Target) Resolve(detected Format) Format {
	if f, ok := t.Override(); ok {
		return f
	}
	return detected
}

func (t Target) String() string {
	if f, ok := t.Override(); ok {
		return f.String()
	}
	return "source"
}
