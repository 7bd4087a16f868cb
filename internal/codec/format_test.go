package codec_test

import (
	"errors"
	"testing"

	"image-optimizer-go/internal/codec"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    codec.Format
		wantErr bool
	}{
		{"jpg", codec.FormatJPG, false},
		{"JPEG", codec.FormatJPEG, false},
		{".png", codec.FormatPNG, false},
		{" gif ", codec.FormatGIF, false},
		{"webp", "", true},
		{"bmp", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := codec.ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, codec.ErrUnsupportedFormat) {
				t.Errorf("ParseFormat(%q) error = %v, want ErrUnsupportedFormat", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTargetResolve(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		detected codec.Format
		want     codec.Format
	}{
		{"empty keeps jpg", "", codec.FormatJPG, codec.FormatJPG},
		{"empty keeps gif", "", codec.FormatGIF, codec.FormatGIF},
		{"whitespace keeps png", "  ", codec.FormatPNG, codec.FormatPNG},
		{"override png", "png", codec.FormatJPG, codec.FormatPNG},
		{"override jpeg", "jpeg", codec.FormatGIF, codec.FormatJPEG},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := codec.ParseTarget(tt.in)
			if err != nil {
				t.Fatalf("ParseTarget(%q): %v", tt.in, err)
			}
			if got := target.Resolve(tt.detected); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.detected, got, tt.want)
			}
		})
	}
}

func TestTargetOverride(t *testing.T) {
	if _, ok := codec.SourceFormat().Override(); ok {
		t.Error("SourceFormat().Override() reported an override")
	}
	if got := codec.SourceFormat().String(); got != "source" {
		t.Errorf("SourceFormat().String() = %q, want %q", got, "source")
	}

	f, ok := codec.Override(codec.FormatGIF).Override()
	if !ok || f != codec.FormatGIF {
		t.Errorf("Override(gif).Override() = %q, %v, want gif, true", f, ok)
	}

	var zero codec.Target
	if zero != codec.SourceFormat() {
		t.Error("zero Target should keep the source format")
	}

	if _, err := codec.ParseTarget("tiff"); err == nil {
		t.Error("ParseTarget(tiff) should fail")
	}
}

func TestSupportedFormats(t *testing.T) {
	formats := codec.SupportedFormats()
	if len(formats) != 4 {
		t.Fatalf("SupportedFormats() returned %d formats, want 4", len(formats))
	}
	for _, info := range formats {
		if _, err := codec.ParseFormat(info.Format.String()); err != nil {
			t.Errorf("listed format %q does not parse: %v", info.Format, err)
		}
	}
}
