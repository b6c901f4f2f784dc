package pixels

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// Accepted upload formats, as reported by image.DecodeConfig.
var acceptedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
}

// Decode reads a JPEG or PNG upload and returns its decoded image together
// with the detected format name. EXIF orientation is not applied, so the
// pixel grid matches the file as stored.
func Decode(r io.Reader) (image.Image, string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	if !acceptedFormats[format] {
		return nil, format, fmt.Errorf("%w: %s (accepted: jpeg, png)", ErrUnsupportedFormat, format)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, format, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, format, nil
}
