package decode

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/soocke/qrscan/domain/session"
)

// ReadImage loads a still image, applying its EXIF orientation.
func ReadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: read %s: %w", path, err)
	}
	return img, nil
}

// DecodeFile reads path and decodes every code in it. It does not touch
// any capture session.
func DecodeFile(ctx context.Context, dec session.Decoder, path string) ([]session.Symbol, error) {
	img, err := ReadImage(path)
	if err != nil {
		return nil, err
	}
	return dec.Decode(ctx, img)
}

// DecodeReader decodes every code in the image read from r.
func DecodeReader(ctx context.Context, dec session.Decoder, r io.Reader) ([]session.Symbol, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: read image: %w", err)
	}
	return dec.Decode(ctx, img)
}
