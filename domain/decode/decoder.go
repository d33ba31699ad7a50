package decode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/soocke/qrscan/domain/session"
)

// ErrUnreadable marks a code that was located but could not be read
// (checksum or format damage).
var ErrUnreadable = errors.New("decode: unreadable code")

const defaultMaxDimension = 1600

// Options tunes the QR decoder.
type Options struct {
	// TryHarder spends more time looking for codes.
	TryHarder bool
	// MaxDimension downscales larger images before decoding. Zero uses the
	// default; negative disables scaling.
	MaxDimension int
}

// QR decodes QR codes. It implements session.Decoder and is safe for
// concurrent use.
type QR struct {
	logger *slog.Logger
	opts   Options
}

func NewQR(logger *slog.Logger, opts Options) *QR {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxDimension == 0 {
		opts.MaxDimension = defaultMaxDimension
	}
	return &QR{logger: logger, opts: opts}
}

func (q *QR) hints() map[gozxing.DecodeHintType]interface{} {
	if !q.opts.TryHarder {
		return nil
	}
	return map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true}
}

// Decode returns every QR code found in img. An image without a code
// yields no symbols and no error.
func (q *QR) Decode(ctx context.Context, img image.Image) ([]session.Symbol, error) {
	if img == nil {
		return nil, errors.New("decode: nil image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, scale := q.prepare(img)
	bmp, err := gozxing.NewBinaryBitmapFromImage(src)
	if err != nil {
		return nil, fmt.Errorf("decode: binarize: %w", err)
	}

	results, err := multiqr.NewQRCodeMultiReader().DecodeMultiple(bmp, q.hints())
	if err != nil || len(results) == 0 {
		// The multi reader gives up on codes the single reader still finds
		// when the finder patterns are ambiguous.
		var res *gozxing.Result
		res, err = qrcode.NewQRCodeReader().Decode(bmp, q.hints())
		if err != nil {
			return nil, classify(err)
		}
		results = []*gozxing.Result{res}
	}

	symbols := make([]session.Symbol, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	origin := img.Bounds().Min
	for _, r := range results {
		if _, dup := seen[r.GetText()]; dup {
			continue
		}
		seen[r.GetText()] = struct{}{}
		symbols = append(symbols, toSymbol(r, scale, origin))
	}
	return symbols, nil
}

// prepare downscales img so its longest side fits MaxDimension and returns
// the factor that maps result points back to img coordinates.
func (q *QR) prepare(img image.Image) (image.Image, float64) {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if q.opts.MaxDimension < 0 || longest <= q.opts.MaxDimension {
		return img, 1
	}
	scaled := imaging.Fit(img, q.opts.MaxDimension, q.opts.MaxDimension, imaging.Linear)
	return scaled, float64(longest) / float64(max(scaled.Bounds().Dx(), scaled.Bounds().Dy()))
}

func classify(err error) error {
	switch err.(type) {
	case gozxing.NotFoundException:
		return nil
	case gozxing.ChecksumException, gozxing.FormatException:
		return fmt.Errorf("%w: %w", ErrUnreadable, err)
	default:
		return fmt.Errorf("decode: %w", err)
	}
}

func toSymbol(r *gozxing.Result, scale float64, origin image.Point) session.Symbol {
	s := session.Symbol{Text: r.GetText(), Format: r.GetBarcodeFormat().String()}
	for _, p := range r.GetResultPoints() {
		if p == nil {
			continue
		}
		s.Points = append(s.Points, image.Pt(int(p.GetX()*scale+0.5), int(p.GetY()*scale+0.5)).Add(origin))
	}
	return s
}
