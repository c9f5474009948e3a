package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"

	"github.com/seojinpark/crosspost/internal/domain"
)

const defaultQuality = 90

// Pipeline normalizes arbitrary image files into lossy-encoded blobs that
// fit under a platform's byte ceiling. It implements
// domain.AttachmentPreparer.
type Pipeline struct {
	quality int
}

// NewPipeline creates a Pipeline encoding at the default quality.
func NewPipeline() *Pipeline {
	return &Pipeline{quality: defaultQuality}
}

// Prepare decodes data (JPEG, PNG, GIF, or WebP) and re-encodes it as JPEG.
// When maxBytes is non-zero and the encoded size exceeds it, the working
// resolution is halved and re-encoded until the result fits or either
// dimension reaches 1 pixel. The geometric shrink bounds the loop by
// log2(max(width, height)) iterations. The returned dimensions are those of
// the final encoding.
func (p *Pipeline) Prepare(ctx context.Context, data []byte, maxBytes int) (*domain.PreparedAttachment, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	encoded, err := p.encode(img)
	if err != nil {
		return nil, err
	}

	if maxBytes > 0 {
		for len(encoded) > maxBytes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			bounds := img.Bounds()
			w, h := bounds.Dx(), bounds.Dy()
			if w <= 1 && h <= 1 {
				break
			}

			img = downscale(img, max(1, w/2), max(1, h/2))
			encoded, err = p.encode(img)
			if err != nil {
				return nil, err
			}
		}
	}

	bounds := img.Bounds()
	return &domain.PreparedAttachment{
		Data:     encoded,
		MimeType: "image/jpeg",
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

func (p *Pipeline) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func downscale(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
