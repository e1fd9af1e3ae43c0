package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
)

// Target matrix for optimized renditions. Every uploaded image gets
// len(Formats) x len(Widths) derived copies.
var (
	Formats = []string{"webp", "jpeg"}
	Widths  = []int{400, 800, 1200}
)

// FormatMime maps an output format to its mime type.
var FormatMime = map[string]string{
	"webp": "image/webp",
	"jpeg": "image/jpeg",
}

const (
	jpegQuality = 90
	webpQuality = 90
)

// Rendition is one resized, re-encoded copy plus its resulting metadata.
// TargetWidth is the requested breakpoint and names the object key; Width is
// the actual pixel width, which is smaller when the original was smaller
// than the breakpoint.
type Rendition struct {
	Data        []byte
	Format      string
	MimeType    string
	TargetWidth int
	Width       int
	Height      int
	Size        int64
}

// Processor holds one decoded image and derives renditions from it.
// Rendition is safe to call from multiple goroutines.
type Processor struct {
	img image.Image
}

// Decode decodes data according to its sniffed mime type. Returns
// entities.ErrUnsupportedFormat both for mimes outside the accepted set and
// for payloads the decoder rejects.
func Decode(data []byte, mimeType string) (*Processor, error) {
	var (
		img image.Image
		err error
	)
	r := bytes.NewReader(data)
	switch mimeType {
	case "image/png":
		img, err = png.Decode(r)
	case "image/jpeg":
		img, err = jpeg.Decode(r)
	case "image/webp":
		img, err = webp.Decode(r)
	case "image/gif":
		img, err = gif.Decode(r)
	default:
		return nil, fmt.Errorf("%w: %s", entities.ErrUnsupportedFormat, mimeType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", entities.ErrUnsupportedFormat, mimeType, err)
	}
	return &Processor{img: img}, nil
}

func (p *Processor) Bounds() (width, height int) {
	return p.img.Bounds().Dx(), p.img.Bounds().Dy()
}

// Rendition resizes to at most width (never upscaling) preserving aspect
// ratio, and encodes to format.
func (p *Processor) Rendition(width int, format string) (Rendition, error) {
	mime, ok := FormatMime[format]
	if !ok {
		return Rendition{}, fmt.Errorf("%w: output format %s", entities.ErrUnsupportedFormat, format)
	}

	img := p.img
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	buf := new(bytes.Buffer)
	var err error
	switch format {
	case "webp":
		err = webp.Encode(buf, img, &webp.Options{Quality: webpQuality})
	case "jpeg":
		err = jpeg.Encode(buf, img, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return Rendition{}, fmt.Errorf("encode %s: %w", format, err)
	}

	return Rendition{
		Data:        buf.Bytes(),
		Format:      format,
		MimeType:    mime,
		TargetWidth: width,
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		Size:        int64(buf.Len()),
	}, nil
}
