package image_slicer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"
)

// ErrExtract covers every codec-side failure: undecodable bytes, a region
// that does not fit the decoded image, or an encode rejection.
var ErrExtract = errors.New("slice extraction failed")

// Engine cuts full-width bands out of encoded image buffers and re-encodes
// them as JPEG. It holds no per-image state and is safe for concurrent use.
type Engine struct {
	quality int
	logger  *zap.Logger
}

func NewEngine(quality int, logger *zap.Logger) *Engine {
	if quality < 1 || quality > 100 {
		quality = 82
	}
	return &Engine{quality: quality, logger: logger}
}

// Dimensions decodes just enough of buf to report its pixel size.
func (e *Engine) Dimensions(buf []byte) (width, height int, err error) {
	// Sequential access: the header is all we need.
	image, err := loadBuffer(buf, vips.AccessSequential)
	if err != nil {
		return 0, 0, err
	}
	defer image.Close()

	return image.Width(), image.Height(), nil
}

// Extract crops pixel rows [y, y+bandHeight) at the full image width and
// encodes the crop as JPEG at the configured quality.
func (e *Engine) Extract(buf []byte, width, y, bandHeight int) ([]byte, error) {
	if width <= 0 || bandHeight <= 0 || y < 0 {
		return nil, fmt.Errorf("%w: invalid band %dx%d at y=%d", ErrExtract, width, bandHeight, y)
	}

	// Random access: vips only touches the rows the crop covers.
	image, err := loadBuffer(buf, vips.AccessRandom)
	if err != nil {
		return nil, err
	}
	defer image.Close()

	if width > image.Width() || y+bandHeight > image.Height() {
		return nil, fmt.Errorf("%w: band %dx%d at y=%d exceeds image %dx%d",
			ErrExtract, width, bandHeight, y, image.Width(), image.Height())
	}

	if err := image.ExtractArea(0, y, width, bandHeight); err != nil {
		return nil, fmt.Errorf("%w: extract area: %w", ErrExtract, err)
	}

	jpegOpts := vips.DefaultJpegsaveBufferOptions()
	jpegOpts.Q = e.quality
	jpegOpts.Interlace = false

	data, err := image.JpegsaveBuffer(jpegOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrExtract, err)
	}

	e.logger.Debug("slice extracted",
		zap.Int("y", y),
		zap.Int("height", bandHeight),
		zap.Int("width", width),
		zap.Int("bytes", len(data)),
	)

	return data, nil
}

// loadBuffer picks the vips loader from the sniffed content type.
func loadBuffer(buf []byte, access vips.Access) (*vips.Image, error) {
	contentType := http.DetectContentType(buf)

	switch contentType {
	case "image/jpeg":
		opts := vips.DefaultJpegloadBufferOptions()
		opts.Access = access
		image, err := vips.NewJpegloadBuffer(buf, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: decode jpeg: %w", ErrExtract, err)
		}
		return image, nil
	case "image/png":
		opts := vips.DefaultPngloadBufferOptions()
		opts.Access = access
		image, err := vips.NewPngloadBuffer(buf, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: decode png: %w", ErrExtract, err)
		}
		return image, nil
	case "image/webp":
		opts := vips.DefaultWebploadBufferOptions()
		opts.Access = access
		image, err := vips.NewWebploadBuffer(buf, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: decode webp: %w", ErrExtract, err)
		}
		return image, nil
	default:
		return nil, fmt.Errorf("%w: unsupported image format %s", ErrExtract, contentType)
	}
}
