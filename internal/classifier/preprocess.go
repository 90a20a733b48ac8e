package classifier

import (
	"bytes"
	"fmt"
	"image"

	// Register decoders for the accepted upload formats.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

// maxPixels bounds the decoded size of an upload so a small compressed
// file cannot expand into gigabytes of pixels.
const maxPixels = 40_000_000

// Tensor is an image as rows of RGB pixels, each channel scaled to [0,1].
type Tensor [][][3]float32

// DetectFormat returns the MIME type of data judged by its magic bytes, or
// "" if it is not PNG, JPEG or WebP.
func DetectFormat(data []byte) string {
	switch {
	case len(data) >= 8 &&
		data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 &&
		data[4] == 0x0D && data[5] == 0x0A && data[6] == 0x1A && data[7] == 0x0A:
		return "image/png"
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	default:
		return ""
	}
}

// Preprocess decodes data, resizes it to size×size with bilinear
// interpolation and returns the RGB channels divided by 255. Alpha is
// dropped. Any decode problem is reported as ErrInvalidImage.
func Preprocess(data []byte, size int) (Tensor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", size)
	}
	if DetectFormat(data) == "" {
		return nil, ErrInvalidImage
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d image", ErrInvalidImage, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	tensor := make(Tensor, size)
	for y := 0; y < size; y++ {
		row := make([][3]float32, size)
		for x := 0; x < size; x++ {
			px := dst.NRGBAAt(x, y)
			row[x] = [3]float32{scale(px.R), scale(px.G), scale(px.B)}
		}
		tensor[y] = row
	}
	return tensor, nil
}

func scale(v uint8) float32 {
	return float32(v) / 255
}

