// Package imaging prepares images for transport to edit and judge endpoints.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	// decoders
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxSide = 1024
	DefaultQuality = 85
)

type Options struct {
	// MaxSide bounds the longest edge. Zero means DefaultMaxSide.
	MaxSide int
	// Quality is the JPEG quality used on re-encode. Zero means DefaultQuality.
	Quality int
	// KeepOriginal embeds the source bytes untouched when the image already fits.
	KeepOriginal bool
}

func (o Options) withDefaults() Options {
	if o.MaxSide <= 0 {
		o.MaxSide = DefaultMaxSide
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}

var mimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
}

// Payload is an image ready to be embedded in a request.
type Payload struct {
	Bytes    []byte
	MimeType string
	Width    int
	Height   int
}

func (p *Payload) DataURL() string {
	return "data:" + p.MimeType + ";base64," + base64.StdEncoding.EncodeToString(p.Bytes)
}

func EncodeFile(path string, opts Options) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return Encode(data, opts)
}

// Encode decodes data, bounds its longest side and re-encodes it as JPEG with
// alpha flattened onto white. With KeepOriginal an image that already fits is
// passed through in its source format.
func Encode(data []byte, opts Options) (*Payload, error) {
	opts = opts.withDefaults()

	if opts.KeepOriginal {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		if mime, ok := mimeTypes[format]; ok && cfg.Width <= opts.MaxSide && cfg.Height <= opts.MaxSide {
			return &Payload{Bytes: data, MimeType: mime, Width: cfg.Width, Height: cfg.Height}, nil
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	out := Flatten(Downscale(img, opts.MaxSide))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	b := out.Bounds()
	return &Payload{Bytes: buf.Bytes(), MimeType: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

// Downscale returns img unchanged when both sides fit within maxSide, otherwise a
// copy scaled proportionally so the longest side equals maxSide.
func Downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}
	var nw, nh int
	if w >= h {
		nw = maxSide
		nh = max(1, h*maxSide/w)
	} else {
		nh = maxSide
		nw = max(1, w*maxSide/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Flatten composites img onto an opaque white background.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
