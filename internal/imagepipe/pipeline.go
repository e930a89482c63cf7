// Package imagepipe normalizes uploaded product photos before they are sent
// to a generation provider.
package imagepipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

const (
	DefaultMaxEdge     = 1024
	DefaultJPEGQuality = 85
)

var ErrUndecodable = errors.New("image could not be decoded")

// Prepared is the re-encoded image plus the dimensions before and after.
type Prepared struct {
	JPEG           []byte
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
}

// Pipeline decodes, orients, fits within MaxEdge and re-encodes as JPEG.
type Pipeline struct {
	maxEdge int
	quality int
}

func New(maxEdge, quality int) *Pipeline {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Pipeline{maxEdge: maxEdge, quality: quality}
}

func (p *Pipeline) Prepare(r io.Reader) (Prepared, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return Prepared{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	b := img.Bounds()
	out := Prepared{OriginalWidth: b.Dx(), OriginalHeight: b.Dy()}

	// Fit never upscales
	fitted := imaging.Fit(img, p.maxEdge, p.maxEdge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return Prepared{}, fmt.Errorf("encode jpeg: %w", err)
	}

	fb := fitted.Bounds()
	out.JPEG = buf.Bytes()
	out.Width = fb.Dx()
	out.Height = fb.Dy()
	return out, nil
}

// SizeKB rounds a byte count up to whole kilobytes.
func SizeKB(n int64) int {
	return int((n + 1023) / 1024)
}
