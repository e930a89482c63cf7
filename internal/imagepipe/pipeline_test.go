package imagepipe

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPipeline_Prepare(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		maxEdge      int
		wantW, wantH int
	}{
		{"landscape shrinks", 2000, 1000, 1024, 1024, 512},
		{"portrait shrinks", 600, 1200, 300, 150, 300},
		{"small stays", 320, 200, 1024, 320, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.maxEdge, 80)
			got, err := p.Prepare(bytes.NewReader(pngOf(t, tt.w, tt.h)))
			require.NoError(t, err)

			assert.Equal(t, tt.w, got.OriginalWidth)
			assert.Equal(t, tt.h, got.OriginalHeight)
			assert.Equal(t, tt.wantW, got.Width)
			assert.Equal(t, tt.wantH, got.Height)

			cfg, err := jpeg.DecodeConfig(bytes.NewReader(got.JPEG))
			require.NoError(t, err, "output is jpeg")
			assert.Equal(t, tt.wantW, cfg.Width)
		})
	}
}

func TestPipeline_Undecodable(t *testing.T) {
	_, err := New(0, 0).Prepare(strings.NewReader("definitely not an image"))
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestSizeKB(t *testing.T) {
	assert.Equal(t, 0, SizeKB(0))
	assert.Equal(t, 1, SizeKB(1))
	assert.Equal(t, 1, SizeKB(1024))
	assert.Equal(t, 2, SizeKB(1025))
	assert.Equal(t, 2048, SizeKB(2048*1024))
}
