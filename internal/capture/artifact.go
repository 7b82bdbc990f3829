package capture

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"time"
)

// DefaultFilename is used for every downloaded or shared result image.
const DefaultFilename = "audioanalysis-result.png"

// Artifact is an in-memory bitmap of a result view.
type Artifact struct {
	Image      *image.RGBA
	CapturedAt time.Time
}

// EncodePNG writes the bitmap as PNG.
func (a *Artifact) EncodePNG(w io.Writer) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(w, a.Image)
}

// PNG returns the encoded bitmap.
func (a *Artifact) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := a.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
