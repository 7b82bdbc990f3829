// Package capture renders a classification result to an image and hands it
// to the user: through a share platform when one is available, otherwise as
// a downloaded PNG file.
package capture

import (
	"image/color"

	"github.com/example/audio-check/internal/interpreter"
	"github.com/example/audio-check/internal/session"
)

// View identifies what is on screen when a capture is taken.
type View struct {
	FileName string
	Result   *interpreter.ClassificationResult
	Theme    session.Theme
}

type palette struct {
	background  color.RGBA
	surface     color.RGBA
	text        color.RGBA
	muted       color.RGBA
	headerFrom  color.RGBA
	headerTo    color.RGBA
	success     color.RGBA
	successSoft color.RGBA
	danger      color.RGBA
	dangerSoft  color.RGBA
	warning     color.RGBA
	track       color.RGBA
}

var lightPalette = palette{
	background:  color.RGBA{0xff, 0xff, 0xff, 0xff},
	surface:     color.RGBA{0xf4, 0xf4, 0xf6, 0xff},
	text:        color.RGBA{0x21, 0x21, 0x21, 0xff},
	muted:       color.RGBA{0x66, 0x66, 0x70, 0xff},
	headerFrom:  color.RGBA{0x19, 0x76, 0xd2, 0xff},
	headerTo:    color.RGBA{0x64, 0xb5, 0xf6, 0xff},
	success:     color.RGBA{0x2e, 0x7d, 0x32, 0xff},
	successSoft: color.RGBA{0xe6, 0xf4, 0xe7, 0xff},
	danger:      color.RGBA{0xd3, 0x2f, 0x2f, 0xff},
	dangerSoft:  color.RGBA{0xfd, 0xe8, 0xe7, 0xff},
	warning:     color.RGBA{0xed, 0x6c, 0x02, 0xff},
	track:       color.RGBA{0xe0, 0xe0, 0xe0, 0xff},
}

var darkPalette = palette{
	background:  color.RGBA{0x12, 0x12, 0x12, 0xff},
	surface:     color.RGBA{0x1f, 0x1f, 0x23, 0xff},
	text:        color.RGBA{0xee, 0xee, 0xee, 0xff},
	muted:       color.RGBA{0xaa, 0xaa, 0xb2, 0xff},
	headerFrom:  color.RGBA{0x2c, 0x3e, 0x50, 0xff},
	headerTo:    color.RGBA{0x1e, 0x3c, 0x72, 0xff},
	success:     color.RGBA{0x66, 0xbb, 0x6a, 0xff},
	successSoft: color.RGBA{0x1c, 0x2e, 0x1d, 0xff},
	danger:      color.RGBA{0xf4, 0x43, 0x36, 0xff},
	dangerSoft:  color.RGBA{0x33, 0x1b, 0x1a, 0xff},
	warning:     color.RGBA{0xff, 0xa7, 0x26, 0xff},
	track:       color.RGBA{0x33, 0x33, 0x38, 0xff},
}

func paletteFor(theme session.Theme) palette {
	if theme == session.ThemeDark {
		return darkPalette
	}
	return lightPalette
}

// probabilityColor follows the results page: strong above 80, soft above 60,
// a warning colour otherwise.
func (p palette) probabilityColor(probability float64, good bool) color.RGBA {
	switch {
	case probability > 80 && good:
		return p.success
	case probability > 80:
		return p.danger
	case probability > 60 && good:
		return blend(p.success, p.background, 0.35)
	case probability > 60:
		return blend(p.danger, p.background, 0.35)
	default:
		return p.warning
	}
}

func blend(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 { return uint8(float64(x)*(1-t) + float64(y)*t) }
	return color.RGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 0xff}
}
