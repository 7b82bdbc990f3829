package capture

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/example/audio-check/internal/failure"
	"github.com/example/audio-check/internal/interpreter"
)

// Logical card size; the bitmap is this times the renderer scale.
const (
	cardWidth  = 480
	cardHeight = 330
)

// CaptureFailedMessage is what the user sees when rendering fails.
const CaptureFailedMessage = "couldn't capture screenshot"

// Renderer draws result views. Glyphs and icons are compiled in, so nothing
// is fetched while rendering.
type Renderer struct {
	Scale int
	Now   func() time.Time
}

// NewRenderer renders at 2x.
func NewRenderer() *Renderer {
	return &Renderer{Scale: 2, Now: time.Now}
}

// Capture renders view. Any failure, including a panic while drawing, is
// returned as a single capture error.
func (r *Renderer) Capture(view *View) (artifact *Artifact, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			artifact = nil
			err = failure.Wrap(failure.Capture, CaptureFailedMessage, fmt.Errorf("render panic: %v", rec))
		}
	}()

	if view == nil || view.Result == nil {
		return nil, failure.Wrap(failure.Capture, CaptureFailedMessage, errors.New("no result on screen"))
	}
	scale := r.Scale
	if scale < 1 {
		scale = 1
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	c := &canvas{
		img:   image.NewRGBA(image.Rect(0, 0, cardWidth*scale, cardHeight*scale)),
		scale: scale,
		face:  basicfont.Face7x13,
	}
	drawCard(c, view, paletteFor(view.Theme))
	return &Artifact{Image: c.img, CapturedAt: now()}, nil
}

func drawCard(c *canvas, view *View, p palette) {
	res := view.Result

	c.fill(0, 0, cardWidth, cardHeight, p.background)

	for x := 0; x < cardWidth; x++ {
		c.fill(x, 0, x+1, 72, blend(p.headerFrom, p.headerTo, float64(x)/cardWidth))
	}
	c.textCentered(12, "Analysis Results", color.RGBA{0xff, 0xff, 0xff, 0xff}, 2)
	c.textCentered(48, "Audio deepfake detection completed", color.RGBA{0xf0, 0xf0, 0xff, 0xff}, 1)

	c.fill(20, 86, cardWidth-20, 112, p.surface)
	c.text(32, 93, "File: "+truncate(view.FileName, 56), p.text, 1)

	tint, soft := p.danger, p.dangerSoft
	if res.IsAuthentic {
		tint, soft = p.success, p.successSoft
	}
	c.circle(cardWidth/2, 156, 34, soft)
	c.circle(cardWidth/2, 156, 26, tint)
	if res.IsAuthentic {
		c.line(cardWidth/2-12, 157, cardWidth/2-3, 166, 3, p.background)
		c.line(cardWidth/2-3, 166, cardWidth/2+13, 147, 3, p.background)
	} else {
		c.fill(cardWidth/2-2, 140, cardWidth/2+2, 162, p.background)
		c.fill(cardWidth/2-2, 167, cardWidth/2+2, 171, p.background)
	}
	c.textCentered(198, res.Verdict(), tint, 2)

	drawProbability(c, 238, "Real Probability", res.RealProbability, res.RealBand, p.probabilityColor(res.RealProbability, true), p)
	drawProbability(c, 282, "Fake Probability", res.FakeProbability, res.FakeBand, p.probabilityColor(res.FakeProbability, false), p)
}

func drawProbability(c *canvas, y int, label string, probability float64, band interpreter.Band, bar color.RGBA, p palette) {
	c.text(20, y, label, p.muted, 1)
	value := fmt.Sprintf("%d%%  %s", interpreter.Percent(probability), band)
	c.text(cardWidth-20-c.measure(value), y, value, p.text, 1)

	c.fill(20, y+18, cardWidth-20, y+28, p.track)
	width := int(math.Round(float64(cardWidth-40) * math.Min(math.Max(probability, 0), 100) / 100))
	if width > 0 {
		c.fill(20, y+18, 20+width, y+28, bar)
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

// canvas draws in logical coordinates onto a bitmap scale times larger.
type canvas struct {
	img   *image.RGBA
	scale int
	face  font.Face
}

func (c *canvas) fill(x0, y0, x1, y1 int, col color.Color) {
	r := image.Rect(x0*c.scale, y0*c.scale, x1*c.scale, y1*c.scale)
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Src)
}

func (c *canvas) circle(cx, cy, radius int, col color.Color) {
	s := c.scale
	cxs, cys, rs := cx*s, cy*s, radius*s
	src := image.NewUniform(col)
	for dy := -rs; dy <= rs; dy++ {
		half := int(math.Sqrt(float64(rs*rs - dy*dy)))
		row := image.Rect(cxs-half, cys+dy, cxs+half+1, cys+dy+1)
		draw.Draw(c.img, row, src, image.Point{}, draw.Src)
	}
}

// line stamps squares of the given logical thickness along the segment.
func (c *canvas) line(x0, y0, x1, y1, thickness int, col color.Color) {
	s := c.scale
	steps := int(math.Max(math.Abs(float64(x1-x0)), math.Abs(float64(y1-y0)))) * s
	if steps == 0 {
		steps = 1
	}
	src := image.NewUniform(col)
	half := thickness * s / 2
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round((float64(x0) + t*float64(x1-x0)) * float64(s)))
		y := int(math.Round((float64(y0) + t*float64(y1-y0)) * float64(s)))
		draw.Draw(c.img, image.Rect(x-half, y-half, x+half+1, y+half+1), src, image.Point{}, draw.Src)
	}
}

func (c *canvas) measure(s string) int {
	return font.MeasureString(c.face, s).Ceil()
}

// text draws s with its top-left corner at (x, y), magnified by size.
// Glyphs are rasterised once at 1x and scaled up nearest-neighbour so the
// bitmap font stays crisp.
func (c *canvas) text(x, y int, s string, col color.Color, size int) {
	if s == "" {
		return
	}
	metrics := c.face.Metrics()
	w := c.measure(s)
	h := (metrics.Ascent + metrics.Descent).Ceil()

	glyphs := image.NewRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(col),
		Face: c.face,
		Dot:  fixed.P(0, metrics.Ascent.Ceil()),
	}
	d.DrawString(s)

	k := size * c.scale
	dst := image.Rect(x*c.scale, y*c.scale, x*c.scale+w*k, y*c.scale+h*k)
	xdraw.NearestNeighbor.Scale(c.img, dst, glyphs, glyphs.Bounds(), xdraw.Over, nil)
}

func (c *canvas) textCentered(y int, s string, col color.Color, size int) {
	x := (cardWidth - c.measure(s)*size) / 2
	if x < 0 {
		x = 0
	}
	c.text(x, y, s, col, size)
}
