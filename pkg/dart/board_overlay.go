//go:build cgo
// +build cgo

package dart

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dartvision/corepipeline/pkg/vision"
)

// boardOverlay renders the static dartboard (concentric rings, 20 sector
// wires, sector number text) once and caches it, redrawing only the
// per-impact dot on a clone each tick. Colors and pixel placement are
// cosmetic.
type boardOverlay struct {
	once    sync.Once
	base    gocv.Mat
	sizePX  int
	center  image.Point
	pxPerMM float64
}

func newBoardOverlay(sizePX int) *boardOverlay {
	return &boardOverlay{
		sizePX:  sizePX,
		center:  image.Pt(sizePX/2, sizePX/2),
		pxPerMM: float64(sizePX) / (2 * RadiusBoard * 1.1),
	}
}

func (b *boardOverlay) ensureBase() {
	b.once.Do(func() {
		b.base = gocv.NewMatWithSize(b.sizePX, b.sizePX, gocv.MatTypeCV8UC3)
		b.base.SetTo(gocv.NewScalar(30, 30, 30, 0))

		rings := []float64{RadiusInnerBull, RadiusOuterBull, RadiusInnerTriple, RadiusOuterTriple, RadiusInnerDouble, RadiusOuterDouble, RadiusBoard}
		for _, r := range rings {
			gocv.Circle(&b.base, b.center, int(r*b.pxPerMM), color.RGBA{R: 200, G: 200, B: 200, A: 255}, 1)
		}
		for i := 0; i < 20; i++ {
			theta := float64(i) * (2 * math.Pi / 20)
			end := image.Pt(
				b.center.X+int(RadiusBoard*b.pxPerMM*math.Sin(theta)),
				b.center.Y-int(RadiusBoard*b.pxPerMM*math.Cos(theta)),
			)
			gocv.Line(&b.base, b.center, end, color.RGBA{R: 120, G: 120, B: 120, A: 255}, 1)

			labelTheta := theta + math.Pi/20
			labelPt := image.Pt(
				b.center.X+int((RadiusBoard+12)*b.pxPerMM*math.Sin(labelTheta)),
				b.center.Y-int((RadiusBoard+12)*b.pxPerMM*math.Cos(labelTheta)),
			)
			gocv.PutText(&b.base, fmt.Sprintf("%d", Fields[i]), labelPt, gocv.FontHersheyPlain, 0.8, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 1)
		}
	})
}

// Render returns a fresh clone of the cached board with a dot drawn at
// coord. Caller owns and must Close the returned Mat.
func (b *boardOverlay) Render(coord vision.BoardCoordinate) gocv.Mat {
	b.ensureBase()
	out := b.base.Clone()
	dot := image.Pt(
		b.center.X+int(coord.X*b.pxPerMM),
		b.center.Y+int(coord.Y*b.pxPerMM),
	)
	gocv.Circle(&out, dot, 4, color.RGBA{R: 255, G: 0, B: 0, A: 255}, -1)
	return out
}

// Close releases the cached base image.
func (b *boardOverlay) Close() error {
	if b.base.Ptr() != nil {
		return b.base.Close()
	}
	return nil
}
