//go:build cgo
// +build cgo

package dart

import (
	"image"
	"image/color"
	"log"
	"math"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/vision"
)

func imgPt(x, y float64) image.Point {
	return image.Pt(int(x), int(y))
}

// frameCacheSize bounds FitLine's cache of annotated MultiFrames; the
// oldest is evicted once contours lag more than this many ticks behind.
const frameCacheSize = 10

// line2D is a 2D line in full-image pixel coordinates: a point the line
// passes through, plus a unit direction vector.
type line2D struct {
	px, py float64
	dx, dy float64
}

// solveX returns the line's x coordinate at the given y, or false if the
// line is (near) horizontal and cannot be solved for a unique x.
func (l line2D) solveX(y float64) (float64, bool) {
	if math.Abs(l.dy) < 1e-9 {
		return 0, false
	}
	t := (y - l.py) / l.dy
	return l.px + t*l.dx, true
}

// fitLineL2 fits an L2-regression line through pts, returning its mean
// point and principal direction.
func fitLineL2(pts []vision.ImagePoint) line2D {
	var mx, my float64
	for _, p := range pts {
		mx += float64(p.X)
		my += float64(p.Y)
	}
	n := float64(len(pts))
	mx /= n
	my /= n

	var sxx, syy, sxy float64
	for _, p := range pts {
		dx := float64(p.X) - mx
		dy := float64(p.Y) - my
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}

	theta := 0.5 * math.Atan2(2*sxy, sxx-syy)
	return line2D{px: mx, py: my, dx: math.Cos(theta), dy: math.Sin(theta)}
}

func arcLength(pts []vision.ImagePoint) float64 {
	var total float64
	for i := 1; i < len(pts); i++ {
		dx := float64(pts[i].X - pts[i-1].X)
		dy := float64(pts[i].Y - pts[i-1].Y)
		total += math.Hypot(dx, dy)
	}
	return total
}

// FitLine caches recent annotated MultiFrames and, on each arriving
// ContourCollection, fits a dart-axis line per camera and solves it for
// the board-surface intersection.
type FitLine struct {
	*pipeline.Module

	mu    sync.Mutex
	cache map[int64]vision.MultiFrame
	order []int64

	impactsOut *pipeline.OutputPort
	debugOut   *pipeline.OutputPort
}

// NewFitLine registers a FitLine module on ctx.
func NewFitLine(ctx *pipeline.PipelineContext) *FitLine {
	m := ctx.Register(pipeline.NewModule("fit_line"))
	f := &FitLine{Module: m, cache: make(map[int64]vision.MultiFrame)}

	f.impactsOut = pipeline.AddOutput[vision.ImpactPoints](m, "impacts_out")
	f.debugOut = pipeline.AddOutput[vision.MultiFrame](m, "debug_out")

	pipeline.AddInput[vision.MultiFrame](m, "frames_in", 16, f.onFrames)
	pipeline.AddInput[vision.ContourCollection](m, "contours_in", 16, f.onContours)

	return f
}

// ImpactsOut is the per-tick ImpactPoints output, consumed by
// ProjectOnBoard.
func (f *FitLine) ImpactsOut() *pipeline.OutputPort { return f.impactsOut }

func (f *FitLine) onFrames(mf vision.MultiFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if old, ok := f.cache[mf.FrameID]; ok {
		old.Close()
	} else {
		f.order = append(f.order, mf.FrameID)
	}
	f.cache[mf.FrameID] = mf

	for len(f.order) > frameCacheSize {
		evict := f.order[0]
		f.order = f.order[1:]
		if cached, ok := f.cache[evict]; ok {
			cached.Close()
			delete(f.cache, evict)
		}
	}
	return nil
}

func (f *FitLine) lookup(frameID int64) (vision.MultiFrame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mf, ok := f.cache[frameID]
	return mf, ok
}

func (f *FitLine) onContours(cc vision.ContourCollection) error {
	mf, ok := f.lookup(cc.FrameID)
	if !ok {
		log.Printf("dart: fit_line: %v (frame_id=%d)", ErrStaleFrameCache, cc.FrameID)
		return nil
	}

	impacts := make([]vision.ImpactPoint, 0, len(cc.ByCam))
	debugFrames := make([]vision.Frame, 0, len(cc.ByCam))

	for _, cs := range cc.ByCam {
		if len(cs.Points) == 0 {
			continue
		}
		roi, _ := cs.Info.ROI("roi")

		longest := append([][]vision.ImagePoint(nil), cs.Points...)
		sort.Slice(longest, func(i, j int) bool {
			return arcLength(longest[i]) > arcLength(longest[j])
		})
		if len(longest) > 10 {
			longest = longest[:10]
		}

		line := fitLineL2(longest[0])
		line.px += float64(roi.X)
		line.py += float64(roi.Y)

		minY := longest[0][0].Y
		for _, p := range longest[0] {
			if p.Y < minY {
				minY = p.Y
			}
		}
		boardY := float64(minY + roi.Y)

		x, ok := line.solveX(boardY)
		if !ok {
			continue
		}

		impacts = append(impacts, vision.ImpactPoint{X: x, Y: boardY, FrameID: cc.FrameID, Info: cs.Info.Clone()})

		if frame, ok := mf.ByCamera(cs.Info.Name()); ok {
			overlay := frame.Mat.Clone()
			gocv.Line(&overlay,
				imgPt(line.px, line.py), imgPt(x, boardY),
				color.RGBA{G: 255, A: 255}, 2)
			f.ShowImage("fit_line", cs.Info.Name(), 1, overlay.Clone())
			debugFrames = append(debugFrames, vision.Frame{FrameID: cc.FrameID, Info: cs.Info.Clone(), Mat: overlay})
		}
	}

	if len(impacts) > 0 {
		result := vision.ImpactPoints{FrameID: cc.FrameID, ByCam: impacts}
		f.impactsOut.Publish(result)
	}
	if len(debugFrames) > 0 {
		debug := vision.MultiFrame{FrameID: cc.FrameID, Frames: debugFrames}
		f.debugOut.Publish(debug)
		debug.Close()
	}
	return nil
}
