//go:build cgo
// +build cgo

package dart

import (
	"reflect"

	"gocv.io/x/gocv"

	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/vision"
)

// DefaultEdgeLimit is the minimum vertical extent, in pixels, a contour
// must span to be treated as a dart rather than noise, tuned to a
// 1080-high frame.
const DefaultEdgeLimit = 54.0

// EdgeDetection runs Canny edge detection on each cleaned foreground
// frame, extracts external contours, and keeps only those whose
// vertical extent exceeds edge_limit.
type EdgeDetection struct {
	*pipeline.Module

	contoursOut *pipeline.OutputPort
}

// NewEdgeDetection registers an EdgeDetection module on ctx. edgeLimit
// is the minimum contour vertical extent, in pixels, to be kept.
func NewEdgeDetection(ctx *pipeline.PipelineContext, edgeLimit float64) *EdgeDetection {
	m := ctx.Register(pipeline.NewModule("edge_detection"))
	e := &EdgeDetection{Module: m}

	m.DefineParameter("edge_limit", reflect.TypeOf(0.0), edgeLimit, true)
	_ = m.SetParameter("edge_limit", edgeLimit)

	e.contoursOut = pipeline.AddOutput[vision.ContourCollection](m, "contours_out")
	pipeline.AddInput[vision.MultiFrame](m, "frames_in", 16, e.onFrames)

	return e
}

// ContoursOut is the per-tick ContourCollection output, consumed by
// FitLine (and, on the alternative control path, StateMachine).
func (e *EdgeDetection) ContoursOut() *pipeline.OutputPort { return e.contoursOut }

func (e *EdgeDetection) edgeLimit() float64 {
	v, _ := e.Parameter("edge_limit")
	n, _ := v.(float64)
	return n
}

func (e *EdgeDetection) onFrames(mf vision.MultiFrame) error {
	defer mf.Close()

	limit := e.edgeLimit()
	byCam := make([]vision.ContourSet, len(mf.Frames))
	for i, f := range mf.Frames {
		edges := gocv.NewMat()
		gocv.Canny(f.Mat, &edges, 255.0/3, 255)

		contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
		edges.Close()

		var kept [][]vision.ImagePoint
		for i := 0; i < contours.Size(); i++ {
			pv := contours.At(i)
			pts := pv.ToPoints()
			if len(pts) == 0 {
				continue
			}
			minY, maxY := pts[0].Y, pts[0].Y
			for _, p := range pts {
				if p.Y < minY {
					minY = p.Y
				}
				if p.Y > maxY {
					maxY = p.Y
				}
			}
			if float64(maxY-minY) <= limit {
				continue
			}
			poly := make([]vision.ImagePoint, len(pts))
			for j, p := range pts {
				poly[j] = vision.ImagePoint{X: p.X, Y: p.Y}
			}
			kept = append(kept, poly)
		}
		contours.Close()

		byCam[i] = vision.ContourSet{FrameID: f.FrameID, Info: f.Info.Clone(), Points: kept}
	}

	result := vision.ContourCollection{FrameID: mf.FrameID, ByCam: byCam}
	e.contoursOut.Publish(result)
	return nil
}
