//go:build cgo
// +build cgo

package dart

import (
	"log"
	"math"

	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/vision"
)

// intersectEpsilon is the minimum determinant magnitude below which two
// camera rays are treated as parallel.
const intersectEpsilon = 1e-9

// ProjectOnBoard triangulates each tick's per-camera ImpactPoints onto
// the planar board coordinate system by intersecting two camera rays.
type ProjectOnBoard struct {
	*pipeline.Module

	overlay *boardOverlay

	coordOut *pipeline.OutputPort
	debugOut *pipeline.OutputPort
}

// NewProjectOnBoard registers a ProjectOnBoard module on ctx.
// overlaySizePX sizes the cached dartboard debug overlay.
func NewProjectOnBoard(ctx *pipeline.PipelineContext, overlaySizePX int) *ProjectOnBoard {
	m := ctx.Register(pipeline.NewModule("project_on_board"))
	p := &ProjectOnBoard{Module: m, overlay: newBoardOverlay(overlaySizePX)}

	p.coordOut = pipeline.AddOutput[vision.BoardCoordinate](m, "coordinate_out")
	p.debugOut = pipeline.AddOutput[vision.MultiFrame](m, "debug_out")

	pipeline.AddInput[vision.ImpactPoints](m, "impacts_in", 16, p.onImpacts)

	return p
}

// CoordinateOut is the triangulated BoardCoordinate output.
func (p *ProjectOnBoard) CoordinateOut() *pipeline.OutputPort { return p.coordOut }

// rayFor converts one camera's ImpactPoint into a two-point board-space
// ray, per the DirectionFactors sign convention.
func rayFor(camIndex int, impact vision.ImpactPoint) (p1, p2 [2]float64, err error) {
	if camIndex < 0 || camIndex >= len(DirectionFactors) {
		return p1, p2, ErrUnsupportedCamera
	}

	bullPX, ok := impact.Info.Float("bull")
	if !ok {
		return p1, p2, ErrUnsupportedCamera
	}
	radiusPX, ok := impact.Info.Float("radius")
	if !ok || radiusPX == 0 {
		return p1, p2, ErrUnsupportedCamera
	}

	camCenterPX := CameraFrameWidthPX / 2
	dir := DirectionFactors[camIndex]
	impactOffsetPX := (impact.X - camCenterPX) * dir
	bullOffsetPX := (bullPX - camCenterPX) * dir

	k := RadiusOuterDouble / radiusPX
	impactMM := impactOffsetPX * k
	bullOffsetMM := bullOffsetPX * k

	switch camIndex {
	case 0:
		p1 = [2]float64{-CamDistBoardCenter, bullOffsetMM}
		p2 = [2]float64{0, impactMM - bullOffsetMM}
	case 1:
		p1 = [2]float64{bullOffsetMM, -CamDistBoardCenter}
		p2 = [2]float64{impactMM - bullOffsetMM, 0}
	}
	return p1, p2, nil
}

// intersect finds the intersection of line (a1,a2) with line (b1,b2) via
// the determinant formula, returning an error if the lines are parallel.
func intersect(a1, a2, b1, b2 [2]float64) (vision.BoardCoordinate, error) {
	x1, y1 := a1[0], a1[1]
	x2, y2 := a2[0], a2[1]
	x3, y3 := b1[0], b1[1]
	x4, y4 := b2[0], b2[1]

	denom := (x1-x2)*(y3-y4) - (y1-y2)*(x3-x4)
	if math.Abs(denom) < intersectEpsilon {
		return vision.BoardCoordinate{}, ErrGeometryParallel
	}

	a := x1*y2 - y1*x2
	b := x3*y4 - y3*x4
	px := (a*(x3-x4) - (x1-x2)*b) / denom
	py := (a*(y3-y4) - (y1-y2)*b) / denom
	return vision.BoardCoordinate{X: px, Y: py}, nil
}

func (p *ProjectOnBoard) onImpacts(ip vision.ImpactPoints) error {
	if len(ip.ByCam) < 2 {
		return nil
	}

	p1a, p2a, err := rayFor(0, ip.ByCam[0])
	if err != nil {
		log.Printf("dart: project_on_board: cam0 ray: %v", err)
		return nil
	}
	p1b, p2b, err := rayFor(1, ip.ByCam[1])
	if err != nil {
		log.Printf("dart: project_on_board: cam1 ray: %v", err)
		return nil
	}

	coord, err := intersect(p1a, p2a, p1b, p2b)
	if err != nil {
		log.Printf("dart: project_on_board: %v", err)
		return nil
	}

	p.coordOut.Publish(coord)

	overlay := p.overlay.Render(coord)
	p.ShowImage("board", "board", 1, overlay.Clone())
	debug := vision.MultiFrame{
		FrameID: ip.FrameID,
		Frames: []vision.Frame{{
			FrameID: ip.FrameID,
			Info:    vision.CameraInfo{"name": "board"},
			Mat:     overlay,
		}},
	}
	p.debugOut.Publish(debug)
	debug.Close()
	return nil
}
