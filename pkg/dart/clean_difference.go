//go:build cgo
// +build cgo

package dart

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/vision"
)

// CleanDifference morphologically cleans the per-event foreground crops
// emitted by BackgroundSubtraction before contour extraction: a
// bilateral filter, then open/close with a 3x3 kernel, then a hard
// binarize threshold.
type CleanDifference struct {
	*pipeline.Module

	framesOut *pipeline.OutputPort
}

// NewCleanDifference registers a CleanDifference module on ctx.
func NewCleanDifference(ctx *pipeline.PipelineContext) *CleanDifference {
	m := ctx.Register(pipeline.NewModule("clean_difference"))
	c := &CleanDifference{Module: m}

	c.framesOut = pipeline.AddOutput[vision.MultiFrame](m, "frames_out")
	pipeline.AddInput[vision.MultiFrame](m, "frames_in", 16, c.onFrames)

	return c
}

// FramesOut is the cleaned foreground output, consumed by EdgeDetection.
func (c *CleanDifference) FramesOut() *pipeline.OutputPort { return c.framesOut }

func (c *CleanDifference) onFrames(mf vision.MultiFrame) error {
	defer mf.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	out := make([]vision.Frame, len(mf.Frames))
	for i, f := range mf.Frames {
		filtered := gocv.NewMat()
		gocv.BilateralFilter(f.Mat, &filtered, 11, 57, 57)

		opened := gocv.NewMat()
		gocv.MorphologyEx(filtered, &opened, gocv.MorphOpen, kernel)
		filtered.Close()

		closed := gocv.NewMat()
		gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
		opened.Close()

		bin := gocv.NewMat()
		gocv.Threshold(closed, &bin, 5, 255, gocv.ThresholdBinary)
		closed.Close()

		out[i] = vision.Frame{FrameID: f.FrameID, Info: f.Info.Clone(), Mat: bin}
	}

	result := vision.MultiFrame{FrameID: mf.FrameID, Frames: out}
	c.framesOut.Publish(result)
	result.Close()
	return nil
}
