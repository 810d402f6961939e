//go:build cgo
// +build cgo

package dart

import (
	"image"
	"image/color"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/vision"
)

func TestEdgeDetectionKeepsTallContours(t *testing.T) {
	ctx := pipeline.NewPipelineContext()
	e := NewEdgeDetection(ctx, DefaultEdgeLimit)

	sink := ctx.Register(pipeline.NewModule("sink"))
	results := make(chan vision.ContourCollection, 1)
	in := pipeline.AddInput[vision.ContourCollection](sink, "in", 4, func(cc vision.ContourCollection) error {
		results <- cc
		return nil
	})
	if err := e.ContoursOut().Connect(in); err != nil {
		t.Fatalf("connect: %v", err)
	}

	p := pipeline.NewPipeline(ctx)
	if code := p.Start(); code != pipeline.ExitOK {
		t.Fatalf("pipeline start: exit code %v", code)
	}

	img := gocv.NewMatWithSize(200, 200, gocv.MatTypeCV8UC1)
	defer img.Close()
	// A thin vertical stripe spanning well past edge_limit's 54px.
	gocv.Rectangle(&img, image.Rect(95, 10, 105, 190), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	framesIn, _ := e.Input("frames_in")
	framesIn.Deliver(vision.MultiFrame{
		FrameID: 1,
		Frames:  []vision.Frame{{FrameID: 1, Info: vision.CameraInfo{"name": "cam0"}, Mat: img}},
	})

	select {
	case cc := <-results:
		if len(cc.ByCam) != 1 {
			t.Fatalf("expected 1 camera's contour set, got %d", len(cc.ByCam))
		}
		if len(cc.ByCam[0].Points) == 0 {
			t.Fatalf("expected the tall stripe to survive the edge_limit filter")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for contours")
	}
}

func TestEdgeDetectionDropsShortContours(t *testing.T) {
	ctx := pipeline.NewPipelineContext()
	e := NewEdgeDetection(ctx, DefaultEdgeLimit)

	sink := ctx.Register(pipeline.NewModule("sink"))
	results := make(chan vision.ContourCollection, 1)
	in := pipeline.AddInput[vision.ContourCollection](sink, "in", 4, func(cc vision.ContourCollection) error {
		results <- cc
		return nil
	})
	if err := e.ContoursOut().Connect(in); err != nil {
		t.Fatalf("connect: %v", err)
	}

	p := pipeline.NewPipeline(ctx)
	if code := p.Start(); code != pipeline.ExitOK {
		t.Fatalf("pipeline start: exit code %v", code)
	}

	img := gocv.NewMatWithSize(200, 200, gocv.MatTypeCV8UC1)
	defer img.Close()
	// A small square, vertical extent well under edge_limit.
	gocv.Rectangle(&img, image.Rect(95, 95, 105, 105), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	framesIn, _ := e.Input("frames_in")
	framesIn.Deliver(vision.MultiFrame{
		FrameID: 2,
		Frames:  []vision.Frame{{FrameID: 2, Info: vision.CameraInfo{"name": "cam0"}, Mat: img}},
	})

	select {
	case cc := <-results:
		if len(cc.ByCam[0].Points) != 0 {
			t.Fatalf("expected the small square to be filtered out, got %d contours", len(cc.ByCam[0].Points))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for contours")
	}
}
