//go:build cgo
// +build cgo

package dart

import (
	"math"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/vision"
)

func TestFitLineL2VerticalLine(t *testing.T) {
	pts := []vision.ImagePoint{{X: 50, Y: 0}, {X: 50, Y: 10}, {X: 50, Y: 20}, {X: 50, Y: 30}}
	line := fitLineL2(pts)

	x, ok := line.solveX(15)
	if !ok {
		t.Fatalf("expected solvable vertical line")
	}
	if math.Abs(x-50) > 1e-6 {
		t.Fatalf("expected x=50, got %v", x)
	}
}

func TestArcLength(t *testing.T) {
	pts := []vision.ImagePoint{{X: 0, Y: 0}, {X: 3, Y: 4}}
	if got := arcLength(pts); math.Abs(got-5) > 1e-9 {
		t.Fatalf("expected arc length 5, got %v", got)
	}
}

func TestFitLineDropsStaleContourCollection(t *testing.T) {
	ctx := pipeline.NewPipelineContext()
	f := NewFitLine(ctx)

	p := pipeline.NewPipeline(ctx)
	if code := p.Start(); code != pipeline.ExitOK {
		t.Fatalf("pipeline start: exit code %v", code)
	}

	contoursIn, _ := f.Input("contours_in")
	contoursIn.Deliver(vision.ContourCollection{FrameID: 999})

	// No cached MultiFrame for frame_id 999: the handler should log and
	// return without publishing, not panic or block.
	time.Sleep(50 * time.Millisecond)
}

func TestFitLineEmitsImpactPoint(t *testing.T) {
	ctx := pipeline.NewPipelineContext()
	f := NewFitLine(ctx)

	sink := ctx.Register(pipeline.NewModule("sink"))
	results := make(chan vision.ImpactPoints, 1)
	in := pipeline.AddInput[vision.ImpactPoints](sink, "in", 4, func(ip vision.ImpactPoints) error {
		results <- ip
		return nil
	})
	if err := f.ImpactsOut().Connect(in); err != nil {
		t.Fatalf("connect: %v", err)
	}

	p := pipeline.NewPipeline(ctx)
	if code := p.Start(); code != pipeline.ExitOK {
		t.Fatalf("pipeline start: exit code %v", code)
	}

	stub := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC1)
	defer stub.Close()

	framesIn, _ := f.Input("frames_in")
	framesIn.Deliver(vision.MultiFrame{
		FrameID: 1,
		Frames:  []vision.Frame{{FrameID: 1, Info: vision.CameraInfo{"name": "cam0", "roi": vision.ROI{X: 10, Y: 20, W: 100, H: 100}}, Mat: stub}},
	})
	time.Sleep(50 * time.Millisecond)

	contoursIn, _ := f.Input("contours_in")
	contoursIn.Deliver(vision.ContourCollection{
		FrameID: 1,
		ByCam: []vision.ContourSet{{
			FrameID: 1,
			Info:    vision.CameraInfo{"name": "cam0", "roi": vision.ROI{X: 10, Y: 20, W: 100, H: 100}},
			Points: [][]vision.ImagePoint{
				{{X: 30, Y: 0}, {X: 30, Y: 10}, {X: 30, Y: 20}, {X: 30, Y: 30}},
			},
		}},
	})

	select {
	case ip := <-results:
		if len(ip.ByCam) != 1 {
			t.Fatalf("expected 1 impact point, got %d", len(ip.ByCam))
		}
		if math.Abs(ip.ByCam[0].X-40) > 1e-6 {
			t.Fatalf("expected impact x translated by roi.X=10 to 40, got %v", ip.ByCam[0].X)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for impact point")
	}
}
