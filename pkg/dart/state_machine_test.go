//go:build cgo
// +build cgo

package dart

import (
	"testing"
	"time"

	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/vision"
)

func waitForState(t *testing.T, s *StateMachine, want DartState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, s.State())
}

func TestStateMachineProgressesThroughDarts(t *testing.T) {
	ctx := pipeline.NewPipelineContext()
	s := NewStateMachine(ctx, []string{"cam0", "cam1"})

	p := pipeline.NewPipeline(ctx)
	if code := p.Start(); code != pipeline.ExitOK {
		t.Fatalf("pipeline start: exit code %v", code)
	}

	in, _ := s.Input("contours_in")

	deliverMatch := func(frameID int64) {
		in.Deliver(vision.ContourSet{FrameID: frameID, Info: vision.CameraInfo{"name": "cam0"}, Points: [][]vision.ImagePoint{{{X: 1, Y: 1}}}})
		in.Deliver(vision.ContourSet{FrameID: frameID, Info: vision.CameraInfo{"name": "cam1"}, Points: [][]vision.ImagePoint{{{X: 1, Y: 1}}}})
	}

	if s.State() != StateIdle {
		t.Fatalf("expected initial state IDLE, got %s", s.State())
	}

	deliverMatch(1)
	waitForState(t, s, StateDart2)

	deliverMatch(2)
	waitForState(t, s, StateDart3)

	deliverMatch(3)
	waitForState(t, s, StateTakeOut)
}

func TestStateMachineTakeOutReturnsToIdleOnEmptyContours(t *testing.T) {
	ctx := pipeline.NewPipelineContext()
	s := NewStateMachine(ctx, []string{"cam0", "cam1"})

	p := pipeline.NewPipeline(ctx)
	if code := p.Start(); code != pipeline.ExitOK {
		t.Fatalf("pipeline start: exit code %v", code)
	}

	in, _ := s.Input("contours_in")
	nonEmpty := [][]vision.ImagePoint{{{X: 1, Y: 1}}}

	in.Deliver(vision.ContourSet{FrameID: 1, Info: vision.CameraInfo{"name": "cam0"}, Points: nonEmpty})
	in.Deliver(vision.ContourSet{FrameID: 1, Info: vision.CameraInfo{"name": "cam1"}, Points: nonEmpty})
	waitForState(t, s, StateDart2)

	in.Deliver(vision.ContourSet{FrameID: 2, Info: vision.CameraInfo{"name": "cam0"}, Points: nonEmpty})
	in.Deliver(vision.ContourSet{FrameID: 2, Info: vision.CameraInfo{"name": "cam1"}, Points: nonEmpty})
	waitForState(t, s, StateDart3)

	in.Deliver(vision.ContourSet{FrameID: 3, Info: vision.CameraInfo{"name": "cam0"}, Points: nonEmpty})
	in.Deliver(vision.ContourSet{FrameID: 3, Info: vision.CameraInfo{"name": "cam1"}, Points: nonEmpty})
	waitForState(t, s, StateTakeOut)

	in.Deliver(vision.ContourSet{FrameID: 4, Info: vision.CameraInfo{"name": "cam0"}, Points: nil})
	in.Deliver(vision.ContourSet{FrameID: 4, Info: vision.CameraInfo{"name": "cam1"}, Points: nil})
	waitForState(t, s, StateIdle)
}

func TestStateMachineBackgroundResetPublishesTrigger(t *testing.T) {
	ctx := pipeline.NewPipelineContext()
	s := NewStateMachine(ctx, []string{"cam0"})

	triggers := make(chan vision.SetBackgroundTrigger, 1)
	sink := ctx.Register(pipeline.NewModule("sink"))
	sinkIn := pipeline.AddInput[vision.SetBackgroundTrigger](sink, "in", 4, func(trig vision.SetBackgroundTrigger) error {
		triggers <- trig
		return nil
	})
	if err := s.triggerOut.Connect(sinkIn); err != nil {
		t.Fatalf("connect: %v", err)
	}

	p := pipeline.NewPipeline(ctx)
	if code := p.Start(); code != pipeline.ExitOK {
		t.Fatalf("pipeline start: exit code %v", code)
	}

	s.RequestBackgroundReset()

	in, _ := s.Input("contours_in")
	in.Deliver(vision.ContourSet{FrameID: 1, Info: vision.CameraInfo{"name": "cam0"}, Points: [][]vision.ImagePoint{{{X: 1, Y: 1}}}})

	select {
	case trig := <-triggers:
		if trig.DartNumber != 1 {
			t.Fatalf("expected DartNumber=1, got %d", trig.DartNumber)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background trigger")
	}
	waitForState(t, s, StateDart2)
}
