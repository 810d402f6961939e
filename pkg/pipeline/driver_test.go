package pipeline

import (
	"testing"
	"time"
)

func TestPipelineStartupFailureOnUnsetRequiredParameter(t *testing.T) {
	ctx := NewPipelineContext()
	m := ctx.Register(NewModule("m"))
	m.DefineParameter("required_thing", nil, nil, true)

	p := NewPipeline(ctx)
	if code := p.Start(); code != ExitStartupFailure {
		t.Fatalf("expected ExitStartupFailure, got %v", code)
	}
}

func TestPipelineEndToEndFlow(t *testing.T) {
	ctx := NewPipelineContext()
	src := ctx.Register(NewModule("src"))
	dst := ctx.Register(NewModule("dst"))

	out := AddOutput[sample](src, "out")
	received := make(chan sample, 1)
	AddInput[sample](dst, "in", 4, func(v sample) error {
		received <- v
		return nil
	})

	p := NewPipeline(ctx)
	p.ConnectPorts = func() {
		in, _ := dst.Input("in")
		if err := out.Connect(in); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	if code := p.Start(); code != ExitOK {
		t.Fatalf("expected ExitOK, got %v", code)
	}

	out.Publish(sample{N: 42})

	select {
	case v := <-received:
		if v.N != 42 {
			t.Fatalf("expected 42, got %d", v.N)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	go func() { ctx.RequestStop() }()
	code := p.Spin(SpinOptions{Tick: 5 * time.Millisecond})
	if code != ExitOK {
		t.Fatalf("expected ExitOK on explicit RequestStop, got %v", code)
	}
}

func TestPipelineHandlerCrashExitsWithin500ms(t *testing.T) {
	ctx := NewPipelineContext()
	src := ctx.Register(NewModule("src"))
	dst := ctx.Register(NewModule("dst"))

	out := AddOutput[sample](src, "out")
	AddInput[sample](dst, "in", 4, func(sample) error {
		return assertError
	})

	var stopped []string
	dst.SetHooks(Hooks{Stop: func() error {
		stopped = append(stopped, "dst")
		return nil
	}})

	p := NewPipeline(ctx)
	p.ConnectPorts = func() {
		in, _ := dst.Input("in")
		out.Connect(in)
	}
	if code := p.Start(); code != ExitOK {
		t.Fatalf("expected ExitOK from Start, got %v", code)
	}

	out.Publish(sample{N: 1})

	start := time.Now()
	code := p.Spin(SpinOptions{Tick: 5 * time.Millisecond})
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("expected shutdown within 500ms, took %s", time.Since(start))
	}
	if code != ExitHandlerFatal {
		t.Fatalf("expected ExitHandlerFatal, got %v", code)
	}
	if len(stopped) != 1 {
		t.Fatalf("expected stop hook to run exactly once, got %d", len(stopped))
	}
}

var assertError = &testError{"handler crashed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
