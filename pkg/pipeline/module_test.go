package pipeline

import (
	"errors"
	"testing"
	"time"
)

func TestModuleParameterSetAndUnknownName(t *testing.T) {
	m := NewModule("m")
	m.DefineParameter("count", nil, 0, false)

	if err := m.SetParameter("count", 3); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, _ := m.Parameter("count")
	if v != 3 {
		t.Fatalf("expected 3, got %v", v)
	}

	if err := m.SetParameter("missing", 1); err == nil {
		t.Fatalf("expected UnknownParameter error")
	}
}

func TestModulePreStartRequiredUnset(t *testing.T) {
	m := NewModule("m")
	m.DefineParameter("threshold", nil, nil, true)

	if err := m.preStart(); err == nil {
		t.Fatalf("expected StartupError for unset required parameter")
	}
	if err := m.SetParameter("threshold", 1.0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.preStart(); err != nil {
		t.Fatalf("expected preStart to pass once required parameter is set: %v", err)
	}
}

func TestHandlerExceptionTriggersInterrupt(t *testing.T) {
	ctx := NewPipelineContext()
	src := ctx.Register(NewModule("src"))
	dst := ctx.Register(NewModule("dst"))

	out := AddOutput[sample](src, "out")
	boom := errors.New("boom")
	in := AddInput[sample](dst, "in", 4, func(sample) error {
		return boom
	})
	if err := out.Connect(in); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := dst.activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	out.Publish(sample{N: 1})

	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected interrupt within 500ms of handler error")
	}
	if ctx.Err() == nil {
		t.Fatalf("expected non-nil interrupt cause")
	}

	dst.stop()
}

func TestQueueTypeMismatchIsSkippedNotFatal(t *testing.T) {
	ctx := NewPipelineContext()
	m := ctx.Register(NewModule("m"))
	var called int
	in := AddInput[sample](m, "in", 4, func(sample) error {
		called++
		return nil
	})
	if err := m.activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	defer m.stop()

	in.enqueue("not a sample")
	in.enqueue(sample{N: 1})

	deadline := time.After(500 * time.Millisecond)
	for called == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the valid item to be handled")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if called != 1 {
		t.Fatalf("expected exactly one handler call (mismatched item skipped), got %d", called)
	}
	select {
	case <-ctx.Done():
		t.Fatal("a type mismatch must not trigger an interrupt")
	default:
	}
}
