package pipeline

import (
	"log"
	"sort"
	"time"
)

// ExitCode is the process exit code contract shared with the CLI entry
// point.
type ExitCode int

const (
	// ExitOK is a normal, requested shutdown.
	ExitOK ExitCode = 0
	// ExitHandlerFatal means a handler exception triggered the
	// process-wide interrupt.
	ExitHandlerFatal ExitCode = 1
	// ExitStartupFailure means build-up or pre-start validation failed
	// (an input without a handler, an unset required parameter, or an
	// error from a PreStart or Start hook). Unconnected inputs are only
	// logged and do not cause a startup failure.
	ExitStartupFailure ExitCode = 2
)

// SpinOptions configures the driver's Spin loop.
type SpinOptions struct {
	// Concat combines one frame name's per-camera debug images into a
	// single image along axis, for the installed DisplaySink. It takes
	// ownership of the input images and returns an image owned by the
	// spin loop.
	Concat func(axis int, images []any) any
	// Tick is how often the display demux is drained. Defaults to
	// 33ms (~30Hz) when zero.
	Tick time.Duration
	// ExitCondition, when non-nil, is polled once per tick; Spin
	// returns when it reports true even without an interrupt.
	ExitCondition func() bool
}

// Pipeline drives the build-up phases (configure, configure submodules,
// connect submodules, connect, start all) and the run/spin/cleanup
// lifecycle.
type Pipeline struct {
	ctx *PipelineContext

	Configure    func()
	ConnectPorts func()
}

// NewPipeline creates a driver bound to ctx. Configure and ConnectPorts
// are the user-supplied hooks run in phases 1 and 4.
func NewPipeline(ctx *PipelineContext) *Pipeline {
	return &Pipeline{ctx: ctx}
}

// Context returns the pipeline's PipelineContext.
func (p *Pipeline) Context() *PipelineContext { return p.ctx }

// Start runs phases 1-5 (configure, configure_submodules, connect_submodules,
// connect, start_all) and returns ExitStartupFailure if any module fails
// pre-start validation.
func (p *Pipeline) Start() ExitCode {
	if p.Configure != nil {
		p.Configure()
	}

	modules := p.ctx.Modules()
	for _, m := range modules {
		if err := m.validate(); err != nil {
			log.Printf("pipeline: %v", err)
			return ExitStartupFailure
		}
		if m.hooks.CustomConfigure != nil {
			m.hooks.CustomConfigure()
		}
	}
	for _, m := range modules {
		if m.hooks.CustomConnect != nil {
			m.hooks.CustomConnect()
		}
	}
	if p.ConnectPorts != nil {
		p.ConnectPorts()
	}

	// Wiring may register helper modules (demuxes, relays, sinks);
	// refresh the list so they are validated and started too.
	modules = p.ctx.Modules()
	for _, m := range modules {
		if err := m.validate(); err != nil {
			log.Printf("pipeline: %v", err)
			return ExitStartupFailure
		}
	}

	byStartup := append([]*Module(nil), modules...)
	sort.SliceStable(byStartup, func(i, j int) bool {
		return byStartup[i].startupPriority > byStartup[j].startupPriority
	})

	for _, m := range byStartup {
		if err := m.preStart(); err != nil {
			log.Printf("pipeline: %v", err)
			return ExitStartupFailure
		}
	}
	for _, m := range byStartup {
		if err := m.activate(p.ctx); err != nil {
			log.Printf("pipeline: %s: start: %v", m.name, err)
			return ExitStartupFailure
		}
	}
	return ExitOK
}

// Spin drives the display demux loop until the pipeline is interrupted
// or opts.ExitCondition reports true, then shuts every module down in
// reverse-shutdown-priority order and returns the process exit code.
func (p *Pipeline) Spin(opts SpinOptions) ExitCode {
	tick := opts.Tick
	if tick <= 0 {
		tick = 33 * time.Millisecond
	}
	concat := opts.Concat
	if concat == nil {
		concat = func(_ int, images []any) any {
			if len(images) == 0 {
				return nil
			}
			for _, img := range images[1:] {
				closeImage(img)
			}
			return images[0]
		}
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-p.ctx.Done():
			break loop
		case <-p.ctx.StopRequested():
			break loop
		case <-ticker.C:
			p.ctx.spinOnce(concat)
			if opts.ExitCondition != nil && opts.ExitCondition() {
				break loop
			}
		}
	}

	code := ExitOK
	if err := p.ctx.Err(); err != nil {
		log.Printf("pipeline: shutting down: %v", err)
		code = ExitHandlerFatal
	}

	modules := p.ctx.Modules()
	byShutdown := append([]*Module(nil), modules...)
	sort.SliceStable(byShutdown, func(i, j int) bool {
		return byShutdown[i].shutdownPriority > byShutdown[j].shutdownPriority
	})
	for _, m := range byShutdown {
		m.stop()
	}
	for _, m := range byShutdown {
		m.cleanup()
	}
	p.ctx.discardPending()
	return code
}
