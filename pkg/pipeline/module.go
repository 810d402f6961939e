package pipeline

import (
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"
)

// TimingSample reports one handler invocation's wall-clock cost and the
// queue depth observed at dequeue time.
type TimingSample struct {
	Module   string
	Input    string
	Duration time.Duration
	Depth    int
}

// Hooks are the optional lifecycle callbacks a module may provide.
// All are optional; a nil hook is simply skipped.
type Hooks struct {
	PreStart        func() error
	Start           func() error
	Stop            func() error
	CustomConfigure func()
	CustomConnect   func()
	CustomCleanup   func()
}

// Module owns a set of ports, a parameter registry, and one worker
// goroutine per input. Name collisions across a PipelineContext are
// auto-suffixed by Register.
type Module struct {
	name string
	ctx  *PipelineContext

	mu      sync.RWMutex
	params  map[string]*Parameter
	inputs  map[string]*InputPort
	outputs map[string]*OutputPort

	hooks Hooks

	startupPriority  int
	shutdownPriority int

	timingMu sync.Mutex
	timing   []func(TimingSample)

	wg sync.WaitGroup
}

// NewModule constructs a module with the given base name; name
// collisions are resolved by Register, not here.
func NewModule(name string) *Module {
	return &Module{
		name:    name,
		params:  make(map[string]*Parameter),
		inputs:  make(map[string]*InputPort),
		outputs: make(map[string]*OutputPort),
	}
}

// Name returns the module's registered name.
func (m *Module) Name() string { return m.name }

// SetHooks installs the module's optional lifecycle callbacks.
func (m *Module) SetHooks(h Hooks) { m.hooks = h }

// SetPriority sets the startup (descending order) and shutdown
// (descending order) sort keys used by the pipeline driver.
func (m *Module) SetPriority(startup, shutdown int) {
	m.startupPriority = startup
	m.shutdownPriority = shutdown
}

// OnTiming registers a callback invoked after every handler invocation
// across all of this module's inputs.
func (m *Module) OnTiming(fn func(TimingSample)) {
	m.timingMu.Lock()
	defer m.timingMu.Unlock()
	m.timing = append(m.timing, fn)
}

// DefineParameter registers a parameter in the module's explicit
// registry. declaredType may be nil to accept any type.
func (m *Module) DefineParameter(name string, declaredType reflect.Type, def any, required bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[name] = newParameter(name, declaredType, def, required)
}

// SetParameter assigns a new value to a registered parameter. A type
// mismatch is rejected with a ConfigError (logged, non-fatal); setting a
// value deeply equal to the current one is a no-op. When the value
// actually changes, every output whose configuration keys include name
// re-emits configuration downstream; propagation is transitive and
// idempotent, so repeated re-emission converges to a fixed point.
func (m *Module) SetParameter(name string, value any) error {
	m.mu.Lock()
	p, ok := m.params[name]
	if !ok {
		m.mu.Unlock()
		log.Printf("pipeline: %s: unknown parameter %q", m.name, name)
		return &ConfigError{Kind: UnknownParameter, Module: m.name, Param: name}
	}
	changed, err := p.set(value)
	outs := make([]*OutputPort, 0, len(m.outputs))
	if changed {
		for _, out := range m.outputs {
			if containsKey(out.configKeys, name) {
				outs = append(outs, out)
			}
		}
	}
	m.mu.Unlock()

	if err != nil {
		return &ConfigError{Kind: TypeMismatchConfig, Module: m.name, Param: name}
	}
	for _, out := range outs {
		out.EmitConfiguration(nil)
	}
	return nil
}

// Parameter returns a parameter's current value.
func (m *Module) Parameter(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.params[name]
	if !ok {
		return nil, false
	}
	return p.Value, true
}

func (m *Module) parameterSpec(name string) (*Parameter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.params[name]
	return p, ok
}

func containsKey(keys []string, name string) bool {
	for _, k := range keys {
		if k == name {
			return true
		}
	}
	return false
}

// AddOutput declares an output port of payload type T.
func AddOutput[T any](m *Module, name string, configKeys ...string) *OutputPort {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	out := newOutputPort(m, name, t, configKeys)
	m.mu.Lock()
	m.outputs[name] = out
	m.mu.Unlock()
	return out
}

// AddInput declares an input port of payload type T with the given
// bounded queue capacity and handler. The handler receives the typed
// payload; a runtime type mismatch at dequeue is logged and the item is
// skipped rather than passed to the handler.
func AddInput[T any](m *Module, name string, capacity int, handler func(T) error, configKeys ...string) *InputPort {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	in := newInputPort(m, name, t, configKeys, capacity)
	in.handler = func(v any) error {
		typed, ok := v.(T)
		if !ok {
			return fmt.Errorf("pipeline: %s: unexpected payload type %T", in.Name(), v)
		}
		return handler(typed)
	}
	m.mu.Lock()
	m.inputs[name] = in
	m.mu.Unlock()
	return in
}

// Output looks up a previously declared output port by name.
func (m *Module) Output(name string) (*OutputPort, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outputs[name]
	return o, ok
}

// Input looks up a previously declared input port by name.
func (m *Module) Input(name string) (*InputPort, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.inputs[name]
	return i, ok
}

// Inputs returns the module's inputs in no particular order; the order
// may differ between calls.
func (m *Module) Inputs() []*InputPort {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*InputPort, 0, len(m.inputs))
	for _, in := range m.inputs {
		out = append(out, in)
	}
	return out
}

// Outputs returns the module's outputs in no particular order; the
// order may differ between calls.
func (m *Module) Outputs() []*OutputPort {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*OutputPort, 0, len(m.outputs))
	for _, o := range m.outputs {
		out = append(out, o)
	}
	return out
}

// validate verifies every input has a handler (AddInput always installs
// one, so this only catches a zero-value InputPort slipping in). It does
// not check parameters or configuration keys.
func (m *Module) validate() error {
	for _, in := range m.inputs {
		if in.handler == nil {
			return &StartupError{Module: m.name, Reason: fmt.Sprintf("input %s has no handler", in.name)}
		}
	}
	return nil
}

// preStart runs the PreStart hook and warns about unconnected inputs or
// unset required parameters; a required-unset parameter is fatal.
func (m *Module) preStart() error {
	m.mu.RLock()
	for name, p := range m.params {
		if p.Required && !p.isSet() {
			m.mu.RUnlock()
			return &StartupError{Module: m.name, Reason: fmt.Sprintf("required parameter %q unset", name)}
		}
	}
	for name, in := range m.inputs {
		in.mu.Lock()
		connected := in.connected
		in.mu.Unlock()
		if !connected {
			log.Printf("pipeline: %s: input %s is not connected", m.name, name)
		}
	}
	m.mu.RUnlock()

	if m.hooks.PreStart != nil {
		return m.hooks.PreStart()
	}
	return nil
}

// PipelineContext returns the context this module was activated with,
// or nil before activation.
func (m *Module) PipelineContext() *PipelineContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ctx
}

// ShowImage requests display of image for camera cam under frameName at
// the next spin tick, via the pipeline context's display demux.
// Ownership of image passes to the demux; before activation the image is
// released immediately.
func (m *Module) ShowImage(frameName, cam string, axis int, image any) {
	ctx := m.PipelineContext()
	if ctx == nil {
		closeImage(image)
		return
	}
	ctx.ShowImage(frameName, cam, axis, image)
}

// activate starts one worker goroutine per input and runs the Start
// hook.
func (m *Module) activate(ctx *PipelineContext) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	for _, in := range m.inputs {
		in.mu.Lock()
		in.active = true
		in.mu.Unlock()
		m.wg.Add(1)
		go m.runWorker(in)
	}
	if m.hooks.Start != nil {
		return m.hooks.Start()
	}
	return nil
}

// runWorker is the dedicated per-input worker loop: dequeue, type-check,
// invoke the handler, record timing, and on handler error trigger a
// process-wide interrupt.
func (m *Module) runWorker(in *InputPort) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case item, ok := <-in.queue:
			if !ok {
				return
			}
			in.mu.Lock()
			active := in.active
			in.mu.Unlock()
			if !active {
				continue
			}
			if reflect.TypeOf(item) != in.payloadType {
				log.Printf("pipeline: %s: dequeued value of type %T, want %s; dropping", in.Name(), item, in.payloadType)
				continue
			}
			start := time.Now()
			depth := in.Depth()
			err := in.handler(item)
			elapsed := time.Since(start)

			m.timingMu.Lock()
			handlers := append([]func(TimingSample){}, m.timing...)
			m.timingMu.Unlock()
			sample := TimingSample{Module: m.name, Input: in.name, Duration: elapsed, Depth: depth}
			for _, h := range handlers {
				h(sample)
			}

			if err != nil {
				log.Printf("pipeline: %s: handler error: %v", in.Name(), err)
				m.ctx.Interrupt(fmt.Errorf("%s: %w", in.Name(), err))
				return
			}
		}
	}
}

// stop runs the Stop hook, deactivates every input (so queued work is
// skipped rather than processed), and waits for all workers to exit,
// with a bounded timeout per worker.
func (m *Module) stop() {
	if m.hooks.Stop != nil {
		if err := m.hooks.Stop(); err != nil {
			log.Printf("pipeline: %s: stop hook: %v", m.name, err)
		}
	}
	for _, in := range m.inputs {
		in.mu.Lock()
		in.active = false
		in.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	perWorker := time.Second
	if ctx := m.PipelineContext(); ctx != nil {
		perWorker = ctx.workerJoinTimeout()
	}
	timeout := time.Duration(len(m.inputs)+1) * perWorker
	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("pipeline: %s: workers did not join within %s", m.name, timeout)
	}
}

func (m *Module) cleanup() {
	if m.hooks.CustomCleanup != nil {
		m.hooks.CustomCleanup()
	}
}
