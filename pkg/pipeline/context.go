package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DisplaySink receives the concatenated debug image for one frame name
// once per spin tick. It is the only abstraction this package has over
// an actual windowing toolkit; pkg/vision's preview window implements
// it.
type DisplaySink interface {
	// Show displays image, which is already the per-frame-name
	// concatenation of every camera's image along axis.
	Show(frameName string, axis int, image any)
}

// PipelineContext holds the module registry, the shared cancellation
// token, and the one-lock display demux. It is passed explicitly into
// module constructors; there is no global registry.
type PipelineContext struct {
	mu      sync.Mutex
	modules map[string]*Module
	order   []string

	ctx    context.Context
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}

	display     *displayDemux
	sink        DisplaySink
	joinTimeout time.Duration
}

// NewPipelineContext creates an empty context. Call SetDisplaySink
// before Spin if any module calls ShowImage.
func NewPipelineContext() *PipelineContext {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &PipelineContext{
		modules: make(map[string]*Module),
		ctx:     ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
		display: newDisplayDemux(),
	}
}

// SetDisplaySink installs the sink that receives demuxed debug images
// during Spin.
func (c *PipelineContext) SetDisplaySink(sink DisplaySink) { c.sink = sink }

// SetWorkerJoinTimeout overrides the per-worker join timeout applied
// when modules shut down. Values <= 0 are ignored.
func (c *PipelineContext) SetWorkerJoinTimeout(d time.Duration) {
	if d > 0 {
		c.joinTimeout = d
	}
}

func (c *PipelineContext) workerJoinTimeout() time.Duration {
	if c.joinTimeout > 0 {
		return c.joinTimeout
	}
	return time.Second
}

// Register adds a module to the context, auto-suffixing its name on
// collision (module-2, module-3, ...).
func (c *PipelineContext) Register(m *Module) *Module {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := m.name
	name := base
	for i := 2; ; i++ {
		if _, taken := c.modules[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
	m.name = name
	c.modules[name] = m
	c.order = append(c.order, name)
	return m
}

// Module looks up a registered module by name.
func (c *PipelineContext) Module(name string) (*Module, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.modules[name]
	return m, ok
}

// Modules returns every registered module in registration order.
func (c *PipelineContext) Modules() []*Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Module, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.modules[name])
	}
	return out
}

// Interrupt sets the process-wide cancellation cause, driving every
// worker and the spin loop to shut down deterministically. Safe to call
// more than once; only the first cause is retained.
func (c *PipelineContext) Interrupt(cause error) {
	c.cancel(cause)
}

// Done returns the channel closed when the pipeline has been
// interrupted.
func (c *PipelineContext) Done() <-chan struct{} { return c.ctx.Done() }

// RequestStop signals a normal, non-error shutdown (e.g. an operator
// signal or an exit condition), distinct from Interrupt's fatal path.
// Safe to call more than once.
func (c *PipelineContext) RequestStop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// StopRequested returns the channel closed by RequestStop.
func (c *PipelineContext) StopRequested() <-chan struct{} { return c.stopCh }

// Err returns the interrupt cause, or nil if the pipeline has not been
// interrupted.
func (c *PipelineContext) Err() error {
	if c.ctx.Err() == nil {
		return nil
	}
	return context.Cause(c.ctx)
}

// ShowImage requests display of image for camera cam under frameName,
// to be concatenated along axis with every other camera's image of the
// same frameName at the next spin tick. The demux map is protected by a
// single lock. Ownership of image passes to the demux: it is released
// after display, or immediately when it replaces a not-yet-displayed
// image for the same frame name and camera.
func (c *PipelineContext) ShowImage(frameName, cam string, axis int, image any) {
	c.display.put(frameName, cam, axis, image)
}

// closeImage releases an image value if it owns resources. gocv Mats
// satisfy the interface; plain values are left alone.
func closeImage(v any) {
	if closer, ok := v.(interface{ Close() error }); ok {
		closer.Close()
	}
}

// spinOnce drains the display demux, concatenates each frame name's
// per-camera images, and forwards the result to the installed sink.
// concat takes ownership of the input images and returns a combined
// image owned by this function; the sink's Show only borrows it.
func (c *PipelineContext) spinOnce(concat func(axis int, images []any) any) {
	for frameName, entry := range c.display.drain() {
		combined := concat(entry.axis, entry.images)
		if combined == nil {
			continue
		}
		if c.sink != nil {
			c.sink.Show(frameName, entry.axis, combined)
		}
		closeImage(combined)
	}
}

// discardPending releases every image still queued in the display demux,
// used once at shutdown.
func (c *PipelineContext) discardPending() {
	for _, entry := range c.display.drain() {
		for _, img := range entry.images {
			closeImage(img)
		}
	}
}

type displayEntry struct {
	axis   int
	byCam  map[string]any
	images []any
}

type displayDemux struct {
	mu      sync.Mutex
	byFrame map[string]*displayEntry
}

func newDisplayDemux() *displayDemux {
	return &displayDemux{byFrame: make(map[string]*displayEntry)}
}

func (d *displayDemux) put(frameName, cam string, axis int, image any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byFrame[frameName]
	if !ok {
		e = &displayEntry{axis: axis, byCam: make(map[string]any)}
		d.byFrame[frameName] = e
	}
	if old, ok := e.byCam[cam]; ok {
		closeImage(old)
	}
	e.axis = axis
	e.byCam[cam] = image
}

func (d *displayDemux) drain() map[string]*displayEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]*displayEntry, len(d.byFrame))
	for name, e := range d.byFrame {
		images := make([]any, 0, len(e.byCam))
		for _, img := range e.byCam {
			images = append(images, img)
		}
		out[name] = &displayEntry{axis: e.axis, images: images}
	}
	d.byFrame = make(map[string]*displayEntry)
	return out
}
