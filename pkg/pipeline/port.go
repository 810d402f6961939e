package pipeline

import (
	"log"
	"reflect"
	"sync"
)

// Cloner lets a payload type control how Publish copies it on fan-out.
// Types that do not implement Cloner are published by value as-is; this
// is safe for payload types every stage treats as immutable.
type Cloner interface {
	Clone() any
}

// OutputPort is a typed, named output endpoint on a Module.
type OutputPort struct {
	name        string
	module      *Module
	payloadType reflect.Type
	configKeys  []string

	mu          sync.Mutex
	connections []*InputPort
	relayTo     []*OutputPort
}

func newOutputPort(module *Module, name string, payloadType reflect.Type, configKeys []string) *OutputPort {
	return &OutputPort{
		name:        name,
		module:      module,
		payloadType: payloadType,
		configKeys:  configKeys,
	}
}

// Name returns the port's logical name.
func (o *OutputPort) Name() string { return o.module.name + "." + o.name }

func typeMismatch(out reflect.Type, in reflect.Type) bool {
	if in.Kind() == reflect.Interface {
		return !out.Implements(in) && out != in
	}
	return out != in && !out.AssignableTo(in)
}

// Connect validates the output payload type against the input's
// declared type, registers the connection, immediately emits
// configuration to the new input, and forwards the connection to every
// relay registered on this output. Relays registered on the input are
// not touched here; they forward each item when it is enqueued.
func (o *OutputPort) Connect(in *InputPort) error {
	if in.module == o.module {
		return &ConnectError{Kind: SelfLoop, Output: o.Name(), Input: in.Name()}
	}
	if typeMismatch(o.payloadType, in.payloadType) {
		return &ConnectError{Kind: TypeMismatch, Output: o.Name(), Input: in.Name()}
	}

	o.mu.Lock()
	for _, existing := range o.connections {
		if existing == in {
			o.mu.Unlock()
			return nil
		}
	}
	o.connections = append(o.connections, in)
	relays := append([]*OutputPort(nil), o.relayTo...)
	o.mu.Unlock()

	in.mu.Lock()
	in.connected = true
	in.mu.Unlock()

	o.emitConfigurationTo(in, nil)

	for _, r := range relays {
		if err := r.Connect(in); err != nil {
			return err
		}
	}
	return nil
}

// Relay makes other a mirror recipient of this output: every future (and
// already-registered) connection of this output is forwarded to other
// as well.
func (o *OutputPort) Relay(other *OutputPort) {
	o.mu.Lock()
	o.relayTo = append(o.relayTo, other)
	existing := append([]*InputPort(nil), o.connections...)
	o.mu.Unlock()

	for _, in := range existing {
		if err := other.Connect(in); err != nil {
			log.Printf("pipeline: relay %s -> %s: %v", o.Name(), other.Name(), err)
		}
	}
}

// EmitConfiguration resolves the output's configuration keys from the
// owning module's current parameter values (or from update, when given)
// and sends the result to every connected input.
func (o *OutputPort) EmitConfiguration(update map[string]any) {
	o.mu.Lock()
	conns := append([]*InputPort(nil), o.connections...)
	o.mu.Unlock()

	for _, in := range conns {
		o.emitConfigurationTo(in, update)
	}
}

func (o *OutputPort) emitConfigurationTo(in *InputPort, update map[string]any) {
	if len(o.configKeys) == 0 {
		return
	}
	values := make(map[string]any, len(o.configKeys))
	for _, key := range o.configKeys {
		if update != nil {
			if v, ok := update[key]; ok {
				values[key] = v
				continue
			}
		}
		if v, ok := o.module.Parameter(key); ok {
			values[key] = v
		}
	}
	in.applyConfiguration(values)
}

// Publish deep-copies value (via Cloner, when implemented) and enqueues
// it in every connected input's bounded queue. Relay targets receive
// their own deliveries through their own connections registered at
// Connect time, so they are not re-published here.
func (o *OutputPort) Publish(value any) {
	o.mu.Lock()
	conns := append([]*InputPort(nil), o.connections...)
	o.mu.Unlock()

	for _, in := range conns {
		in.enqueue(cloneValue(value))
	}
}

func cloneValue(value any) any {
	if c, ok := value.(Cloner); ok {
		return c.Clone()
	}
	return value
}

// InputPort is a typed, named input endpoint on a Module, backed by a
// bounded, drop-oldest FIFO queue and a dedicated worker goroutine.
type InputPort struct {
	name        string
	module      *Module
	payloadType reflect.Type
	configKeys  []string
	capacity    int
	handler     func(any) error

	mu         sync.Mutex
	queue      chan any
	relayTo    []*InputPort
	configured map[string]any
	connected  bool
	active     bool

	drops uint64
}

func newInputPort(module *Module, name string, payloadType reflect.Type, configKeys []string, capacity int) *InputPort {
	return &InputPort{
		name:        name,
		module:      module,
		payloadType: payloadType,
		configKeys:  configKeys,
		capacity:    capacity,
		queue:       make(chan any, capacity),
		configured:  make(map[string]any),
	}
}

// Name returns the port's logical name.
func (in *InputPort) Name() string { return in.module.name + "." + in.name }

// IsConfigured reports whether every configuration key listed on this
// input currently has a non-nil value.
func (in *InputPort) IsConfigured() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, key := range in.configKeys {
		if v, ok := in.configured[key]; !ok || v == nil {
			return false
		}
	}
	return true
}

// Relay forwards every future publish delivered to this input on to
// other as well, transparently. The relay target counts as connected.
func (in *InputPort) Relay(other *InputPort) {
	in.mu.Lock()
	in.relayTo = append(in.relayTo, other)
	in.mu.Unlock()

	other.mu.Lock()
	other.connected = true
	other.mu.Unlock()
}

func (in *InputPort) applyConfiguration(values map[string]any) {
	in.mu.Lock()
	for key, v := range values {
		in.configured[key] = v
	}
	in.mu.Unlock()

	for key, v := range values {
		if _, ok := in.module.parameterSpec(key); ok {
			if err := in.module.SetParameter(key, v); err != nil {
				log.Printf("pipeline: %s: propagate %s: %v", in.Name(), key, err)
			}
		}
	}
}

// enqueue places value on the bounded queue, dropping the oldest queued
// item and logging a warning if the queue is already full. The sender
// never blocks.
func (in *InputPort) enqueue(value any) {
	in.mu.Lock()
	relays := append([]*InputPort(nil), in.relayTo...)
	in.mu.Unlock()

	for {
		select {
		case in.queue <- value:
		default:
			select {
			case <-in.queue:
				in.mu.Lock()
				in.drops++
				in.mu.Unlock()
				log.Printf("pipeline: %s: queue full (cap=%d), dropping oldest item", in.Name(), in.capacity)
				continue
			default:
			}
		}
		break
	}

	for _, r := range relays {
		r.enqueue(value)
	}
}

// Deliver enqueues value directly on this input's own queue, bypassing
// Connect's self-loop restriction. Connect exists to type-check and wire
// distinct modules together; a module is still free to post back onto
// its own input asynchronously (e.g. BackgroundSubtraction re-arming
// itself via set_background_trigger_in after confirming an event), which
// is exactly the self-dispatch this method is for.
func (in *InputPort) Deliver(value any) {
	in.enqueue(cloneValue(value))
}

// Drops returns the number of items evicted from the queue by
// drop-oldest backpressure so far.
func (in *InputPort) Drops() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.drops
}

// Depth returns the current number of queued, unprocessed items.
func (in *InputPort) Depth() int {
	return len(in.queue)
}
