//go:build cgo
// +build cgo

package dart

import (
	"sync"

	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/vision"
)

// DartState is one state of the alternative dart-progression control
// path.
type DartState int

const (
	StateIdle DartState = iota
	StateDart1
	StateDart2
	StateDart3
	StateTakeOut
)

func (s DartState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDart1:
		return "DART_1"
	case StateDart2:
		return "DART_2"
	case StateDart3:
		return "DART_3"
	case StateTakeOut:
		return "TAKE_OUT"
	default:
		return "UNKNOWN"
	}
}

// StateMachine tracks dart-1/2/3/take-out progression from per-camera
// ContourSet arrivals, as an alternative to driving background resets
// directly off BackgroundSubtraction's own event detection. It is
// independent of FitLine/ProjectOnBoard and may be wired in parallel
// with them off EdgeDetection's contours_out.
type StateMachine struct {
	*pipeline.Module

	camIDs []string

	mu              sync.Mutex
	state           DartState
	waitFrameID     int64
	waiting         bool
	seen            map[string]vision.ContourSet
	backgroundReset bool

	collectionOut *pipeline.OutputPort
	triggerOut    *pipeline.OutputPort
}

// NewStateMachine registers a StateMachine module on ctx. camIDs fixes
// the set of cameras a "matches complete" decision waits for.
func NewStateMachine(ctx *pipeline.PipelineContext, camIDs []string) *StateMachine {
	m := ctx.Register(pipeline.NewModule("state_machine"))
	s := &StateMachine{
		Module: m,
		camIDs: append([]string(nil), camIDs...),
		seen:   make(map[string]vision.ContourSet),
	}

	s.collectionOut = pipeline.AddOutput[vision.ContourCollection](m, "contours_out")
	s.triggerOut = pipeline.AddOutput[vision.SetBackgroundTrigger](m, "background_trigger_out")

	pipeline.AddInput[vision.ContourSet](m, "contours_in", 32, s.onContourSet)

	return s
}

// State returns the current dart-progression state.
func (s *StateMachine) State() DartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestBackgroundReset marks that the next completed dart transition
// should publish a SetBackgroundTrigger instead of simply advancing,
// e.g. when the operator starts a new leg.
func (s *StateMachine) RequestBackgroundReset() {
	s.mu.Lock()
	s.backgroundReset = true
	s.mu.Unlock()
}

func (s *StateMachine) onContourSet(cs vision.ContourSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonEmpty := len(cs.Points) > 0

	switch s.state {
	case StateIdle:
		if !nonEmpty {
			return nil
		}
		s.state = StateDart1
		s.beginWait(cs.FrameID)
		s.record(cs)
		s.maybeComplete()

	case StateTakeOut:
		if !s.waiting || s.waitFrameID != cs.FrameID {
			s.beginWait(cs.FrameID)
		}
		s.record(cs)
		if s.complete() {
			allEmpty := true
			for _, seen := range s.seen {
				if len(seen.Points) > 0 {
					allEmpty = false
					break
				}
			}
			s.clearWait()
			if allEmpty {
				s.state = StateIdle
			}
		}

	default: // StateDart1, StateDart2, StateDart3
		if !s.waiting || s.waitFrameID != cs.FrameID {
			s.beginWait(cs.FrameID)
		}
		s.record(cs)
		s.maybeComplete()
	}

	return nil
}

func (s *StateMachine) beginWait(frameID int64) {
	s.waiting = true
	s.waitFrameID = frameID
	s.seen = make(map[string]vision.ContourSet)
}

func (s *StateMachine) clearWait() {
	s.waiting = false
	s.seen = make(map[string]vision.ContourSet)
}

func (s *StateMachine) record(cs vision.ContourSet) {
	if cs.FrameID != s.waitFrameID {
		return
	}
	s.seen[cs.Info.Name()] = cs
}

func (s *StateMachine) complete() bool {
	if !s.waiting {
		return false
	}
	for _, cam := range s.camIDs {
		if _, ok := s.seen[cam]; !ok {
			return false
		}
	}
	return true
}

// maybeComplete is called while in a DART_n state; on a completed match
// it publishes the collection, fires a background-reset trigger if one
// was requested, and advances to the next dart state, starting to wait
// again.
func (s *StateMachine) maybeComplete() {
	if !s.complete() {
		return
	}

	byCam := make([]vision.ContourSet, 0, len(s.seen))
	for _, cam := range s.camIDs {
		byCam = append(byCam, s.seen[cam])
	}
	collection := vision.ContourCollection{FrameID: s.waitFrameID, ByCam: byCam}
	frameID := s.waitFrameID
	s.clearWait()

	if s.backgroundReset {
		s.backgroundReset = false
		s.triggerOut.Publish(vision.SetBackgroundTrigger{DartNumber: dartNumberFor(s.state)})
	}

	switch s.state {
	case StateDart1:
		s.state = StateDart2
	case StateDart2:
		s.state = StateDart3
	case StateDart3:
		s.state = StateTakeOut
	}
	if s.state != StateTakeOut {
		s.beginWait(frameID)
	}

	s.collectionOut.Publish(collection)
}

func dartNumberFor(state DartState) int {
	switch state {
	case StateDart1:
		return 1
	case StateDart2:
		return 2
	case StateDart3:
		return 3
	default:
		return 0
	}
}
