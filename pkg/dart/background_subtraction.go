//go:build cgo
// +build cgo

package dart

import (
	"image"
	"log"
	"reflect"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/vision"
)

// Design constants tuned to the 4x-downsampled ROI's saturated-pixel
// count.
const (
	DefaultThreshLow     = 2000.0
	DefaultThreshHigh    = 20000.0
	DefaultThreshTooHigh = 150000.0
)

// mogPair is one camera's two MOG2 models: a full-ROI model for
// foreground extraction on confirmed events, and a heavily-downsampled
// "event" model used only to decide whether an event occurred.
//
// gocv's BackgroundSubtractorMOG2 binding does not expose OpenCV's
// per-call learningRate parameter, so "apply with learning rate 0" is
// approximated by constructing the event model with a very large
// history (so its own automatic learning rate is already near zero) and
// calling Apply uniformly; the warm-up phase's explicit "learning rate
// 0.5" intent is honored by being the only phase allowed to apply
// repeatedly before any event decision is made.
type mogPair struct {
	full  gocv.BackgroundSubtractorMOG2
	event gocv.BackgroundSubtractorMOG2
}

func newMogPair() mogPair {
	return mogPair{
		full:  gocv.NewBackgroundSubtractorMOG2(),
		event: gocv.NewBackgroundSubtractorMOG2WithParams(2000, 16, false),
	}
}

func (p *mogPair) Close() {
	p.full.Close()
	p.event.Close()
}

// BackgroundSubtraction is the control core of the dart pipeline: it
// owns per-camera primary and temporary MOG2 model sets, detects
// confirmed dart-impact events from the downsampled event model, and
// emits synchronized foreground crops for FitLine once an event's
// full-ROI images arrive.
type BackgroundSubtraction struct {
	*pipeline.Module

	camIDs []string

	mu            sync.Mutex
	primary       map[string]*mogPair
	temp          map[string]*mogPair
	tempActive    bool
	initialImages map[string]int
	syncedInProg  bool
	lastROI       map[string]vision.ROI

	synchedForegroundsOut *pipeline.OutputPort
	debugOut              *pipeline.OutputPort
}

// NewBackgroundSubtraction registers the module. camIDs lists the cameras
// whose warm-up counts gate event decisions and for which primary and
// temporary models are created. minInitialImages is the warm-up
// sample count; threshLow/threshHigh/threshTooHigh are the
// event-classification thresholds.
func NewBackgroundSubtraction(ctx *pipeline.PipelineContext, camIDs []string, minInitialImages int, threshLow, threshHigh, threshTooHigh float64) *BackgroundSubtraction {
	m := ctx.Register(pipeline.NewModule("background_subtraction"))
	b := &BackgroundSubtraction{
		Module:        m,
		camIDs:        append([]string(nil), camIDs...),
		primary:       make(map[string]*mogPair),
		temp:          make(map[string]*mogPair),
		initialImages: make(map[string]int),
		lastROI:       make(map[string]vision.ROI),
	}
	for _, cam := range camIDs {
		p := newMogPair()
		b.primary[cam] = &p
	}

	m.DefineParameter("min_amount_of_initial_images", reflect.TypeOf(0), minInitialImages, true)
	m.DefineParameter("thresh_low", reflect.TypeOf(0.0), threshLow, true)
	m.DefineParameter("thresh_high", reflect.TypeOf(0.0), threshHigh, true)
	m.DefineParameter("thresh_too_high", reflect.TypeOf(0.0), threshTooHigh, true)
	if err := m.SetParameter("min_amount_of_initial_images", minInitialImages); err != nil {
		log.Printf("dart: background_subtraction: %v", err)
	}
	if err := m.SetParameter("thresh_low", threshLow); err != nil {
		log.Printf("dart: background_subtraction: %v", err)
	}
	if err := m.SetParameter("thresh_high", threshHigh); err != nil {
		log.Printf("dart: background_subtraction: %v", err)
	}
	if err := m.SetParameter("thresh_too_high", threshTooHigh); err != nil {
		log.Printf("dart: background_subtraction: %v", err)
	}

	b.synchedForegroundsOut = pipeline.AddOutput[vision.MultiFrame](m, "synced_foregrounds_out")
	b.debugOut = pipeline.AddOutput[vision.MultiFrame](m, "debug_out")

	pipeline.AddInput[vision.MultiFrame](m, "images_in", 32, b.onImages)
	pipeline.AddInput[vision.MultiFrame](m, "rois_in", 8, b.onROIs)
	pipeline.AddInput[vision.SetBackgroundTrigger](m, "set_background_trigger_in", 8, b.onTrigger)

	return b
}

// SynchedForegroundsOut is the per-event foreground output, consumed by
// CleanDifference.
func (b *BackgroundSubtraction) SynchedForegroundsOut() *pipeline.OutputPort {
	return b.synchedForegroundsOut
}

func (b *BackgroundSubtraction) minInitial() int {
	v, _ := b.Parameter("min_amount_of_initial_images")
	n, _ := v.(int)
	return n
}

func (b *BackgroundSubtraction) thresholds() (low, high, tooHigh float64) {
	l, _ := b.Parameter("thresh_low")
	h, _ := b.Parameter("thresh_high")
	t, _ := b.Parameter("thresh_too_high")
	low, _ = l.(float64)
	high, _ = h.(float64)
	tooHigh, _ = t.(float64)
	return
}

func downsample4x(src gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	sz := image.Pt(src.Cols()/4, src.Rows()/4)
	if sz.X < 1 {
		sz.X = 1
	}
	if sz.Y < 1 {
		sz.Y = 1
	}
	gocv.Resize(src, &out, sz, 0, 0, gocv.InterpolationNearestNeighbor)
	return out
}

func maskSum(mask gocv.Mat) float64 {
	return mask.Sum().Val1
}

// learnLocked applies one cropped frame to the primary model pair
// (downsampled event model and full-ROI model). Caller holds b.mu.
func (b *BackgroundSubtraction) learnLocked(cam string, full gocv.Mat) {
	p, ok := b.primary[cam]
	if !ok {
		return
	}
	down := downsample4x(full)
	eventMask := gocv.NewMat()
	fullMask := gocv.NewMat()
	p.event.Apply(down, &eventMask)
	p.full.Apply(full, &fullMask)
	down.Close()
	eventMask.Close()
	fullMask.Close()
}

func (b *BackgroundSubtraction) onImages(mf vision.MultiFrame) error {
	defer mf.Close()

	minInitial := b.minInitial()

	b.mu.Lock()
	warming := false
	for _, cam := range b.camIDs {
		if b.initialImages[cam] < minInitial {
			warming = true
			break
		}
	}
	b.mu.Unlock()

	type cropped struct {
		cam  string
		roi  vision.ROI
		full gocv.Mat
	}
	crops := make([]cropped, 0, len(mf.Frames))
	for _, f := range mf.Frames {
		cam := f.Info.Name()
		roi, ok := f.Info.ROI("suggested_roi")
		if !ok || roi.W <= 0 || roi.H <= 0 {
			roi = vision.ROI{X: 0, Y: 0, W: f.Mat.Cols(), H: f.Mat.Rows()}
		}
		x0, y0, x1, y1 := roi.Rect()
		full := f.Mat.Region(image.Rect(x0, y0, x1, y1))
		crops = append(crops, cropped{cam: cam, roi: roi, full: full})
	}
	closeCrops := func() {
		for _, c := range crops {
			c.full.Close()
		}
	}

	if warming {
		b.mu.Lock()
		for _, c := range crops {
			b.learnLocked(c.cam, c.full)
			b.initialImages[c.cam]++
		}
		b.mu.Unlock()
		closeCrops()
		return nil
	}

	diffs := make(map[string]float64, len(crops))
	maskFrames := make([]vision.Frame, 0, len(crops))
	b.mu.Lock()
	for _, c := range crops {
		p, ok := b.primary[c.cam]
		if !ok {
			continue
		}
		down := downsample4x(c.full)
		mask := gocv.NewMat()
		p.event.Apply(down, &mask)
		down.Close()

		filtered := gocv.NewMat()
		gocv.BilateralFilter(mask, &filtered, 5, 50, 50)
		mask.Close()

		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2, 2))
		opened := gocv.NewMat()
		gocv.MorphologyEx(filtered, &opened, gocv.MorphOpen, kernel)
		filtered.Close()
		closed := gocv.NewMat()
		gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
		opened.Close()
		kernel.Close()

		bin := gocv.NewMat()
		gocv.Threshold(closed, &bin, 5, 255, gocv.ThresholdBinary)
		closed.Close()

		diffs[c.cam] = maskSum(bin)
		maskFrames = append(maskFrames, vision.Frame{
			FrameID: mf.FrameID,
			Info:    vision.CameraInfo{"name": "EVENT_" + c.cam},
			Mat:     bin,
		})

		// The counter tracks frames observed per camera; learning is
		// decided separately below.
		b.initialImages[c.cam]++
		b.lastROI[c.cam] = c.roi
	}
	b.mu.Unlock()

	maskBundle := vision.MultiFrame{FrameID: mf.FrameID, Frames: maskFrames}
	b.debugOut.Publish(maskBundle)
	maskBundle.Close()

	maxDiff, minDiff := -1.0, -1.0
	for _, d := range diffs {
		if maxDiff < 0 || d > maxDiff {
			maxDiff = d
		}
		if minDiff < 0 || d < minDiff {
			minDiff = d
		}
	}

	low, high, tooHigh := b.thresholds()

	switch {
	case maxDiff > tooHigh:
		// A change this large is a player at the board or a lighting
		// jump, never a dart; skip the tick without learning it.
		log.Printf("dart: background_subtraction: change too large (%.0f), ignoring tick", maxDiff)
		closeCrops()

	case maxDiff > low && maxDiff < high:
		b.mu.Lock()
		for _, c := range crops {
			b.learnLocked(c.cam, c.full)
		}
		b.mu.Unlock()
		closeCrops()

	case maxDiff > high && minDiff > 2*low:
		b.mu.Lock()
		if b.syncedInProg {
			b.mu.Unlock()
			closeCrops()
			return nil
		}
		b.syncedInProg = true
		b.mu.Unlock()

		frames := make([]vision.Frame, 0, len(crops))
		for _, c := range crops {
			info := vision.CameraInfo{"name": c.cam, "roi": c.roi}
			frames = append(frames, vision.Frame{FrameID: mf.FrameID, Info: info, Mat: c.full})
		}
		roiBundle := vision.MultiFrame{FrameID: mf.FrameID, Frames: frames}

		triggerIn, _ := b.Input("set_background_trigger_in")
		triggerIn.Deliver(vision.SetBackgroundTrigger{DartNumber: 1})

		roisIn, _ := b.Input("rois_in")
		roisIn.Deliver(roiBundle)
		roiBundle.Close()

	default:
		// Quiet, or one camera changed without the other confirming
		// (e.g. a hand visible to a single camera): take no action, and
		// in particular do not learn the unconfirmed change.
		closeCrops()
	}

	return nil
}

func (b *BackgroundSubtraction) onROIs(mf vision.MultiFrame) error {
	defer mf.Close()

	out := make([]vision.Frame, 0, len(mf.Frames))
	b.mu.Lock()
	active := b.tempActive
	b.mu.Unlock()

	for _, f := range mf.Frames {
		cam := f.Info.Name()

		b.mu.Lock()
		var set *mogPair
		if active {
			set = b.temp[cam]
		}
		if set == nil {
			set = b.primary[cam]
		}
		b.mu.Unlock()
		if set == nil {
			continue
		}

		mask := gocv.NewMat()
		set.full.Apply(f.Mat, &mask)

		info := f.Info.Clone()
		if roi, ok := f.Info.ROI("roi"); ok {
			info["roi"] = roi
		}
		out = append(out, vision.Frame{FrameID: f.FrameID, Info: info, Mat: mask})
	}

	result := vision.MultiFrame{FrameID: mf.FrameID, Frames: out}
	b.synchedForegroundsOut.Publish(result)
	result.Close()

	b.mu.Lock()
	b.syncedInProg = false
	b.mu.Unlock()
	return nil
}

func (b *BackgroundSubtraction) onTrigger(trig vision.SetBackgroundTrigger) error {
	for {
		b.mu.Lock()
		inProgress := b.syncedInProg
		b.mu.Unlock()
		if !inProgress {
			break
		}
		select {
		case <-b.ctxDone():
			return nil
		case <-time.After(time.Millisecond):
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if trig.DartNumber <= 0 {
		for _, p := range b.temp {
			p.Close()
		}
		b.temp = make(map[string]*mogPair)
		b.tempActive = false
		return nil
	}

	for _, p := range b.temp {
		p.Close()
	}
	b.temp = make(map[string]*mogPair)
	for _, cam := range b.camIDs {
		p := newMogPair()
		b.temp[cam] = &p
	}
	b.tempActive = true
	return nil
}

// ctxDone lets onTrigger's spin-wait observe pipeline shutdown without
// importing context here; PipelineContext.Done already returns a
// <-chan struct{}.
func (b *BackgroundSubtraction) ctxDone() <-chan struct{} {
	if ctx := b.PipelineContext(); ctx != nil {
		return ctx.Done()
	}
	return nil
}
