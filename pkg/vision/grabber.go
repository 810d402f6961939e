//go:build cgo
// +build cgo

package vision

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// fourccMJPEG is the FourCC code for Motion JPEG, set explicitly so USB
// webcams deliver compressed frames at full rate.
const fourccMJPEG = 0x47504A4D

// CameraSpec configures one physical camera within a Grabber.
type CameraSpec struct {
	// ID is the camera identifier used as CameraInfo's "name" and as
	// the cam_id in cam_ids order.
	ID       string
	DeviceID int
	Width    int
	Height   int
	FPS      int
}

// BrightnessStabilization configures the startup warm-up phase: each
// camera captures frames until at least MinSamples of them have had a
// mean luma below MaxMeanLuma. The grabber does not set or lock the
// cameras' exposure; frames are captured with whatever exposure the
// driver applies.
type BrightnessStabilization struct {
	MaxMeanLuma float64
	MinSamples  int
	MaxAttempts int
}

// DefaultBrightnessStabilization returns conservative defaults.
func DefaultBrightnessStabilization() BrightnessStabilization {
	return BrightnessStabilization{MaxMeanLuma: 200, MinSamples: 5, MaxAttempts: 200}
}

// cameraHandle owns one opened VideoCapture; a Grabber holds one handle
// per configured camera.
type cameraHandle struct {
	spec CameraSpec

	mu     sync.Mutex
	webcam *gocv.VideoCapture
}

func openCamera(spec CameraSpec) (*cameraHandle, error) {
	webcam, err := gocv.OpenVideoCaptureWithAPI(spec.DeviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return nil, fmt.Errorf("vision: opening camera %q (device %d): %w", spec.ID, spec.DeviceID, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, fmt.Errorf("vision: camera %q (device %d) not found or unavailable", spec.ID, spec.DeviceID)
	}

	webcam.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)
	if spec.Width > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(spec.Width))
	}
	if spec.Height > 0 {
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(spec.Height))
	}
	if spec.FPS > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(spec.FPS))
	}

	return &cameraHandle{spec: spec, webcam: webcam}, nil
}

func (h *cameraHandle) read() (gocv.Mat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	mat := gocv.NewMat()
	if ok := h.webcam.Read(&mat); !ok {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("vision: camera %q: failed to read frame", h.spec.ID)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("vision: camera %q: captured frame is empty", h.spec.ID)
	}
	return mat, nil
}

func (h *cameraHandle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.webcam.Close()
}

// meanLuma returns the mean brightness of mat after conversion to
// grayscale.
func meanLuma(mat gocv.Mat) float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	if mat.Channels() >= 3 {
		gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	} else {
		mat.CopyTo(&gray)
	}
	mean := gray.Mean()
	return mean.Val1
}

// Grabber publishes synchronized MultiFrame bundles at a target frame
// rate: one frame per camera per tick in cam_ids order, a fresh
// globally-unique frame_id per tick, and a brightness-stabilization
// warm-up phase before publishing begins.
type Grabber struct {
	cams   []*cameraHandle
	camIDs []string

	nextFrameID int64
	stab        BrightnessStabilization
}

// NewGrabber opens every camera in specs, in order; specs define the
// cam_ids order used for every published MultiFrame.
func NewGrabber(specs []CameraSpec, stab BrightnessStabilization) (*Grabber, error) {
	g := &Grabber{stab: stab}
	for _, spec := range specs {
		h, err := openCamera(spec)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.cams = append(g.cams, h)
		g.camIDs = append(g.camIDs, spec.ID)
	}
	return g, nil
}

// CamIDs returns the configured camera order.
func (g *Grabber) CamIDs() []string { return append([]string(nil), g.camIDs...) }

// Stabilize runs the brightness-stabilization warm-up: each camera
// captures frames under fixed exposure until its mean luma drops below
// MaxMeanLuma and MinSamples frames have been observed. Returns once
// every camera has stabilized, or an error if MaxAttempts is exceeded.
func (g *Grabber) Stabilize() error {
	counts := make([]int, len(g.cams))
	for attempt := 0; ; attempt++ {
		done := true
		for i, cam := range g.cams {
			if counts[i] >= g.stab.MinSamples {
				continue
			}
			mat, err := cam.read()
			if err != nil {
				return err
			}
			luma := meanLuma(mat)
			mat.Close()
			if luma < g.stab.MaxMeanLuma {
				counts[i]++
			}
			if counts[i] < g.stab.MinSamples {
				done = false
			}
		}
		if done {
			return nil
		}
		if g.stab.MaxAttempts > 0 && attempt >= g.stab.MaxAttempts {
			return fmt.Errorf("vision: brightness stabilization exceeded %d attempts", g.stab.MaxAttempts)
		}
	}
}

// Grab synchronously collects the next frame from every camera in order
// and returns a single MultiFrame carrying a fresh, unique frame_id.
func (g *Grabber) Grab() (MultiFrame, error) {
	frameID := atomic.AddInt64(&g.nextFrameID, 1)
	ts := time.Now()

	frames := make([]Frame, 0, len(g.cams))
	for _, cam := range g.cams {
		mat, err := cam.read()
		if err != nil {
			for _, f := range frames {
				f.Close()
			}
			return MultiFrame{}, err
		}
		info := CameraInfo{"name": cam.spec.ID, "ts": ts}
		frames = append(frames, Frame{FrameID: frameID, Info: info, Mat: mat})
	}
	return MultiFrame{FrameID: frameID, Frames: frames}, nil
}

// Run captures and publishes MultiFrames at targetFPS until ctxDone is
// closed, pushing each onto publish. Brightness stabilization must have
// already completed via Stabilize.
func (g *Grabber) Run(targetFPS int, ctxDone <-chan struct{}, publish func(MultiFrame)) {
	if targetFPS <= 0 {
		targetFPS = 25
	}
	ticker := time.NewTicker(time.Second / time.Duration(targetFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctxDone:
			return
		case <-ticker.C:
			mf, err := g.Grab()
			if err != nil {
				continue
			}
			publish(mf)
		}
	}
}

// Close releases every camera.
func (g *Grabber) Close() error {
	var firstErr error
	for _, cam := range g.cams {
		if err := cam.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
