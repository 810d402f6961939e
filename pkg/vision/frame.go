//go:build cgo
// +build cgo

// Package vision defines the image/frame data model shared by every
// pipeline stage, and the multi-camera grabber. A Frame pairs an owned
// pixel buffer with a plain map of camera metadata; the metadata never
// owns pixels and the pixel container is never subclassed.
package vision

import (
	"fmt"

	"gocv.io/x/gocv"
)

// CameraInfo carries the camera identifier and whatever annotations
// pipeline stages have attached so far (bull, radius, board_surface_y,
// suggested_roi, roi, calibration, ...). It is a plain map, never an
// owner of pixels.
type CameraInfo map[string]any

// Clone returns a deep copy so a stage can mutate its own copy without
// corrupting an upstream cache.
func (c CameraInfo) Clone() CameraInfo {
	out := make(CameraInfo, len(c))
	for k, v := range c {
		if rect, ok := v.(ROI); ok {
			out[k] = rect
			continue
		}
		if nested, ok := v.(map[string]float64); ok {
			cp := make(map[string]float64, len(nested))
			for nk, nv := range nested {
				cp[nk] = nv
			}
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// Name returns the "name" annotation, the camera identifier.
func (c CameraInfo) Name() string {
	v, _ := c["name"].(string)
	return v
}

// WithName returns a clone annotated with the given camera name.
func (c CameraInfo) WithName(name string) CameraInfo {
	out := c.Clone()
	out["name"] = name
	return out
}

// Float looks up a float64 annotation.
func (c CameraInfo) Float(key string) (float64, bool) {
	v, ok := c[key].(float64)
	return v, ok
}

// ROI returns the "roi" or "suggested_roi" style annotation under key.
func (c CameraInfo) ROI(key string) (ROI, bool) {
	v, ok := c[key].(ROI)
	return v, ok
}

// Calibration returns the per-camera calibration map annotation, if
// present.
func (c CameraInfo) Calibration() (map[string]float64, bool) {
	v, ok := c["calibration"].(map[string]float64)
	return v, ok
}

// ROI is a region-of-interest rectangle within an image, in pixels.
type ROI struct {
	X, Y, W, H int
}

// Rect converts the ROI to a gocv/image.Rectangle-compatible form.
func (r ROI) Rect() (x0, y0, x1, y1 int) {
	return r.X, r.Y, r.X + r.W, r.Y + r.H
}

// Frame is one camera's immutable pixel buffer for one capture tick,
// plus its CameraInfo annotations.
type Frame struct {
	FrameID int64
	Info    CameraInfo
	Mat     gocv.Mat
}

// Clone deep-copies both the pixel buffer and the CameraInfo map, so a
// slow downstream consumer can never corrupt an upstream cache.
func (f Frame) Clone() Frame {
	return Frame{
		FrameID: f.FrameID,
		Info:    f.Info.Clone(),
		Mat:     f.Mat.Clone(),
	}
}

// Close releases the underlying pixel buffer.
func (f Frame) Close() error {
	return f.Mat.Close()
}

// MultiFrame is a synchronized bundle of one Frame per configured
// camera, sharing one frame_id.
type MultiFrame struct {
	FrameID              int64
	Frames               []Frame
	HasProcessingTrigger bool
}

// Clone deep-copies every frame in the bundle.
func (mf MultiFrame) Clone() any {
	out := MultiFrame{FrameID: mf.FrameID, HasProcessingTrigger: mf.HasProcessingTrigger}
	out.Frames = make([]Frame, len(mf.Frames))
	for i, f := range mf.Frames {
		out.Frames[i] = f.Clone()
	}
	return out
}

// Close releases every frame's pixel buffer.
func (mf MultiFrame) Close() {
	for _, f := range mf.Frames {
		f.Close()
	}
}

// Validate checks the bundle invariants: exactly one frame per camId in
// camIDs order, every frame sharing the bundle's frame_id, and
// CameraInfo.Name() matching camIDs exactly (no permutation, no
// omission).
func (mf MultiFrame) Validate(camIDs []string) error {
	if len(mf.Frames) != len(camIDs) {
		return fmt.Errorf("vision: multiframe %d: got %d frames, want %d", mf.FrameID, len(mf.Frames), len(camIDs))
	}
	for i, f := range mf.Frames {
		if f.FrameID != mf.FrameID {
			return fmt.Errorf("vision: multiframe %d: frame %d carries frame_id %d", mf.FrameID, i, f.FrameID)
		}
		if f.Info.Name() != camIDs[i] {
			return fmt.Errorf("vision: multiframe %d: frame %d is camera %q, want %q", mf.FrameID, i, f.Info.Name(), camIDs[i])
		}
	}
	return nil
}

// ByCamera returns the Frame for the given camera id, or false if absent.
func (mf MultiFrame) ByCamera(camID string) (Frame, bool) {
	for _, f := range mf.Frames {
		if f.Info.Name() == camID {
			return f, true
		}
	}
	return Frame{}, false
}

// ImagePoint is one contour vertex, in pixel coordinates.
type ImagePoint struct {
	X, Y int
}

// ContourSet is a list of polyline contours for one camera, one
// frame_id.
type ContourSet struct {
	FrameID int64
	Info    CameraInfo
	Points  [][]ImagePoint
}

// ContourCollection bundles one ContourSet per camera for a single tick.
type ContourCollection struct {
	FrameID int64
	ByCam   []ContourSet
}

// Clone deep-copies the collection.
func (cc ContourCollection) Clone() any {
	out := ContourCollection{FrameID: cc.FrameID}
	out.ByCam = make([]ContourSet, len(cc.ByCam))
	for i, cs := range cc.ByCam {
		pts := make([][]ImagePoint, len(cs.Points))
		for j, poly := range cs.Points {
			pts[j] = append([]ImagePoint(nil), poly...)
		}
		out.ByCam[i] = ContourSet{FrameID: cs.FrameID, Info: cs.Info.Clone(), Points: pts}
	}
	return out
}

// ImpactPoint is the image-plane pixel where a dart's axis meets the
// board surface line, for one camera.
type ImpactPoint struct {
	X, Y    float64
	FrameID int64
	Info    CameraInfo
}

// ImpactPoints bundles one ImpactPoint per camera for a single tick.
type ImpactPoints struct {
	FrameID int64
	ByCam   []ImpactPoint
}

// Clone deep-copies the bundle.
func (ip ImpactPoints) Clone() any {
	out := ImpactPoints{FrameID: ip.FrameID}
	out.ByCam = make([]ImpactPoint, len(ip.ByCam))
	for i, p := range ip.ByCam {
		out.ByCam[i] = ImpactPoint{X: p.X, Y: p.Y, FrameID: p.FrameID, Info: p.Info.Clone()}
	}
	return out
}

// SetBackgroundTrigger requests a switch to (dart_number>0) or away from
// (dart_number==0) the temporary background subtractor.
type SetBackgroundTrigger struct {
	DartNumber int
}

// Clone satisfies Cloner; the payload is a plain value type already.
func (t SetBackgroundTrigger) Clone() any { return t }

// BoardCoordinate is a millimetre (x,y) in the board's planar
// coordinate system, origin at the bullseye.
type BoardCoordinate struct {
	X, Y float64
}

// Clone satisfies Cloner.
func (b BoardCoordinate) Clone() any { return b }
