//go:build cgo
// +build cgo

package dart

import (
	"log"

	"github.com/dartvision/corepipeline/pkg/calibration"
	"github.com/dartvision/corepipeline/pkg/pipeline"
	"github.com/dartvision/corepipeline/pkg/vision"
)

// CalibrationUpdate is a raw JSON calibration payload of the shape
// {cam_id: {param: value, ...}}, delivered to MetaDataWriter's
// config_in port.
type CalibrationUpdate []byte

// Clone satisfies pipeline.Cloner.
func (c CalibrationUpdate) Clone() any {
	cp := make(CalibrationUpdate, len(c))
	copy(cp, c)
	return cp
}

// MetaDataWriter stamps per-camera calibration onto every inbound
// MultiFrame and accepts live calibration updates, persisting the full
// record to an opaque blob after each update.
type MetaDataWriter struct {
	*pipeline.Module

	record   *calibration.Record
	blobPath string

	framesOut *pipeline.OutputPort
}

// NewMetaDataWriter registers a MetaDataWriter module on ctx. record is
// the shared in-memory calibration state (already pre-loaded from blobPath
// by the caller, if present); blobPath is where updates are persisted —
// an empty string disables persistence.
func NewMetaDataWriter(ctx *pipeline.PipelineContext, record *calibration.Record, blobPath string) *MetaDataWriter {
	m := ctx.Register(pipeline.NewModule("metadata_writer"))
	w := &MetaDataWriter{Module: m, record: record, blobPath: blobPath}

	w.framesOut = pipeline.AddOutput[vision.MultiFrame](m, "frames_out")
	pipeline.AddInput[vision.MultiFrame](m, "frames_in", 32, w.onFrames)
	pipeline.AddInput[CalibrationUpdate](m, "config_in", 8, w.onConfig)

	return w
}

// FramesOut is the annotated MultiFrame output.
func (w *MetaDataWriter) FramesOut() *pipeline.OutputPort { return w.framesOut }

func (w *MetaDataWriter) onFrames(mf vision.MultiFrame) error {
	defer mf.Close()

	out := make([]vision.Frame, len(mf.Frames))
	for i, f := range mf.Frames {
		info := f.Info.Clone()
		w.stamp(info)
		out[i] = vision.Frame{FrameID: f.FrameID, Info: info, Mat: f.Mat.Clone()}
	}

	result := vision.MultiFrame{FrameID: mf.FrameID, Frames: out, HasProcessingTrigger: mf.HasProcessingTrigger}
	w.framesOut.Publish(result)
	result.Close()
	return nil
}

func (w *MetaDataWriter) stamp(info vision.CameraInfo) {
	cam := info.Name()
	if v, ok := w.record.Get("bull_location", cam); ok {
		info["bull"] = v
	}
	if v, ok := w.record.Get("board_radius", cam); ok {
		info["radius"] = v
	}
	if v, ok := w.record.Get("board_surface", cam); ok {
		info["board_surface_y"] = v
	}

	sx, okSX := w.record.Get("roi_start_x", cam)
	sy, okSY := w.record.Get("roi_start_y", cam)
	ex, okEX := w.record.Get("roi_end_x", cam)
	ey, okEY := w.record.Get("roi_end_y", cam)
	if okSX && okSY && okEX && okEY {
		info["suggested_roi"] = vision.ROI{X: int(sx), Y: int(sy), W: int(ex - sx), H: int(ey - sy)}
	}
}

func (w *MetaDataWriter) onConfig(update CalibrationUpdate) error {
	if err := w.record.MergeJSON(update); err != nil {
		return err
	}
	if w.blobPath == "" {
		return nil
	}
	if err := w.record.SaveBlob(w.blobPath); err != nil {
		log.Printf("dart: metadata_writer: persist calibration blob: %v", err)
	}
	return nil
}
