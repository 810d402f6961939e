//go:build cgo
// +build cgo

package vision

import (
	"runtime"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dartvision/corepipeline/pkg/pipeline"
)

// PreviewWindow implements pipeline.DisplaySink with a single
// OS-thread-locked gocv.Window, the only place in the process allowed
// to touch the windowing toolkit. It receives pre-concatenated,
// per-frame-name images from the pipeline driver's spin loop.
type PreviewWindow struct {
	window   *gocv.Window
	frameCh  chan gocv.Mat
	closeCh  chan struct{}
	doneCh   chan struct{}
	once     sync.Once
	initDone chan struct{}
}

var _ pipeline.DisplaySink = (*PreviewWindow)(nil)

// NewPreviewWindow creates a preview window titled title. Safe to call
// from any goroutine; the actual OpenCV window is created on a
// dedicated, OS-thread-locked goroutine.
func NewPreviewWindow(title string) *PreviewWindow {
	p := &PreviewWindow{
		frameCh:  make(chan gocv.Mat, 1),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		initDone: make(chan struct{}),
	}
	go p.loop(title)
	<-p.initDone
	return p
}

func (p *PreviewWindow) loop(title string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.window = gocv.NewWindow(title)
	close(p.initDone)

	for {
		select {
		case frame := <-p.frameCh:
			p.window.IMShow(frame)
			p.window.WaitKey(1)
			frame.Close()
		case <-p.closeCh:
			p.window.Close()
			close(p.doneCh)
			return
		}
	}
}

// Show implements pipeline.DisplaySink. image must be a gocv.Mat; any
// other type is ignored (the demux concatenation step is responsible
// for producing a Mat).
func (p *PreviewWindow) Show(_ string, _ int, image any) {
	mat, ok := image.(gocv.Mat)
	if !ok || mat.Empty() {
		return
	}
	cloned := mat.Clone()
	select {
	case p.frameCh <- cloned:
	default:
		cloned.Close()
	}
}

// Close closes the preview window and releases resources.
func (p *PreviewWindow) Close() error {
	p.once.Do(func() {
		close(p.closeCh)
		<-p.doneCh
	})
	return nil
}

// ConcatAxis concatenates a frame name's per-camera debug images along
// axis (0=vertical stack, 1=horizontal stack), for use as the
// pipeline.SpinOptions.Concat callback. It takes ownership of the input
// Mats, releasing each once folded into the result; the caller owns the
// returned Mat.
func ConcatAxis(axis int, images []any) any {
	mats := make([]gocv.Mat, 0, len(images))
	for _, img := range images {
		m, ok := img.(gocv.Mat)
		if !ok {
			continue
		}
		if m.Empty() {
			m.Close()
			continue
		}
		mats = append(mats, m)
	}
	if len(mats) == 0 {
		return nil
	}
	acc := mats[0]
	for _, next := range mats[1:] {
		sameShape := next.Type() == acc.Type() &&
			((axis == 0 && next.Cols() == acc.Cols()) || (axis != 0 && next.Rows() == acc.Rows()))
		if !sameShape {
			next.Close()
			continue
		}
		out := gocv.NewMat()
		if axis == 0 {
			gocv.Vconcat(acc, next, &out)
		} else {
			gocv.Hconcat(acc, next, &out)
		}
		acc.Close()
		next.Close()
		acc = out
	}
	return acc
}
