package dart

import "errors"

// ErrGeometryParallel is logged and the sample dropped when ProjectOnBoard's
// two camera rays are parallel.
var ErrGeometryParallel = errors.New("dart: projected camera rays are parallel")

// ErrStaleFrameCache is logged and the sample dropped when FitLine
// receives a ContourCollection whose frame_id has no cached MultiFrame.
var ErrStaleFrameCache = errors.New("dart: no cached multiframe for this frame_id")

// ErrUnsupportedCamera is returned by ProjectOnBoard for any camera
// index beyond cam0/cam1; the rig defines no direction convention for a
// third camera.
var ErrUnsupportedCamera = errors.New("dart: projection only supports cam0/cam1 geometry")
