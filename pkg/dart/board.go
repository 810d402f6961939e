package dart

// Board geometry constants in millimetres, origin at the bullseye.
const (
	RadiusInnerBull   = 6.35
	RadiusOuterBull   = 15.9
	RadiusInnerTriple = 99.0
	RadiusOuterTriple = 107.0
	RadiusInnerDouble = 162.0
	RadiusOuterDouble = 170.0
	RadiusBoard       = 225.5

	// CamDistBoardCenter is the assumed distance (mm) of each camera
	// from the board center along its respective axis.
	CamDistBoardCenter = 460.0

	// CameraFrameWidthPX is the assumed full-frame pixel width used to
	// locate the camera's optical center column.
	CameraFrameWidthPX = 1920.0
)

// Fields lists the 20 dartboard sectors in clockwise order starting at
// the top.
var Fields = [20]int{20, 1, 18, 4, 13, 6, 10, 15, 2, 17, 3, 19, 7, 16, 8, 11, 14, 9, 12, 5}

// DirectionFactors gives the sign convention for each camera's pixel
// offset, per the two-camera geometry assumed by ProjectOnBoard: cam 0
// sits along the board's −x axis and sees the board mirrored, cam 1
// along its −y axis. The rig defines no geometry for further cameras;
// ProjectOnBoard returns ErrUnsupportedCamera for any index beyond this
// slice.
var DirectionFactors = []float64{-1, 1}
