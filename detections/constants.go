package detections

const (
	DefaultInputSize = 640
	ConfThreshold    = 0.25
	IouThreshold     = 0.7
	MaxDetections    = 300
	MaxNMSCandidates = 30000

	// maxWH offsets boxes per class so NMS never suppresses across classes.
	maxWH = 7680

	padValue = 114
)

// Strides of the YOLOv8 detection heads, used to size the anchor grid when
// the model exports dynamic spatial dimensions.
var headStrides = []int{8, 16, 32}
