package models

import "time"

// Detection is one object reported by the model. BBox is [x1, y1, x2, y2] in
// pixels of the decoded image.
type Detection struct {
	ClassID    int
	Confidence float32
	BBox       [4]float32
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
