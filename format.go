package main

import "github.com/Tutortoise/yolo-detection-service/models"

type Prediction struct {
	Class      int        `json:"class"`
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"`
}

// FormatPredictions keeps the model's order and never returns nil, so an
// empty result encodes as [].
func FormatPredictions(detections []models.Detection) []Prediction {
	predictions := make([]Prediction, 0, len(detections))
	for _, d := range detections {
		predictions = append(predictions, Prediction{
			Class:      d.ClassID,
			Confidence: d.Confidence,
			BBox:       d.BBox,
		})
	}
	return predictions
}
