package main

const (
	MsgBanner = "YOLOv8 Detection API - Send POST request to /predict with image file"

	MsgPredictionOK     = "Prediction completed successfully"
	MsgBadRequest       = "Bad request"
	MsgPredictionFailed = "Prediction failed"

	StatusHealthy = "healthy"
)
