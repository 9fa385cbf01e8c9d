package main

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindMissingFile
	KindEmptyFilename
	KindInvalidImage
	KindUploadTooLarge
	KindModelLoad
	KindInference
)

func (k ErrorKind) String() string {
	switch k {
	case KindMissingFile:
		return "missing_file"
	case KindEmptyFilename:
		return "empty_filename"
	case KindInvalidImage:
		return "invalid_image"
	case KindUploadTooLarge:
		return "upload_too_large"
	case KindModelLoad:
		return "model_load"
	case KindInference:
		return "inference"
	default:
		return "internal"
	}
}

// errorRule is how one kind of failure is shown to the client. An empty text
// means the error's own message is sent. Bare responses carry only the error
// field.
type errorRule struct {
	status  int
	message string
	text    string
	bare    bool
}

var errorTable = map[ErrorKind]errorRule{
	KindMissingFile:    {status: http.StatusBadRequest, text: "No file provided", bare: true},
	KindEmptyFilename:  {status: http.StatusBadRequest, text: "Empty filename", bare: true},
	KindInvalidImage:   {status: http.StatusBadRequest, message: MsgBadRequest, text: "Invalid image file"},
	KindUploadTooLarge: {status: http.StatusRequestEntityTooLarge, message: MsgBadRequest, text: "Upload too large"},
	KindModelLoad:      {status: http.StatusInternalServerError, message: MsgPredictionFailed},
	KindInference:      {status: http.StatusInternalServerError, message: MsgPredictionFailed},
	KindInternal:       {status: http.StatusInternalServerError, message: MsgPredictionFailed},
}

var (
	ErrMissingFile    = errors.New("no file provided")
	ErrEmptyFilename  = errors.New("empty filename")
	ErrInvalidImage   = errors.New("invalid image file")
	ErrUploadTooLarge = errors.New("upload too large")
)

// LoadError is returned when the model could not be constructed.
type LoadError struct {
	Cause error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("model load failed: %v", e.Cause)
	}
	return "model load failed"
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// InferenceError is returned when a loaded model fails to process an image.
type InferenceError struct {
	Cause error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Cause)
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}

func classifyError(err error) ErrorKind {
	var (
		loadErr  *LoadError
		inferErr *InferenceError
	)

	switch {
	case errors.Is(err, ErrMissingFile):
		return KindMissingFile
	case errors.Is(err, ErrEmptyFilename):
		return KindEmptyFilename
	case errors.Is(err, ErrUploadTooLarge):
		return KindUploadTooLarge
	case errors.Is(err, ErrInvalidImage):
		return KindInvalidImage
	case errors.As(err, &loadErr):
		return KindModelLoad
	case errors.As(err, &inferErr):
		return KindInference
	default:
		return KindInternal
	}
}
