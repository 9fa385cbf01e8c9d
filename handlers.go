package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/Tutortoise/yolo-detection-service/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

type Server struct {
	gateway        *Gateway
	log            *logrus.Logger
	maxUploadBytes int64
}

type PredictResponse struct {
	Success     bool         `json:"success"`
	Predictions []Prediction `json:"predictions"`
	Message     string       `json:"message"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type bareErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

type ctxKey int

const requestIDKey ctxKey = iota

func NewServer(gateway *Gateway, log *logrus.Logger, maxUploadBytes int64) *Server {
	return &Server{
		gateway:        gateway,
		log:            log,
		maxUploadBytes: maxUploadBytes,
	}
}

// Handler builds the router with CORS, request logging and panic recovery.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLogger, s.recoverer)

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	s.addMonitoringRoutes(r)

	return cors.AllowAll().Handler(r)
}

func (s *Server) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, MsgBanner)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      StatusHealthy,
		ModelLoaded: s.gateway.Loaded(),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	ctx := r.Context()
	timings := &models.ProcessingTimings{RequestID: requestID(ctx)}

	filename, data, err := s.readUpload(w, r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	if err := s.gateway.EnsureLoaded(ctx); err != nil {
		s.sendError(w, r, err)
		return
	}

	decodeStart := time.Now()
	img, err := DecodeImage(data)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	detections, err := s.gateway.Run(ctx, img, timings)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	timings.Total = time.Since(startTotal)
	s.logTimings(timings)
	s.log.WithFields(logrus.Fields{
		"request_id": timings.RequestID,
		"filename":   filename,
		"detections": len(detections),
	}).Info("Prediction completed")

	writeJSON(w, http.StatusOK, PredictResponse{
		Success:     true,
		Predictions: FormatPredictions(detections),
		Message:     MsgPredictionOK,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"model_state":   s.gateway.State().String(),
		"load_attempts": s.gateway.LoadCount(),
	}
	if err := s.gateway.LastError(); err != nil {
		response["last_load_error"] = err.Error()
	}
	if pool, ok := s.gateway.Engine().(interface{ Stats() PoolStats }); ok {
		stats := pool.Stats()
		response["pool_size"] = stats.PoolSize
		response["sessions_in_use"] = stats.SessionsInUse
		response["total_acquired"] = stats.TotalAcquired
		response["total_released"] = stats.TotalReleased
		response["acquire_failures"] = stats.AcquireFailures
		response["wait_time_ns"] = stats.WaitTime
	}

	writeJSON(w, http.StatusOK, response)
}

// readUpload returns the first multipart part named "file" that carries a
// filename parameter. Parts without one are plain form values.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, ErrMissingFile
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil, ErrMissingFile
		}
		if err != nil {
			if isTooLarge(err) {
				return "", nil, ErrUploadTooLarge
			}
			return "", nil, fmt.Errorf("%w: %v", ErrMissingFile, err)
		}

		if part.FormName() != "file" {
			part.Close()
			continue
		}
		filename, ok := partFilename(part.Header.Get("Content-Disposition"))
		if !ok {
			part.Close()
			continue
		}
		if filename == "" {
			part.Close()
			return "", nil, ErrEmptyFilename
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			if isTooLarge(err) {
				return "", nil, ErrUploadTooLarge
			}
			return "", nil, fmt.Errorf("read upload: %w", err)
		}
		return filename, data, nil
	}
}

func partFilename(disposition string) (string, bool) {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return "", false
	}
	filename, ok := params["filename"]
	return filename, ok
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	kind := classifyError(err)
	rule := errorTable[kind]

	text := rule.text
	if text == "" {
		text = err.Error()
	}

	entry := s.log.WithFields(logrus.Fields{
		"request_id": requestID(r.Context()),
		"kind":       kind.String(),
		"status":     rule.status,
	}).WithError(err)
	if rule.status >= http.StatusInternalServerError {
		entry.Error("Prediction failed")
	} else {
		entry.Warn("Rejected request")
	}

	if rule.bare {
		writeJSON(w, rule.status, bareErrorResponse{Error: text})
		return
	}
	writeJSON(w, rule.status, ErrorResponse{
		Success: false,
		Error:   text,
		Message: rule.message,
	})
}

func (s *Server) logTimings(t *models.ProcessingTimings) {
	if !s.log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	s.log.WithFields(logrus.Fields{
		"request_id":   t.RequestID,
		"image_decode": t.ImageDecode,
		"preprocess":   t.Preprocess,
		"inference":    t.Inference,
		"postprocess":  t.Postprocess,
		"total":        t.Total,
	}).Debug("Processing times")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start),
		}).Info("Request handled")
	})
}

// recoverer turns a panic in a handler into the internal error response.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.sendError(w, r, fmt.Errorf("internal error: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
