package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/Tutortoise/yolo-detection-service/detections"
)

const (
	LoadEager = "eager"
	LoadLazy  = "lazy"
)

type Config struct {
	Addr           string
	ModelPath      string
	LibPath        string
	LoadStrategy   string
	InputSize      int
	PoolSize       int
	IntraOpThreads int
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Debug          bool
	LogFile        string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Addr:         getEnv("ADDR", "0.0.0.0:5000"),
		ModelPath:    getEnv("MODEL_PATH", "yolov8_trained_model.onnx"),
		LibPath:      getEnv("ORT_LIB_PATH", detections.DefaultSharedLibraryPath()),
		LoadStrategy: getEnv("LOAD_STRATEGY", LoadEager),
		Debug:        os.Getenv("DEBUG") == "true",
		LogFile:      os.Getenv("LOG_FILE"),
	}

	var err error
	if cfg.InputSize, err = getEnvInt("INPUT_SIZE", detections.DefaultInputSize); err != nil {
		return nil, err
	}
	if cfg.PoolSize, err = getEnvInt("POOL_SIZE", DefaultPoolSize); err != nil {
		return nil, err
	}
	if cfg.IntraOpThreads, err = getEnvInt("INTRA_OP_THREADS", runtime.NumCPU()); err != nil {
		return nil, err
	}
	maxUpload, err := getEnvInt("MAX_UPLOAD_BYTES", 15<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)
	if cfg.ReadTimeout, err = getEnvDuration("READ_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = getEnvDuration("WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.LoadStrategy != LoadEager && c.LoadStrategy != LoadLazy {
		return fmt.Errorf("LOAD_STRATEGY must be %q or %q, got %q", LoadEager, LoadLazy, c.LoadStrategy)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("POOL_SIZE must be at least 1, got %d", c.PoolSize)
	}
	if c.InputSize < 32 || c.InputSize%32 != 0 {
		return fmt.Errorf("INPUT_SIZE must be a positive multiple of 32, got %d", c.InputSize)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
