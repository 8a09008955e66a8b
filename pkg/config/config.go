// Package config provides configuration loading and management for thyroidscan.
// It handles loading configuration from YAML files, applies environment
// overrides and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values read from the config file.
const (
	EnvORTLibrary = "THYROIDSCAN_ORT_LIBRARY"
	EnvModelDir   = "THYROIDSCAN_MODEL_DIR"
	EnvWorkers    = "THYROIDSCAN_WORKERS"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Cropper parameters
	Cropper struct {
		// IntensityThreshold is the mean row/column intensity at or below
		// which a line counts as border
		IntensityThreshold float64 `yaml:"intensityThreshold"`

		// RowHold and ColHold are the [low, high] fractions of the frame that
		// are never cropped
		RowHold [2]float64 `yaml:"rowHold"`
		ColHold [2]float64 `yaml:"colHold"`
	} `yaml:"cropper"`

	// Detection and tracking parameters
	Detection struct {
		ImageSize        int     `yaml:"imageSize"`
		Confidence       float64 `yaml:"confidence"`
		IoU              float64 `yaml:"iou"`
		RoiMarginPercent int     `yaml:"roiMarginPercent"`

		// Tracker association parameters
		TrackMatchIoU      float64 `yaml:"trackMatchIoU"`
		TrackConfidence    float64 `yaml:"trackConfidence"`
		NewTrackConfidence float64 `yaml:"newTrackConfidence"`
		TrackMaxMisses     int     `yaml:"trackMaxMisses"`
	} `yaml:"detection"`

	// Segmentation parameters
	Segmentation struct {
		ImageSize int     `yaml:"imageSize"`
		BatchSize int     `yaml:"batchSize"`
		Threshold float64 `yaml:"threshold"`

		// Workers bounds how many batches are prepared concurrently
		Workers int `yaml:"workers"`
	} `yaml:"segmentation"`

	// Classification parameters
	Classification struct {
		ImageSize int `yaml:"imageSize"`
	} `yaml:"classification"`

	// Model locations, relative paths are resolved against Dir
	Models struct {
		Dir          string `yaml:"dir"`
		ORTLibrary   string `yaml:"ortLibrary"`
		Detection    string `yaml:"detection"`
		Segmentation string `yaml:"segmentation"`

		// Pairwise holds the six binary classifiers in the order
		// 2v3, 2v4, 2v5, 3v4, 3v5, 4v5
		Pairwise []PairwiseModel `yaml:"pairwise"`

		// Meta holds the three gradient-boosted models: without projection
		// type, with projection type, and the final ensemble
		Meta [3]string `yaml:"meta"`
	} `yaml:"models"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where intermediary results are written
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// PairwiseModel describes one binary TIRADS classifier
type PairwiseModel struct {
	Path string `yaml:"path"`

	// Classes are the labels of the model outputs, in output order
	Classes []string `yaml:"classes"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Cropper.IntensityThreshold = 5
	cfg.Cropper.RowHold = [2]float64{0.8 / 3, 2.2 / 3}
	cfg.Cropper.ColHold = [2]float64{0.8 / 3, 1.8 / 3}

	cfg.Detection.ImageSize = 640
	cfg.Detection.Confidence = 0.5
	cfg.Detection.IoU = 0.3
	cfg.Detection.RoiMarginPercent = 10
	cfg.Detection.TrackMatchIoU = 0.3
	cfg.Detection.TrackConfidence = 0.1
	cfg.Detection.NewTrackConfidence = 0.25
	cfg.Detection.TrackMaxMisses = 30

	cfg.Segmentation.ImageSize = 256
	cfg.Segmentation.BatchSize = 8
	cfg.Segmentation.Threshold = 0.5
	cfg.Segmentation.Workers = runtime.NumCPU()

	cfg.Classification.ImageSize = 224

	cfg.Models.Dir = "models"
	cfg.Models.Detection = "detection/all.onnx"
	cfg.Models.Segmentation = "segmentation/all.onnx"
	pairs := [][2]int{{2, 3}, {2, 4}, {2, 5}, {3, 4}, {3, 5}, {4, 5}}
	for _, p := range pairs {
		cfg.Models.Pairwise = append(cfg.Models.Pairwise, PairwiseModel{
			Path:    fmt.Sprintf("classification/t%dvst%d.onnx", p[0], p[1]),
			Classes: []string{fmt.Sprintf("TIRADS%d", p[0]), fmt.Sprintf("TIRADS%d", p[1])},
		})
	}
	cfg.Models.Meta = [3]string{
		"classification/xgb_without_type.json",
		"classification/xgb_with_type.json",
		"classification/xgb_ensemble.json",
	}

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration.
// Environment overrides (including a .env file in the working directory) are
// applied last.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}

	// A missing .env file is not an error
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvORTLibrary); v != "" {
		c.Models.ORTLibrary = v
	}
	if v := os.Getenv(EnvModelDir); v != "" {
		c.Models.Dir = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvWorkers, v, err)
		}
		c.Segmentation.Workers = n
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch {
	case c.Detection.ImageSize <= 0:
		return fmt.Errorf("detection.imageSize must be positive, got %d", c.Detection.ImageSize)
	case c.Detection.Confidence < 0 || c.Detection.Confidence > 1:
		return fmt.Errorf("detection.confidence must be in [0,1], got %g", c.Detection.Confidence)
	case c.Detection.IoU < 0 || c.Detection.IoU > 1:
		return fmt.Errorf("detection.iou must be in [0,1], got %g", c.Detection.IoU)
	case c.Detection.RoiMarginPercent < 0:
		return fmt.Errorf("detection.roiMarginPercent must not be negative, got %d", c.Detection.RoiMarginPercent)
	case c.Segmentation.ImageSize <= 0:
		return fmt.Errorf("segmentation.imageSize must be positive, got %d", c.Segmentation.ImageSize)
	case c.Segmentation.Threshold < 0 || c.Segmentation.Threshold > 1:
		return fmt.Errorf("segmentation.threshold must be in [0,1], got %g", c.Segmentation.Threshold)
	case c.Segmentation.BatchSize <= 0:
		return fmt.Errorf("segmentation.batchSize must be positive, got %d", c.Segmentation.BatchSize)
	case c.Segmentation.Workers <= 0:
		return fmt.Errorf("segmentation.workers must be positive, got %d", c.Segmentation.Workers)
	case c.Classification.ImageSize <= 0:
		return fmt.Errorf("classification.imageSize must be positive, got %d", c.Classification.ImageSize)
	case c.Cropper.RowHold[0] >= c.Cropper.RowHold[1] || c.Cropper.ColHold[0] >= c.Cropper.ColHold[1]:
		return fmt.Errorf("cropper hold ranges must be increasing")
	}
	if n := len(c.Models.Pairwise); n != 0 && n != 6 {
		return fmt.Errorf("models.pairwise must list 6 classifiers, got %d", n)
	}
	return nil
}

// ModelPath resolves a model path against Models.Dir
func (c *Config) ModelPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Models.Dir, p)
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
