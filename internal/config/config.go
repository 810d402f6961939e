// Package config provides TOML configuration loading for the dart
// pipeline: camera list and cam_ids order, background-subtraction
// thresholds, ROI defaults, queue capacities, worker join timeouts, and
// MQTT broker settings.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the complete dart-pipeline configuration.
type Config struct {
	Cameras     []CameraConfig    `toml:"camera"`
	Background  BackgroundConfig  `toml:"background"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Calibration CalibrationConfig `toml:"calibration"`
	MQTT        MQTTConfig        `toml:"mqtt"`
}

// CameraConfig describes one physical camera. Cameras are listed in the
// order that fixes cam_ids order throughout the pipeline.
type CameraConfig struct {
	// ID is the camera identifier used as CameraInfo's "name".
	ID       string `toml:"id"`
	DeviceID int    `toml:"device_id"`
	Width    int    `toml:"width"`
	Height   int    `toml:"height"`
	FPS      int    `toml:"fps"`
}

// BackgroundConfig holds BackgroundSubtraction's warm-up and
// event-classification thresholds.
type BackgroundConfig struct {
	MinInitialImages int     `toml:"min_initial_images"`
	ThreshLow        float64 `toml:"thresh_low"`
	ThreshHigh       float64 `toml:"thresh_high"`
	ThreshTooHigh    float64 `toml:"thresh_too_high"`
}

// PipelineConfig holds runtime tuning shared across modules.
type PipelineConfig struct {
	// QueueCapacity is validated but not read when the pipeline is
	// built; each module's inputs declare their own fixed capacities.
	QueueCapacity int `toml:"queue_capacity"`
	// EdgeLimitPX is EdgeDetection's minimum contour vertical extent.
	EdgeLimitPX float64 `toml:"edge_limit_px"`
	// BoardOverlaySizePX sizes ProjectOnBoard's cached debug overlay.
	BoardOverlaySizePX int `toml:"board_overlay_size_px"`
	// WorkerJoinTimeoutSeconds bounds how long Pipeline.Spin waits for
	// each module's workers to join during shutdown.
	WorkerJoinTimeoutSeconds int `toml:"worker_join_timeout_seconds"`
}

// CalibrationConfig locates the persisted calibration blob and the
// optional human-editable seed file applied on first run.
type CalibrationConfig struct {
	BlobPath string `toml:"blob_path"`
	SeedYAML string `toml:"seed_yaml"`
}

// MQTTConfig holds the result/telemetry broker connection settings.
type MQTTConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	ClientID string `toml:"client_id"`
}

// Default returns the default configuration: two cameras, the tuned
// detection thresholds, and a local MQTT broker.
func Default() *Config {
	return &Config{
		Cameras: []CameraConfig{
			{ID: "cam0", DeviceID: 0, Width: 1920, Height: 1080, FPS: 30},
			{ID: "cam1", DeviceID: 1, Width: 1920, Height: 1080, FPS: 30},
		},
		Background: BackgroundConfig{
			MinInitialImages: 30,
			ThreshLow:        2000,
			ThreshHigh:       20000,
			ThreshTooHigh:    150000,
		},
		Pipeline: PipelineConfig{
			QueueCapacity:            32,
			EdgeLimitPX:              54,
			BoardOverlaySizePX:       600,
			WorkerJoinTimeoutSeconds: 1,
		},
		Calibration: CalibrationConfig{
			BlobPath: "calibration.blob",
			SeedYAML: "",
		},
		MQTT: MQTTConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "dartpipeline",
		},
	}
}

// Load reads and parses a TOML configuration file. If path is empty or
// the file does not exist, the default configuration is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validating: %w", err)
	}

	return cfg, nil
}

// CamIDs returns the configured camera identifiers, in the order that
// fixes cam_ids order throughout the pipeline.
func (c *Config) CamIDs() []string {
	ids := make([]string, len(c.Cameras))
	for i, cam := range c.Cameras {
		ids[i] = cam.ID
	}
	return ids
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return fmt.Errorf("at least one camera must be configured")
	}
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera entries must set id")
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
		if cam.Width <= 0 || cam.Height <= 0 {
			return fmt.Errorf("camera %q: width/height must be positive", cam.ID)
		}
		if cam.FPS <= 0 {
			return fmt.Errorf("camera %q: fps must be positive", cam.ID)
		}
	}
	if c.Background.MinInitialImages <= 0 {
		return fmt.Errorf("background.min_initial_images must be positive")
	}
	if c.Background.ThreshLow <= 0 || c.Background.ThreshHigh <= c.Background.ThreshLow {
		return fmt.Errorf("background thresholds must satisfy 0 < thresh_low < thresh_high")
	}
	if c.Pipeline.QueueCapacity <= 0 {
		return fmt.Errorf("pipeline.queue_capacity must be positive")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt port must be between 1 and 65535, got %d", c.MQTT.Port)
	}
	return nil
}
