package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if len(cfg.Cameras) != 2 {
		t.Fatalf("expected 2 default cameras, got %d", len(cfg.Cameras))
	}
	if got := cfg.CamIDs(); got[0] != "cam0" || got[1] != "cam1" {
		t.Errorf("expected cam_ids order [cam0 cam1], got %v", got)
	}
	if cfg.Background.MinInitialImages != 30 {
		t.Errorf("expected MinInitialImages 30, got %d", cfg.Background.MinInitialImages)
	}
	if cfg.Background.ThreshLow != 2000 || cfg.Background.ThreshHigh != 20000 {
		t.Errorf("expected design-constant thresholds, got low=%v high=%v", cfg.Background.ThreshLow, cfg.Background.ThreshHigh)
	}
	if cfg.Pipeline.QueueCapacity != 32 {
		t.Errorf("expected QueueCapacity 32, got %d", cfg.Pipeline.QueueCapacity)
	}
	if cfg.MQTT.Port != 1883 {
		t.Errorf("expected MQTT port 1883, got %d", cfg.MQTT.Port)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("unexpected error for non-existent file: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config for non-existent file")
	}
}

func TestLoadValidFile(t *testing.T) {
	content := `
[[camera]]
id = "left"
device_id = 0
width = 1920
height = 1080
fps = 30

[[camera]]
id = "right"
device_id = 1
width = 1920
height = 1080
fps = 30

[background]
min_initial_images = 50
thresh_low = 2500
thresh_high = 25000
thresh_too_high = 150000

[pipeline]
queue_capacity = 64
edge_limit_px = 60
board_overlay_size_px = 800
worker_join_timeout_seconds = 2

[mqtt]
host = "broker.local"
port = 8883
client_id = "dartpipeline-test"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.CamIDs(); got[0] != "left" || got[1] != "right" {
		t.Errorf("expected cam_ids [left right], got %v", got)
	}
	if cfg.Background.MinInitialImages != 50 {
		t.Errorf("expected MinInitialImages 50, got %d", cfg.Background.MinInitialImages)
	}
	if cfg.Pipeline.QueueCapacity != 64 {
		t.Errorf("expected QueueCapacity 64, got %d", cfg.Pipeline.QueueCapacity)
	}
	if cfg.MQTT.Host != "broker.local" || cfg.MQTT.Port != 8883 {
		t.Errorf("expected broker.local:8883, got %s:%d", cfg.MQTT.Host, cfg.MQTT.Port)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.toml")
	if err := os.WriteFile(path, []byte("invalid [ toml"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestValidateRejectsNoCameras(t *testing.T) {
	cfg := Default()
	cfg.Cameras = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for no cameras configured")
	}
}

func TestValidateRejectsDuplicateCameraID(t *testing.T) {
	cfg := Default()
	cfg.Cameras[1].ID = cfg.Cameras[0].ID
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for duplicate camera id")
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Default()
	cfg.Background.ThreshHigh = cfg.Background.ThreshLow
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for thresh_high <= thresh_low")
	}
}

func TestValidateRejectsBadMQTTPort(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for MQTT port 0")
	}

	cfg.MQTT.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for MQTT port > 65535")
	}
}
