package calibration

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMergeJSONThenGet(t *testing.T) {
	r := NewRecord()
	err := r.MergeJSON([]byte(`{"cam0": {"bull_location": 960, "board_radius": 400}}`))
	if err != nil {
		t.Fatalf("MergeJSON: %v", err)
	}
	v, ok := r.Get("bull_location", "cam0")
	if !ok || v != 960 {
		t.Fatalf("expected bull_location/cam0 = 960, got %v ok=%v", v, ok)
	}
}

func TestSaveLoadBlobRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calibration.blob")

	r := NewRecord()
	r.Set("bull_location", "cam0", 960)
	r.Set("bull_location", "cam1", 540)
	r.Set("board_radius", "cam0", 400)

	if err := r.SaveBlob(path); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}

	loaded, err := LoadBlob(path)
	if err != nil {
		t.Fatalf("LoadBlob: %v", err)
	}

	want := r.Snapshot()
	got := loaded.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("snapshot size mismatch: got %d want %d", len(got), len(want))
	}
	for param, byCam := range want {
		for cam, v := range byCam {
			gv, ok := got[param][cam]
			if !ok || gv != v {
				t.Fatalf("%s/%s: got %v ok=%v want %v", param, cam, gv, ok, v)
			}
		}
	}
}

func TestLoadBlobMissingReturnsSentinel(t *testing.T) {
	_, err := LoadBlob(filepath.Join(t.TempDir(), "does-not-exist.blob"))
	if err != ErrCalibrationMissing {
		t.Fatalf("expected ErrCalibrationMissing, got %v", err)
	}
}

func TestLoadSeedYAMLNeverOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	seed := "bull_location:\n  cam0: 1000\n  cam1: 500\nboard_radius:\n  cam0: 410\n"
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	r := NewRecord()
	r.Set("bull_location", "cam0", 960) // pre-existing, must survive

	if err := r.LoadSeedYAML(path); err != nil {
		t.Fatalf("LoadSeedYAML: %v", err)
	}

	if v, _ := r.Get("bull_location", "cam0"); v != 960 {
		t.Fatalf("expected pre-existing value preserved, got %v", v)
	}
	if v, _ := r.Get("bull_location", "cam1"); v != 500 {
		t.Fatalf("expected seed value applied, got %v", v)
	}
	if v, _ := r.Get("board_radius", "cam0"); v != 410 {
		t.Fatalf("expected seed value applied, got %v", v)
	}
}

func TestIsEmpty(t *testing.T) {
	r := NewRecord()
	if !r.IsEmpty() {
		t.Fatalf("expected new record to be empty")
	}
	r.Set("bull_location", "cam0", 1)
	if r.IsEmpty() {
		t.Fatalf("expected record to be non-empty after Set")
	}
}
