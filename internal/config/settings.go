// Package config loads the process settings: defaults, overlaid by an
// optional JSON settings file, overlaid by SCOPE_* environment variables.
// A missing or invalid settings file is warned about, never fatal; the
// process continues with whatever layers did load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/microscope-data/scope.report/internal/monitoring"
)

// maxSettingsFileSize guards against accidentally pointing the loader at
// something huge.
const maxSettingsFileSize = 1 * 1024 * 1024

// CameraSettings are the simulated camera defaults applied at startup.
type CameraSettings struct {
	Label      string  `koanf:"label"`
	Width      int     `koanf:"width"`
	Height     int     `koanf:"height"`
	BitDepth   int     `koanf:"bit_depth"`
	ExposureMs float64 `koanf:"exposure_ms"`
}

// PreviewSettings tune the live preview buffer.
type PreviewSettings struct {
	MaxPlanes int `koanf:"max_planes"`
}

// Settings is the full process configuration.
type Settings struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `koanf:"listen_addr"`
	// DBPath is the SQLite frame-store path.
	DBPath string `koanf:"db_path"`
	// DataRoot is the directory FITS output is written under.
	DataRoot string `koanf:"data_root"`
	// SystemConfig optionally points at a hardware .cfg file applied at
	// startup.
	SystemConfig string `koanf:"system_config"`

	Camera  CameraSettings  `koanf:"camera"`
	Preview PreviewSettings `koanf:"preview"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"listen_addr":        ":8080",
		"db_path":            "frames.db",
		"data_root":          "data",
		"system_config":      "",
		"camera.label":       "SimCam",
		"camera.width":       512,
		"camera.height":      512,
		"camera.bit_depth":   16,
		"camera.exposure_ms": 10.0,
		"preview.max_planes": 20,
	}
}

// Load builds Settings from defaults, the JSON file at path (if any), and
// SCOPE_* environment variables. Nested keys use a double underscore in the
// environment: SCOPE_CAMERA__EXPOSURE_MS overrides camera.exposure_ms.
func Load(path string) (*Settings, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load default settings: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			monitoring.Logf("config: settings file %q ignored: %v", path, err)
		}
	}

	err := k.Load(env.Provider("SCOPE_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "SCOPE_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	var settings Settings
	if err := k.Unmarshal("", &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &settings, nil
}

// loadFile overlays one JSON settings file, with the same path and size
// validation the rest of the repo applies to operator-supplied files.
func loadFile(k *koanf.Koanf, path string) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("settings file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("stat settings file: %w", err)
	}
	if info.Size() > maxSettingsFileSize {
		return fmt.Errorf("settings file too large: %d bytes (max %d)", info.Size(), maxSettingsFileSize)
	}
	if err := k.Load(file.Provider(cleanPath), json.Parser()); err != nil {
		return fmt.Errorf("parse settings file: %w", err)
	}
	return nil
}

// Validate checks ranges that would otherwise surface as confusing runtime
// failures.
func (s *Settings) Validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if s.Camera.Width <= 0 || s.Camera.Height <= 0 {
		return fmt.Errorf("camera resolution must be positive, got %dx%d", s.Camera.Width, s.Camera.Height)
	}
	if s.Camera.BitDepth < 8 || s.Camera.BitDepth > 16 {
		return fmt.Errorf("camera bit_depth must be between 8 and 16, got %d", s.Camera.BitDepth)
	}
	if s.Camera.ExposureMs <= 0 {
		return fmt.Errorf("camera exposure_ms must be positive, got %v", s.Camera.ExposureMs)
	}
	if s.Preview.MaxPlanes <= 0 {
		return fmt.Errorf("preview max_planes must be positive, got %d", s.Preview.MaxPlanes)
	}
	return nil
}
