package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file locations.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	CursorDir string `toml:"cursor_dir"`
	LogDir    string `toml:"log_dir"`
	HistoryDB string `toml:"history_db"`
}

// Capture contains screen sampling settings.
type Capture struct {
	FPS int `toml:"fps"`
	// Display is the X11 display string handed to the grabber, e.g. ":0.0".
	Display            string `toml:"display"`
	PausePollMS        int    `toml:"pause_poll_ms"`
	MaxCatchUp         int    `toml:"max_catch_up"`
	JoinTimeoutSeconds int    `toml:"join_timeout_seconds"`
	PointerBinary      string `toml:"pointer_binary"`
}

// Audio contains microphone capture settings.
type Audio struct {
	// Device is the input source name; empty records video only.
	Device      string  `toml:"device"`
	InputFormat string  `toml:"input_format"`
	ChunkFrames int     `toml:"chunk_frames"`
	MeterGain   float64 `toml:"meter_gain"`
}

// Encoder contains ffmpeg settings shared by the frame sink and the muxer.
type Encoder struct {
	FFmpegBinary       string `toml:"ffmpeg_binary"`
	VideoCodec         string `toml:"video_codec"`
	Preset             string `toml:"preset"`
	AudioCodec         string `toml:"audio_codec"`
	NormalizeVideoOnly bool   `toml:"normalize_video_only"`
}

// Cursor contains sprite selection settings.
type Cursor struct {
	Name  string `toml:"name"`
	Watch bool   `toml:"watch"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	MaxSizeMB     int    `toml:"max_size_mb"`
}

// Preflight contains thresholds for environment checks.
type Preflight struct {
	MinFreeGiB float64 `toml:"min_free_gib"`
}

// Config encapsulates all configuration values for screenrec.
//
// Configuration sections by subsystem:
//   - Paths: output, cursor, log and history locations
//   - Capture: frame rate, display, pause polling and join timeout
//   - Audio: microphone source and metering
//   - Encoder: ffmpeg binary and codec choices
//   - Cursor: active sprite and directory watching
//   - Logging: log format, level, and retention
//   - Preflight: free space threshold
type Config struct {
	Paths     Paths     `toml:"paths"`
	Capture   Capture   `toml:"capture"`
	Audio     Audio     `toml:"audio"`
	Encoder   Encoder   `toml:"encoder"`
	Cursor    Cursor    `toml:"cursor"`
	Logging   Logging   `toml:"logging"`
	Preflight Preflight `toml:"preflight"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("screenrec.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a recording writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.OutputDir, c.Paths.CursorDir, c.Paths.LogDir}
	if c.Paths.HistoryDB != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.HistoryDB))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PausePoll returns how often the capture loop re-checks state while paused.
func (c *Config) PausePoll() time.Duration {
	return time.Duration(c.Capture.PausePollMS) * time.Millisecond
}

// JoinTimeout bounds how long Stop waits for the capture loop to exit.
func (c *Config) JoinTimeout() time.Duration {
	return time.Duration(c.Capture.JoinTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
