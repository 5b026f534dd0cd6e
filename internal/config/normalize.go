package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCapture()
	c.normalizeAudio()
	c.normalizeEncoder()
	c.normalizeCursor()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("SCREENREC_OUTPUT_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.OutputDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if strings.TrimSpace(c.Paths.CursorDir) == "" {
		c.Paths.CursorDir = defaultCursorDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}

	var err error
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.CursorDir, err = expandPath(strings.TrimSpace(c.Paths.CursorDir)); err != nil {
		return fmt.Errorf("paths.cursor_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	// An empty history_db disables the history store.
	if c.Paths.HistoryDB, err = expandPath(strings.TrimSpace(c.Paths.HistoryDB)); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeCapture() {
	c.Capture.Display = strings.TrimSpace(c.Capture.Display)
	if c.Capture.Display == "" {
		if value, ok := os.LookupEnv("DISPLAY"); ok && strings.TrimSpace(value) != "" {
			c.Capture.Display = strings.TrimSpace(value)
		} else {
			c.Capture.Display = defaultDisplay
		}
	}
	if c.Capture.PausePollMS <= 0 {
		c.Capture.PausePollMS = defaultPausePollMS
	}
	if c.Capture.MaxCatchUp <= 0 {
		c.Capture.MaxCatchUp = defaultMaxCatchUp
	}
	if c.Capture.JoinTimeoutSeconds <= 0 {
		c.Capture.JoinTimeoutSeconds = defaultJoinTimeoutSeconds
	}
	c.Capture.PointerBinary = strings.TrimSpace(c.Capture.PointerBinary)
	if c.Capture.PointerBinary == "" {
		c.Capture.PointerBinary = defaultPointerBinary
	}
}

func (c *Config) normalizeAudio() {
	c.Audio.Device = strings.TrimSpace(c.Audio.Device)
	if c.Audio.Device == "" {
		if value, ok := os.LookupEnv("SCREENREC_MIC"); ok {
			c.Audio.Device = strings.TrimSpace(value)
		}
	}
	c.Audio.InputFormat = strings.ToLower(strings.TrimSpace(c.Audio.InputFormat))
	if c.Audio.InputFormat == "" {
		c.Audio.InputFormat = defaultAudioInputFormat
	}
	if c.Audio.ChunkFrames <= 0 {
		c.Audio.ChunkFrames = defaultAudioChunkFrames
	}
	if c.Audio.MeterGain <= 0 {
		c.Audio.MeterGain = defaultMeterGain
	}
}

func (c *Config) normalizeEncoder() {
	c.Encoder.FFmpegBinary = strings.TrimSpace(c.Encoder.FFmpegBinary)
	if c.Encoder.FFmpegBinary == "" {
		c.Encoder.FFmpegBinary = defaultFFmpegBinary
	}
	c.Encoder.VideoCodec = strings.TrimSpace(c.Encoder.VideoCodec)
	if c.Encoder.VideoCodec == "" {
		c.Encoder.VideoCodec = defaultVideoCodec
	}
	c.Encoder.Preset = strings.TrimSpace(c.Encoder.Preset)
	if c.Encoder.Preset == "" {
		c.Encoder.Preset = defaultPreset
	}
	c.Encoder.AudioCodec = strings.TrimSpace(c.Encoder.AudioCodec)
	if c.Encoder.AudioCodec == "" {
		c.Encoder.AudioCodec = defaultAudioCodec
	}
}

func (c *Config) normalizeCursor() {
	c.Cursor.Name = strings.TrimSpace(c.Cursor.Name)
	if c.Cursor.Name == "" {
		c.Cursor.Name = defaultCursorName
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
}
