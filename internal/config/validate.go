package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateCursor(); err != nil {
		return err
	}
	if c.Preflight.MinFreeGiB < 0 {
		return errors.New("preflight.min_free_gib must be >= 0")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	if strings.TrimSpace(c.Paths.CursorDir) == "" {
		return errors.New("paths.cursor_dir must be set")
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.FPS <= 0 || c.Capture.FPS > 120 {
		return fmt.Errorf("capture.fps must be between 1 and 120, got %d", c.Capture.FPS)
	}
	return ensurePositiveMap(map[string]int{
		"capture.pause_poll_ms":        c.Capture.PausePollMS,
		"capture.max_catch_up":         c.Capture.MaxCatchUp,
		"capture.join_timeout_seconds": c.Capture.JoinTimeoutSeconds,
	})
}

func (c *Config) validateAudio() error {
	switch c.Audio.InputFormat {
	case "pulse", "alsa":
	default:
		return fmt.Errorf("audio.input_format must be pulse or alsa, got %q", c.Audio.InputFormat)
	}
	if c.Audio.ChunkFrames <= 0 {
		return errors.New("audio.chunk_frames must be positive")
	}
	if c.Audio.MeterGain <= 0 {
		return errors.New("audio.meter_gain must be positive")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	if strings.TrimSpace(c.Encoder.FFmpegBinary) == "" {
		return errors.New("encoder.ffmpeg_binary must be set")
	}
	if strings.TrimSpace(c.Encoder.VideoCodec) == "" {
		return errors.New("encoder.video_codec must be set")
	}
	if strings.TrimSpace(c.Encoder.AudioCodec) == "" {
		return errors.New("encoder.audio_codec must be set")
	}
	return nil
}

func (c *Config) validateCursor() error {
	if strings.ContainsAny(c.Cursor.Name, `/\`) {
		return fmt.Errorf("cursor.name must be a bare name, got %q", c.Cursor.Name)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
