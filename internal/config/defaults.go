package config

const (
	defaultConfigPath         = "~/.config/screenrec/config.toml"
	defaultOutputDir          = "~/Videos/screenrec"
	defaultCursorDir          = "~/.local/share/screenrec/cursors"
	defaultLogDir             = "~/.local/share/screenrec/logs"
	defaultHistoryDB          = "~/.local/share/screenrec/history.db"
	defaultCaptureFPS         = 30
	defaultDisplay            = ":0.0"
	defaultPausePollMS        = 100
	defaultMaxCatchUp         = 3
	defaultJoinTimeoutSeconds = 2
	defaultPointerBinary      = "xdotool"
	defaultAudioInputFormat   = "pulse"
	defaultAudioChunkFrames   = 1024
	defaultMeterGain          = 10.0
	defaultFFmpegBinary       = "ffmpeg"
	defaultVideoCodec         = "libx264"
	defaultPreset             = "veryfast"
	defaultAudioCodec         = "aac"
	defaultCursorName         = "default"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
	defaultLogMaxSizeMB       = 20
	defaultMinFreeGiB         = 1.0
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			CursorDir: defaultCursorDir,
			LogDir:    defaultLogDir,
			HistoryDB: defaultHistoryDB,
		},
		Capture: Capture{
			FPS:                defaultCaptureFPS,
			Display:            defaultDisplay,
			PausePollMS:        defaultPausePollMS,
			MaxCatchUp:         defaultMaxCatchUp,
			JoinTimeoutSeconds: defaultJoinTimeoutSeconds,
			PointerBinary:      defaultPointerBinary,
		},
		Audio: Audio{
			InputFormat: defaultAudioInputFormat,
			ChunkFrames: defaultAudioChunkFrames,
			MeterGain:   defaultMeterGain,
		},
		Encoder: Encoder{
			FFmpegBinary:       defaultFFmpegBinary,
			VideoCodec:         defaultVideoCodec,
			Preset:             defaultPreset,
			AudioCodec:         defaultAudioCodec,
			NormalizeVideoOnly: true,
		},
		Cursor: Cursor{
			Name:  defaultCursorName,
			Watch: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
		},
		Preflight: Preflight{
			MinFreeGiB: defaultMinFreeGiB,
		},
	}
}
