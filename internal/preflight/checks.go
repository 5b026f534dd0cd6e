package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"screenrec/internal/audio"
	"screenrec/internal/config"
	"screenrec/internal/deps"
)

const bytesPerGiB = 1 << 30

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minGiB available to unprivileged users. A threshold <= 0 always passes.
func CheckFreeSpace(name, path string, minGiB float64) Result {
	free, err := FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	freeGiB := float64(free) / bytesPerGiB
	detail := fmt.Sprintf("%.1f GiB free", freeGiB)
	if minGiB > 0 && freeGiB < minGiB {
		return Result{Name: name, Detail: fmt.Sprintf("%s (need %.1f GiB)", detail, minGiB)}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// FreeBytes returns the bytes available to unprivileged users under path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// CheckSystemDeps evaluates the external programs for the given config.
// ffmpeg is required; the pointer tool, pactl and ffprobe only enable
// extras and are reported as optional.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Encoder.FFmpegBinary,
			Description: "Required for screen grab, microphone input and encoding",
		},
		{
			Name:        "xdotool",
			Command:     cfg.Capture.PointerBinary,
			Description: "Reads the pointer position for the cursor overlay",
			Optional:    true,
		},
		{
			Name:        "pactl",
			Command:     "pactl",
			Description: "Lists PulseAudio/PipeWire microphones",
			Optional:    true,
		},
	}
	statuses := deps.CheckBinaries(requirements)
	return append(statuses, deps.CheckFFprobeForFFmpeg(cfg.Encoder.FFmpegBinary))
}

// CheckMicrophone reports whether the configured microphone is listed by
// the sound server. No configured microphone passes as "Disabled".
func CheckMicrophone(ctx context.Context, cfg *config.Config, lister *audio.Lister) Result {
	const name = "Microphone"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	device := strings.TrimSpace(cfg.Audio.Device)
	if device == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if lister == nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (cannot list sources)", device)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sources, err := lister.List(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (list failed: %v)", device, err)}
	}
	for _, src := range sources {
		if src.Name == device || src.Index == device {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", src.Name, strings.ToLower(src.State))}
		}
	}
	return Result{Name: name, Detail: fmt.Sprintf("%s (not found)", device)}
}
