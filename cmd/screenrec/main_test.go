package main

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"screenrec/internal/history"
	"screenrec/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.cfg.Paths.OutputDir)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, env.configPath); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "validate"}, target); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[capture]\nfps = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := runCLI(t, []string{"config", "validate"}, path)
	if err == nil || !strings.Contains(err.Error(), "capture.fps") {
		t.Fatalf("expected fps validation error, got %v", err)
	}
}

func TestCursorsListCreatesDefault(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"cursors", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("cursors list: %v", err)
	}
	requireContains(t, out, "Default")
	requireContains(t, out, env.cfg.Paths.CursorDir)
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.CursorDir, "default.png")); err != nil {
		t.Fatalf("expected default sprite written: %v", err)
	}
}

func TestCursorsImport(t *testing.T) {
	env := setupCLITestEnv(t)

	src := filepath.Join(t.TempDir(), "arrow.png")
	writePNG(t, src, 8, 8)

	out, _, err := runCLI(t, []string{"cursors", "import", src, "--name", "big_red-arrow"}, env.configPath)
	if err != nil {
		t.Fatalf("cursors import: %v", err)
	}
	requireContains(t, out, "Big Red Arrow")

	out, _, err = runCLI(t, []string{"cursors", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("cursors list: %v", err)
	}
	requireContains(t, out, "big_red-arrow")

	if _, _, err := runCLI(t, []string{"cursors", "import", filepath.Join(t.TempDir(), "missing.png")}, env.configPath); err == nil {
		t.Fatal("expected import of a missing file to fail")
	}
}

func TestHistoryListsRecordings(t *testing.T) {
	env := setupCLITestEnv(t)
	artifact := filepath.Join(env.cfg.Paths.OutputDir, "demo_final.mp4")
	testsupport.WriteFile(t, artifact, 16)
	seedHistory(t, env, history.Entry{
		BaseName:      "demo",
		ChunkIndex:    2,
		StartedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		StoppedAt:     time.Date(2026, 3, 1, 10, 1, 30, 0, time.UTC),
		Active:        90 * time.Second,
		ArtifactPath:  artifact,
		Muxed:         true,
		FramesWritten: 2700,
	})

	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "demo #2")
	requireContains(t, out, "00:01:30")
	requireContains(t, out, "demo_final.mp4")

	out, _, err = runCLI(t, []string{"history", "--last"}, env.configPath)
	if err != nil {
		t.Fatalf("history --last: %v", err)
	}
	if strings.TrimSpace(out) != artifact {
		t.Fatalf("history --last = %q, want %q", out, artifact)
	}

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	var payload []historyJSON
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode json: %v\n%s", err, out)
	}
	if len(payload) != 1 || payload[0].BaseName != "demo" || payload[0].ActiveSeconds != 90 || !payload[0].Muxed {
		t.Fatalf("unexpected payload %+v", payload)
	}

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, artifact)
}

func TestHistoryEmptyAndDisabled(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No recordings yet")
	if _, _, err := runCLI(t, []string{"history", "--last"}, env.configPath); err == nil {
		t.Fatal("expected --last to fail with no recordings")
	}

	disabled := setupCLITestEnv(t, testsupport.WithoutHistory())
	_, _, err = runCLI(t, []string{"history"}, disabled.configPath)
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

func TestMicsListRendersSources(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithMicrophone("alsa_input.usb-Mic"))
	prependPath(t, "pactl", `printf '0\talsa_output.pci.analog-stereo.monitor\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tSUSPENDED\n'
printf '1\talsa_input.usb-Mic\tmodule-alsa-card.c\ts16le 2ch 48000Hz\tRUNNING\n'`)

	out, _, err := runCLI(t, []string{"mics", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("mics list: %v", err)
	}
	requireContains(t, out, "alsa_input.usb-Mic")
	requireContains(t, out, "running")
	if strings.Contains(out, ".monitor") {
		t.Fatalf("monitors should be hidden by default:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"mics", "list", "--monitors"}, env.configPath)
	if err != nil {
		t.Fatalf("mics list --monitors: %v", err)
	}
	requireContains(t, out, ".monitor")

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "alsa_input.usb-Mic (running)")
}

func TestMicsTestMetersSilence(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Encoder.FFmpegBinary = testsupport.WriteScript(t, "ffmpeg", "exec cat /dev/zero")
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, []string{"mics", "test", "usb-mic", "--duration", "100ms"}, env.configPath)
	if err != nil {
		t.Fatalf("mics test: %v", err)
	}
	requireContains(t, out, "Source: usb-mic")
	requireContains(t, out, "Only silence was captured")

	if _, _, err := runCLI(t, []string{"mics", "test"}, env.configPath); err == nil {
		t.Fatal("expected mics test without a source to fail")
	}
}

func TestStatusReportsChecks(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{
		"== Configuration ==",
		env.configPath,
		"Output directory:",
		"FFmpeg:",
		"Microphone:",
		"Disabled",
		"built-in arrow",
		"none yet",
	} {
		requireContains(t, out, want)
	}
}

func TestRecordFailsPreflightWithoutFFmpeg(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Encoder.FFmpegBinary = filepath.Join(env.baseDir, "missing", "ffmpeg")
	writeTestConfig(t, env.configPath, env.cfg)

	_, _, err := runCLI(t, []string{"record", "--duration", "1s"}, env.configPath)
	if err == nil {
		t.Fatal("expected preflight failure")
	}
	requireContains(t, err.Error(), "preflight failed")
	requireContains(t, err.Error(), "FFmpeg")
}

func TestRecordRejectsPathLikeName(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"record", "--name", "../escape"}, env.configPath)
	if err == nil {
		t.Fatal("expected invalid name error")
	}
	requireContains(t, err.Error(), "invalid base name")
}

func seedHistory(t *testing.T, env *cliTestEnv, e history.Entry) {
	t.Helper()
	store := testsupport.MustOpenHistory(t, env.cfg)
	if _, err := store.Record(context.Background(), e); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close history: %v", err)
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: uint8(255 * x / w)})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestLogsShowsTrailingLines(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log entries")

	path := filepath.Join(env.cfg.Paths.LogDir, logFileName)
	if err := os.WriteFile(path, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err = runCLI(t, []string{"logs", "--lines", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs --lines: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected output %q", out)
	}
}
