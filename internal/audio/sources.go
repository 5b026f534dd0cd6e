package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Source describes one capture input reported by the sound server.
type Source struct {
	Index   string
	Name    string
	Driver  string
	Spec    string
	State   string
	Monitor bool
}

// Lister enumerates capture inputs.
type Lister struct {
	binary string
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewLister queries sources through pactl. An empty binary selects "pactl".
func NewLister(binary string) *Lister {
	if strings.TrimSpace(binary) == "" {
		binary = "pactl"
	}
	return &Lister{binary: binary, run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).Output()
	}}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (l *Lister) WithCommandRunner(r func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	if l != nil && r != nil {
		l.run = r
	}
}

// List returns the available sources. Monitors of output sinks are included
// and flagged.
func (l *Lister) List(ctx context.Context) ([]Source, error) {
	out, err := l.run(ctx, l.binary, "list", "short", "sources")
	if err != nil {
		return nil, fmt.Errorf("list audio sources: %w", err)
	}
	return parseShortSources(string(out)), nil
}

// parseShortSources reads `pactl list short sources`:
// index, name, driver, sample spec, state separated by tabs.
func parseShortSources(out string) []Source {
	var sources []Source
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 {
			continue
		}
		src := Source{Index: fields[0], Name: fields[1]}
		if len(fields) > 2 {
			src.Driver = fields[2]
		}
		if len(fields) > 3 {
			src.Spec = fields[3]
		}
		if len(fields) > 4 {
			src.State = fields[4]
		}
		src.Monitor = strings.HasSuffix(src.Name, ".monitor")
		sources = append(sources, src)
	}
	return sources
}

// ProbeResult summarizes a short microphone test.
type ProbeResult struct {
	Chunks    int
	Samples   int
	PeakLevel float64
	MeanLevel float64
}

// Probe opens the device, meters it for duration without recording, and
// stops it. onLevel, when set, receives each chunk's level.
func Probe(ctx context.Context, open Opener, id string, duration time.Duration, gain float64, onLevel func(float64)) (ProbeResult, error) {
	if open == nil {
		return ProbeResult{}, errors.New("no audio opener")
	}
	if gain <= 0 {
		gain = DefaultMeterGain
	}
	var (
		mu     sync.Mutex
		result ProbeResult
		sum    float64
	)
	dev, err := open(ctx, DeviceConfig{
		ID:         id,
		Channels:   Channels,
		SampleRate: SampleRate,
		OnChunk: func(c Chunk) {
			level := Level(c, gain)
			mu.Lock()
			result.Chunks++
			result.Samples += len(c)
			sum += level
			if level > result.PeakLevel {
				result.PeakLevel = level
			}
			mu.Unlock()
			if onLevel != nil {
				onLevel(level)
			}
		},
	})
	if err != nil {
		return ProbeResult{}, fmt.Errorf("open %q: %w", id, err)
	}
	defer dev.Close()

	if err := dev.Start(); err != nil {
		return ProbeResult{}, fmt.Errorf("start %q: %w", id, err)
	}
	timer := time.NewTimer(duration)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()
	if err := dev.Stop(); err != nil {
		return ProbeResult{}, fmt.Errorf("stop %q: %w", id, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if result.Chunks > 0 {
		result.MeanLevel = sum / float64(result.Chunks)
	}
	return result, nil
}
