package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const pointerQueryTimeout = 500 * time.Millisecond

type outputRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// XDoTool answers pointer and geometry queries through the xdotool binary.
type XDoTool struct {
	binary  string
	display string
	run     outputRunner
}

// NewXDoTool returns a pointer source backed by xdotool. An empty binary
// selects "xdotool" from PATH.
func NewXDoTool(binary, display string) *XDoTool {
	if strings.TrimSpace(binary) == "" {
		binary = "xdotool"
	}
	return &XDoTool{binary: binary, display: display, run: defaultOutputRunner}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (x *XDoTool) WithCommandRunner(r outputRunner) {
	if x != nil && r != nil {
		x.run = r
	}
}

// Position implements PointerSource.
func (x *XDoTool) Position() (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pointerQueryTimeout)
	defer cancel()
	out, err := x.run(ctx, x.binary, "getmouselocation", "--shell")
	if err != nil {
		return 0, 0, fmt.Errorf("xdotool getmouselocation: %w", err)
	}
	return parseMouseLocation(string(out))
}

// Geometry returns the screen size in pixels.
func (x *XDoTool) Geometry(ctx context.Context) (int, int, error) {
	out, err := x.run(ctx, x.binary, "getdisplaygeometry")
	if err != nil {
		return 0, 0, fmt.Errorf("xdotool getdisplaygeometry: %w", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected display geometry %q", strings.TrimSpace(string(out)))
	}
	width, errW := strconv.Atoi(fields[0])
	height, errH := strconv.Atoi(fields[1])
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("unexpected display geometry %q", strings.TrimSpace(string(out)))
	}
	return width, height, nil
}

// parseMouseLocation reads the X= and Y= lines of `getmouselocation --shell`.
func parseMouseLocation(out string) (int, int, error) {
	x, y := -1, -1
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		switch key {
		case "X":
			x = n
		case "Y":
			y = n
		}
	}
	if x < 0 || y < 0 {
		return 0, 0, fmt.Errorf("unexpected mouse location output %q", strings.TrimSpace(out))
	}
	return x, y, nil
}

func defaultOutputRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return output, nil
}
