package session

import (
	"errors"
	"fmt"
	"strings"

	"screenrec/internal/capture"
	"screenrec/internal/mux"
)

var (
	ErrAlreadyRecording  = errors.New("already recording")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrCaptureFailure    = capture.ErrCaptureFailure
	ErrThreadJoinTimeout = errors.New("capture thread join timeout")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrCleanup           = errors.New("cleanup failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with marker so callers can classify it with errors.Is.
func Wrap(marker error, stage, message string, err error) error {
	detail := buildDetail(stage, message)
	if marker == nil {
		marker = ErrCleanup
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, message string) string {
	parts := make([]string, 0, 2)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "session failure"
	}
	return strings.Join(parts, ": ")
}

// severity lists failure markers from most to least severe.
var severity = []error{
	ErrCaptureFailure,
	ErrDeviceUnavailable,
	ErrThreadJoinTimeout,
	mux.ErrEncoderFailure,
	mux.ErrEncoderUnavailable,
	ErrCleanup,
}

func rank(err error) int {
	for i, marker := range severity {
		if errors.Is(err, marker) {
			return i
		}
	}
	return len(severity)
}
