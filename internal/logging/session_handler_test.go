package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSessionIDHandlerStampsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSessionIDHandler(slog.NewJSONHandler(&buf, nil), "rec-123"))
	logger.With("extra", "value").Info("frame written")

	output := buf.String()
	if !strings.Contains(output, `"session_id":"rec-123"`) {
		t.Errorf("expected session_id in output, got: %s", output)
	}
	if !strings.Contains(output, `"extra":"value"`) {
		t.Errorf("expected extra attr in output, got: %s", output)
	}
}

func TestSessionIDHandlerNilBase(t *testing.T) {
	if _, ok := newSessionIDHandler(nil, "x").(NoopHandler); !ok {
		t.Error("expected NoopHandler when base is nil")
	}
}

func TestWithSessionIDKeepsComponent(t *testing.T) {
	var buf bytes.Buffer
	base := NewComponentLogger(slog.New(slog.NewJSONHandler(&buf, nil)), "session")
	WithSessionID(base, "abc").Info("started")

	output := buf.String()
	for _, want := range []string{`"component":"session"`, `"session_id":"abc"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
}
