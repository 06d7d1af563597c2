package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/PabloGalante/equalizer/internal/domain"
)

func capture(t *testing.T, format, lvl string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Configure(&buf, format, lvl)
	t.Cleanup(func() { Configure(os.Stdout, "json", "info") })
	return &buf
}

func TestWithFieldsAddsFields(t *testing.T) {
	buf := capture(t, "json", "info")

	WithFields("session_id", "case-1").Info("step done")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["session_id"] != "case-1" || line["msg"] != "step done" {
		t.Errorf("line = %v", line)
	}
}

func TestLoggerFromContext(t *testing.T) {
	buf := capture(t, "json", "info")

	ctx := WithSessionID(WithRequestID(context.Background(), "req-9"), domain.SessionID("room-1"))
	LoggerFromContext(ctx).Info("joined")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatal(err)
	}
	if line["request_id"] != "req-9" || line["session_id"] != "room-1" {
		t.Errorf("line = %v", line)
	}
}

func TestSetLevelAppliesToExistingLoggers(t *testing.T) {
	buf := capture(t, "text", "info")
	log := WithFields("session_id", "room-2")

	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %q", buf.String())
	}

	SetLevel("debug")
	log.Debug("shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Errorf("debug line missing after SetLevel: %q", buf.String())
	}
}
