package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := Configure("debug", "json", &buf)
	if err != nil {
		t.Fatalf("Configure returned error: %v", err)
	}
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", l.GetLevel())
	}
	if GetLogger() != l {
		t.Fatalf("expected configured logger to be installed")
	}

	LogError(l, "reports", "Execute", "running report", map[string]int{"report": 7}, errors.New("boom"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "boom" || entry["module"] != "reports" || entry["funcName"] != "Execute" {
		t.Fatalf("unexpected log entry %v", entry)
	}
	if entry["data"] == nil {
		t.Fatalf("expected data field to be logged")
	}
}

func TestConfigureRejectsUnknownValues(t *testing.T) {
	if _, err := Configure("loud", "json", nil); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
	if _, err := Configure("info", "xml", nil); err == nil {
		t.Fatalf("expected invalid format to fail")
	}
}
