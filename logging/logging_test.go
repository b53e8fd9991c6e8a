package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewText(t *testing.T) {
	t.Setenv(EnvJSON, "")
	var buf bytes.Buffer
	log := New(&buf, logrus.WarnLevel)
	log.Info("hidden")
	log.WithField("name", "org.example.BleServer").Warn("Name lost")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "Name lost") || !strings.Contains(out, "name=org.example.BleServer") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestNewJSON(t *testing.T) {
	t.Setenv(EnvJSON, "true")
	var buf bytes.Buffer
	New(&buf, logrus.InfoLevel).WithField("reason", "identity-lost").Error("terminating")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["msg"] != "terminating" || entry["reason"] != "identity-lost" || entry["level"] != "error" {
		t.Fatalf("unexpected entry %v", entry)
	}
}
