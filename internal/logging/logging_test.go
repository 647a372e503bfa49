package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/astra-platform/backbone/internal/correlation"
)

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Infof("hidden")
	log.Warnf("visible")

	out := buf.String()
	if bytes.Contains([]byte(out), []byte("hidden")) {
		t.Error("info line emitted at warn level")
	}
	if !bytes.Contains([]byte(out), []byte("visible")) {
		t.Error("warn line missing")
	}
}

func TestComponent_TagsLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf}).Component("registry")

	log.Infof("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not JSON output: %v", err)
	}
	if line["component"] != "registry" {
		t.Errorf("component = %v, want registry", line["component"])
	}
}

func TestLogRequest_CarriesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})

	ctx := correlation.WithID(context.Background(), "corr-9")
	log.LogRequest(ctx, "GET", "/trading/orders", 200, 12*time.Millisecond)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not JSON output: %v", err)
	}
	if line["correlation_id"] != "corr-9" {
		t.Errorf("correlation_id = %v, want corr-9", line["correlation_id"])
	}
	if line["status"] != float64(200) {
		t.Errorf("status = %v, want 200", line["status"])
	}
}

func TestLogSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})

	log.LogSecurityEvent(context.Background(), "rate_limit_exceeded", map[string]any{"scope": "caller"})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not JSON output: %v", err)
	}
	if line["security_event"] != "rate_limit_exceeded" {
		t.Errorf("security_event = %v", line["security_event"])
	}
	if line["scope"] != "caller" {
		t.Errorf("scope = %v", line["scope"])
	}
}

func TestNewNop_Discards(t *testing.T) {
	log := NewNop()
	log.Infof("nothing happens")
	log.WithError(nil).Errorf("still nothing")
}
