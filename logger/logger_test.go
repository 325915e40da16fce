package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "desk.log")
	log := Logger()
	if err := log.Configure("info", "text", path, 0); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	log.WithComponent("test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log line in %s", path)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnCountsComponent(t *testing.T) {
	log := Logger()
	log.SetOutput(os.Stderr)
	before := ReadCounters()

	log.WithComponent("counter_test").Warn("careful")

	after := ReadCounters()
	if after.Warns != before.Warns+1 {
		t.Fatalf("expected warns to grow by 1, got %d -> %d", before.Warns, after.Warns)
	}
	if after.Components["counter_test"] != before.Components["counter_test"]+1 {
		t.Fatalf("component counter not bumped: %v", after.Components)
	}
}

func TestRecordChannelMessage(t *testing.T) {
	RecordChannelMessage("report_test", 10)
	RecordChannelMessage("report_test", 5)

	c := ReadCounters()
	stats, ok := c.Channels["report_test"]
	if !ok {
		t.Fatalf("channel missing from counters: %v", c.Channels)
	}
	if stats["messages"] != 2 || stats["bytes"] != 15 {
		t.Fatalf("unexpected channel stats: %v", stats)
	}
	if len(reportDatums(c)) < 9 {
		t.Fatalf("expected channel datums in report")
	}
}

func TestMetricLogsAtDebug(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.WithComponent("archiver").Metric("Desk-ArchiveBatchRecords", 3, cwtypes.StandardUnitCount, Fields{"Reason": "interval"})

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["metric"] != "Desk-ArchiveBatchRecords" || line["value"] != 3.0 || line["unit"] != "Count" {
		t.Fatalf("unexpected metric line %v", line)
	}
	if line["Reason"] != "interval" || line["component"] != "archiver" {
		t.Fatalf("fields missing from metric line %v", line)
	}
}

func TestParseLevelAcceptsReport(t *testing.T) {
	if lvl, err := parseLevel("REPORT"); err != nil || lvl != logrus.InfoLevel {
		t.Fatalf("parseLevel(report) = %v, %v", lvl, err)
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
