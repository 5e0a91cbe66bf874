package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info 日志不应输出: %s", buf.String())
	}

	component := Component(logger, "pipeline")
	component.Warn().Msg("visible")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("应输出 JSON: %v", err)
	}
	if entry["component"] != "pipeline" || entry["message"] != "visible" {
		t.Fatalf("字段不正确: %#v", entry)
	}
}

func TestNewDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "nonsense"}, &buf)
	logger.Debug().Msg("debug")
	if buf.Len() != 0 {
		t.Fatal("默认级别应为 info")
	}
}
