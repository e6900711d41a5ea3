package blog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/etclabs/rdmnetgo/pkg/rid"
)

func TestNewJSONHandlerEmitsRDMnetAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Format: FormatJSON, Level: slog.LevelInfo, Output: &buf})

	cid := rid.CID{0x01, 0x02}
	uid := rid.UID{Manufacturer: 0x1234, Device: 5}
	logger.Info("client connected", CID(cid), UID(uid), Scope("default"))

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("log line is not valid JSON: %v, line: %s", err, buf.String())
	}
	if fields["cid"] != cid.String() {
		t.Fatalf("cid attr = %v, want %v", fields["cid"], cid.String())
	}
	if fields["uid"] != uid.String() {
		t.Fatalf("uid attr = %v, want %v", fields["uid"], uid.String())
	}
	if fields["scope"] != "default" {
		t.Fatalf("scope attr = %v, want default", fields["scope"])
	}
}

func TestNewTextHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Format: FormatText, Level: slog.LevelInfo, Output: &buf})
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("text output missing msg field: %s", buf.String())
	}
}

func TestLevelVarAdjustsAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	logger, level := New(Config{Format: FormatJSON, Level: slog.LevelInfo, Output: &buf})

	logger.Debug("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("debug line was logged at info level: %s", buf.String())
	}

	level.Set(slog.LevelDebug)
	logger.Debug("should appear")
	if buf.Len() == 0 {
		t.Fatal("debug line was not logged after raising level")
	}
}
