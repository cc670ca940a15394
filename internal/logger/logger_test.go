package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"warning", LevelWarning, false},
		{"WARN", LevelWarning, false},
		{"error", LevelError, false},
		{"fatal", LevelFatal, false},
		{"", LevelInfo, true},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ERROR_SAMPLE_RATE", "100")
	t.Setenv("OTEL_ENABLED", "TRUE")
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("LOG_FILE", "/var/log/audit.log")

	opts := optionsFromEnv()
	if opts.level != LevelDebug || opts.sampleRate != 100 || !opts.otel {
		t.Errorf("options = %+v", opts)
	}
	if opts.serviceName != "salesaudit" || opts.file != "/var/log/audit.log" {
		t.Errorf("options = %+v", opts)
	}

	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("ERROR_SAMPLE_RATE", "-3")
	opts = optionsFromEnv()
	if opts.level != LevelInfo || opts.sampleRate != 1 {
		t.Errorf("invalid values should fall back to defaults: %+v", opts)
	}
}

// capture swaps the package logger for one writing JSON into a buffer
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := Logger
	prevRate := sampleRate.Load()
	t.Cleanup(func() {
		Logger = prev
		sampleRate.Store(prevRate)
		programLevel.Set(LevelInfo)
	})

	var buf bytes.Buffer
	Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: programLevel}))
	sampleRate.Store(1)
	return &buf
}

func TestWarnAndErrorAreCounted(t *testing.T) {
	buf := capture(t)
	warnings, errs := TotalWarnings.Load(), TotalErrors.Load()

	Warn("judge slow", "rule", "CALL_SCRIPT")
	Error("persist failed", "rule", "CANCEL_NO_COMMENT")

	if TotalWarnings.Load() != warnings+1 || TotalErrors.Load() != errs+1 {
		t.Error("counters were not incremented")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("logged %d lines, want 2: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["level"] != "ERROR" || rec["rule"] != "CANCEL_NO_COMMENT" {
		t.Errorf("record = %v", rec)
	}
}

func TestSamplingStillCounts(t *testing.T) {
	buf := capture(t)
	sampleRate.Store(1 << 30)
	before := TotalWarnings.Load()

	for i := 0; i < 10; i++ {
		Warn("noisy")
	}
	if TotalWarnings.Load() != before+10 {
		t.Errorf("warnings = %d, want %d", TotalWarnings.Load(), before+10)
	}
	if n := strings.Count(buf.String(), "noisy"); n > 1 {
		t.Errorf("sampled output logged %d lines", n)
	}
}

func TestSetLevelFiltersDebug(t *testing.T) {
	buf := capture(t)

	Debug("hidden")
	SetLevel(LevelDebug)
	Debug("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("output = %s", buf.String())
	}
}

func TestOutputTeesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w := output(path)
	if _, err := w.Write([]byte("{\"msg\":\"pass finished\"}\n")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "pass finished") {
		t.Errorf("file content = %q", data)
	}

	if output("") != os.Stdout {
		t.Error("empty path should write to stdout only")
	}
}

func TestCounters(t *testing.T) {
	before := Counters()["http_404"]
	WarnHttp4xx(404)
	got := Counters()
	if got["http_404"] != before+1 {
		t.Errorf("http_404 = %d, want %d", got["http_404"], before+1)
	}
	if _, ok := got["notifications_dropped"]; !ok {
		t.Error("audit counters missing from snapshot")
	}
}
