package logger

import (
	"bytes"
	"strings"
	"testing"
)

func newTestLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(Config{Level: level, Output: &buf})
	return l, &buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(WARN)

	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)
	l.Errorf("also shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("INFO message written at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 2") {
		t.Errorf("Expected WARN line, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] also shown") {
		t.Errorf("Expected ERROR line, got %q", out)
	}
}

func TestNamedSharesSink(t *testing.T) {
	l, buf := newTestLogger(INFO)
	child := l.Named("pipeline").Named("render")

	child.Infof("rendered %d frames", 10)
	l.SetLevel(ERROR)
	child.Infof("dropped")

	out := buf.String()
	if !strings.Contains(out, "[pipeline] [render] rendered 10 frames") {
		t.Errorf("Expected nested prefix, got %q", out)
	}
	if strings.Contains(out, "dropped") {
		t.Errorf("Child logger ignored parent level change: %q", out)
	}
}

func TestFatalCallsExit(t *testing.T) {
	l, _ := newTestLogger(DEBUG)
	code := -1
	l.sink.exit = func(c int) { code = c }

	l.Fatalf("boom")

	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", DEBUG, true},
		{" Warning ", WARN, true},
		{"ERROR", ERROR, true},
		{"verbose", INFO, false},
		{"", INFO, false},
	}

	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v; expected %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
