package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"verbose", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func newTestLogger(t *testing.T, lvl slog.Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Options{
		App:        "test",
		Level:      lvl,
		JsonFormat: true,
		Writer:     &buf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func decodeLine(t *testing.T, line string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", line, err)
	}
	return m
}

func TestInfoEmitsAppAndFields(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)

	l.Info(context.Background(), "hello", "k", "v")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["msg"] != "hello" {
		t.Errorf("msg = %v", m["msg"])
	}
	if m["app"] != "test" {
		t.Errorf("app = %v", m["app"])
	}
	if m["k"] != "v" {
		t.Errorf("k = %v", m["k"])
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelWarn)

	l.Debug(context.Background(), "too quiet")
	l.Info(context.Background(), "still too quiet")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	l.Warn(context.Background(), "loud enough")
	if buf.Len() == 0 {
		t.Fatal("warn should be emitted")
	}
}

func TestWithAddsPersistentFields(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)

	child := l.With("component", "gate")
	child.Info(context.Background(), "msg")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["component"] != "gate" {
		t.Errorf("component = %v", m["component"])
	}

	// parent must not gain the child's fields
	buf.Reset()
	l.Info(context.Background(), "parent msg")
	m = decodeLine(t, strings.TrimSpace(buf.String()))
	if _, ok := m["component"]; ok {
		t.Error("parent logger should not carry child attrs")
	}
}

func TestErrorAttachesChain(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)

	inner := errors.New("inner")
	l.Error(context.Background(), wrapFor(inner, "outer"), "failed")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["err"] != "outer: inner" {
		t.Errorf("err = %v", m["err"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) != 2 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
}

type wrapped struct {
	err error
	msg string
}

func (w wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w wrapped) Unwrap() error { return w.err }

func wrapFor(err error, msg string) error { return wrapped{err: err, msg: msg} }
