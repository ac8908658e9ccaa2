package utils

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"INFO", logrus.InfoLevel},
		{"warning", logrus.WarnLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		if err := SetLogLevel(tt.in); err != nil {
			t.Fatalf("SetLogLevel(%q) returned %v", tt.in, err)
		}
		if Log.GetLevel() != tt.want {
			t.Fatalf("SetLogLevel(%q): level %v, want %v", tt.in, Log.GetLevel(), tt.want)
		}
	}
	if err := SetLogLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	_ = SetLogLevel("info")
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 10); got != "abcdef" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("abcdefghij", 6); got != "abc..." {
		t.Fatalf("got %q", got)
	}
}

func TestRunLockExcludesSecondHolder(t *testing.T) {
	target := filepath.Join(t.TempDir(), "drugsync.sqlite")

	first, err := NewRunLock(target)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first.Path()) != "drugsync.sqlite.lock" {
		t.Fatalf("unexpected lock path %s", first.Path())
	}
	if err := first.Lock(); err != nil {
		t.Fatal(err)
	}

	second, err := NewRunLock(target)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := second.TryLock()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("second lock acquired while first is held")
	}

	if err := first.Unlock(); err != nil {
		t.Fatal(err)
	}
	ok, err = second.TryLock()
	if err != nil || !ok {
		t.Fatalf("expected second lock after release, ok=%v err=%v", ok, err)
	}
	_ = second.Unlock()
}
