package monitoring

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	// Save original logger
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// Now set to nil and verify it doesn't call our logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()

	Logf("test message: %s", "value")
}

func TestInitLogger(t *testing.T) {
	originalLogf, originalLogger := Logf, logger
	defer func() { Logf, logger = originalLogf, originalLogger }()

	var buf bytes.Buffer
	if _, err := InitLogger("capture-test", &buf, "warn"); err != nil {
		t.Fatalf("InitLogger failed: %v", err)
	}

	Logf("suppressed at warn level")
	if buf.Len() != 0 {
		t.Errorf("expected info message to be filtered, got %q", buf.String())
	}

	Logger().Warn().Str("kind", "sync_loss").Msg("buffer cleared")
	out := buf.String()
	for _, want := range []string{"buffer cleared", "kind=", "sync_loss", "app=", "capture-test"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	originalLogf, originalLogger := Logf, logger
	defer func() { Logf, logger = originalLogf, originalLogger }()

	if _, err := InitLogger("capture", os.Stderr, "loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}
