package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8080")
	if p, err := Port("TEST_PORT", "1"); err != nil || p != "8080" {
		t.Fatalf("expected 8080, got %q (%v)", p, err)
	}
	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "1"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestIntAndDuration(t *testing.T) {
	if n, err := Int("TEST_UNSET_INT", 7); err != nil || n != 7 {
		t.Fatalf("expected fallback 7, got %d (%v)", n, err)
	}
	t.Setenv("TEST_INT", "abc")
	if _, err := Int("TEST_INT", 1); err == nil {
		t.Fatal("expected parse error")
	}

	t.Setenv("TEST_DURATION", "2m")
	d, err := Duration("TEST_DURATION", time.Second)
	if err != nil || d != 2*time.Minute {
		t.Fatalf("expected 2m, got %s (%v)", d, err)
	}
	t.Setenv("TEST_DURATION", "-1s")
	if _, err := Duration("TEST_DURATION", time.Second); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestBoolAndList(t *testing.T) {
	if !Bool("TEST_UNSET_BOOL", true) {
		t.Fatal("expected fallback true")
	}
	t.Setenv("TEST_BOOL", "off")
	if Bool("TEST_BOOL", true) {
		t.Fatal("expected false")
	}

	t.Setenv("TEST_LIST", " a, ,b ,")
	got := List("TEST_LIST")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("TEST_DOTENV_NEW=from-file\nTEST_DOTENV_SET=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TEST_DOTENV_SET", "from-env")
	t.Setenv("TEST_DOTENV_NEW", "")
	os.Unsetenv("TEST_DOTENV_NEW")

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("TEST_DOTENV_NEW"); got != "from-file" {
		t.Fatalf("TEST_DOTENV_NEW = %q", got)
	}
	if got := os.Getenv("TEST_DOTENV_SET"); got != "from-env" {
		t.Fatalf("existing variable overwritten: %q", got)
	}
}
