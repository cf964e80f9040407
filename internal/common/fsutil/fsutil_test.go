package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	// Set a deterministic HOME for the duration of this test so we never skip.
	origHome, hadHome := os.LookupEnv("HOME")
	origUserProfile, hadUserProfile := os.LookupEnv("USERPROFILE")
	t.Cleanup(func() {
		if hadHome {
			_ = os.Setenv("HOME", origHome)
		} else {
			_ = os.Unsetenv("HOME")
		}
		if hadUserProfile {
			_ = os.Setenv("USERPROFILE", origUserProfile)
		} else {
			_ = os.Unsetenv("USERPROFILE")
		}
	})

	home := t.TempDir()
	// Configure both env vars for cross-platform behavior of os.UserHomeDir.
	_ = os.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		_ = os.Setenv("USERPROFILE", home)
	}
	// raw path unaffected
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// empty path
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// ~ expansion
	p, err := ExpandHome("~")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p != home {
		t.Fatalf("expected %q, got %q", home, p)
	}
	// ~/subdir
	sub := "test-sub"
	exp, err := ExpandHome("~/" + sub)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if runtime.GOOS == "windows" {
		if filepath.Base(exp) != sub {
			t.Fatalf("unexpected expanded path: %q", exp)
		}
	} else {
		expected := filepath.Join(home, sub)
		if exp != expected {
			t.Fatalf("expected %q, got %q", expected, exp)
		}
	}
}

func TestEnsureDirAndFingerprint(t *testing.T) {
	d := t.TempDir()
	nested := filepath.Join(d, "a", "b")
	if err := EnsureDir(nested); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !PathExists(nested) {
		t.Fatalf("expected %s to exist", nested)
	}
	// idempotent
	if err := EnsureDir(nested); err != nil {
		t.Fatalf("ensure twice: %v", err)
	}
	if err := EnsureDir(""); err == nil {
		t.Fatalf("expected error for empty dir")
	}

	p := filepath.Join(d, "data.csv")
	if err := os.WriteFile(p, []byte("lab,x,y,sigma\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fp1, err := Fingerprint(p)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if len(fp1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fp1))
	}
	fp2, err := Fingerprint(p)
	if err != nil || fp2 != fp1 {
		t.Fatalf("fingerprint not stable: %q vs %q (err %v)", fp1, fp2, err)
	}
	if err := os.WriteFile(p, []byte("lab,x,y,sigma\nnist,1,2,0.5\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	fp3, err := Fingerprint(p)
	if err != nil || fp3 == fp1 {
		t.Fatalf("fingerprint should change with contents (err %v)", err)
	}
	if _, err := Fingerprint(filepath.Join(d, "missing.csv")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
