package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"linestore": func() { os.Exit(run(os.Args[1:], os.Stdout, os.Stderr)) },
	})
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata",
	})
}

// --- run ---

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--config", "none.yaml", "blorp"}, &bytes.Buffer{}, &stderr)
	if code != 1 {
		t.Errorf("run([blorp]) = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), `unknown command "blorp"`) {
		t.Errorf("stderr = %q, want 'unknown command'", stderr.String())
	}
}

func TestRunLinesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	base := []string{"--root", root, "--journal", "off", "lines"}
	exec := func(args ...string) (string, int) {
		var stdout bytes.Buffer
		code := run(append(append([]string{}, base...), args...), &stdout, &bytes.Buffer{})
		return stdout.String(), code
	}

	if _, code := exec("append", "a.txt", "one"); code != 0 {
		t.Fatalf("append exit %d", code)
	}
	if _, code := exec("append", "a.txt", "two"); code != 0 {
		t.Fatalf("append exit %d", code)
	}
	out, code := exec("count", "a.txt")
	if code != 0 || out != "2 2\n" {
		t.Errorf("count = %q (exit %d)", out, code)
	}
	out, _ = exec("read", "a.txt", "1")
	if out != "two\n" {
		t.Errorf("read 1 = %q", out)
	}
	if _, code := exec("read", "a.txt", "x"); code != 1 {
		t.Errorf("bad ordinal exit %d, want 1", code)
	}

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("body = %q", data)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "lines", "count", "a.txt"}, &bytes.Buffer{}, &stderr)
	if code != 1 || !strings.Contains(stderr.String(), "failed to parse config") {
		t.Errorf("exit %d, stderr %q", code, stderr.String())
	}
}
