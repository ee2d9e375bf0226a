package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testLayout is a small layout backed by Go memory: a 1 KiB kernel heap and
// a 4 KiB user heap.
const testLayout = `kernel:
  base: 0x20000000
  min_order: 4
  max_order: 10
  backing: go
user:
  base: 0x20001000
  min_order: 4
  max_order: 12
  backing: go
`

// useTestLayout points --config at a copy of testLayout and resets the
// global flags when the test ends.
func useTestLayout(t *testing.T) {
	t.Helper()
	path := writeFile(t, "layout.yaml", testLayout)

	saved := struct {
		config                string
		verbose, quiet, jsonO bool
	}{configPath, verbose, quiet, jsonOut}
	t.Cleanup(func() {
		configPath = saved.config
		verbose, quiet, jsonOut = saved.verbose, saved.quiet, saved.jsonO
	})
	configPath = path
}

// writeFile writes content to name in a temporary directory
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// captureOutput captures command output while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	orig := out
	var buf bytes.Buffer
	out = &buf
	defer func() { out = orig }()

	err := fn()
	return buf.String(), err
}

// assertJSON checks that output is valid JSON
func assertJSON(t *testing.T, output string) {
	t.Helper()
	var result interface{}
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Errorf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}

// assertNotContains checks that output doesn't contain unwanted strings
func assertNotContains(t *testing.T, output string, unwanted []string) {
	t.Helper()
	for _, dont := range unwanted {
		if strings.Contains(output, dont) {
			t.Errorf("output contains unwanted string %q\nGot: %s", dont, output)
		}
	}
}
