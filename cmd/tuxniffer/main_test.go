package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestPrintYAMLExampleIsValidYAML(t *testing.T) {
	out := captureStdout(t, printYAMLExample)
	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("output does not parse as YAML: %v\n%s", err, out)
	}
	if !strings.Contains(out, "duration:") {
		t.Fatalf("expected the default config's duration field in output, got:\n%s", out)
	}
	if !strings.Contains(out, "devices:") {
		t.Fatalf("expected a devices field in output, got:\n%s", out)
	}
}

func TestPrintModeTableListsEveryFirmwareRow(t *testing.T) {
	out := captureStdout(t, printModeTable)
	for _, name := range firmwareRowNames {
		if !strings.Contains(out, name) {
			t.Fatalf("expected firmware row %q in mode table output", name)
		}
	}
	if !strings.Contains(out, "mode  0:") && !strings.Contains(out, "mode 0:") {
		t.Fatalf("expected mode 0 entry in output, got:\n%s", out)
	}
}
