package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun_RejectsBeforeStartup(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no items", nil, "usage: osrsprice"},
		{"unknown format", []string{"-o", "xml", "dragon bones"}, `unknown output format "xml"`},
		{"missing explicit config", []string{"-config", "/nonexistent/osrsprice.toml", "dragon bones"}, "fatal:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != exitFatal {
				t.Errorf("run() = %d, want %d", code, exitFatal)
			}
			if !strings.Contains(stderr.String(), tt.want) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.want)
			}
			if stdout.Len() != 0 {
				t.Errorf("stdout = %q, want empty", stdout.String())
			}
		})
	}
}
