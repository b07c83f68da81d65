package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMetrics_Textfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eis.prom")
	m := newMetrics(path)
	m.observe("sweep", 120*time.Millisecond, nil)
	m.observe("sweep", 80*time.Millisecond, errors.New("ошибка обмена"))
	m.observe("temp", time.Millisecond, nil)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(b)
	for _, want := range []string{
		`eis_operation_duration_seconds_count{op="sweep"} 2`,
		`eis_operation_duration_seconds_count{op="temp"} 1`,
		`eis_operation_errors_total{op="sweep"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("нет %q в\n%s", want, text)
		}
	}
	if strings.Contains(text, `eis_operation_errors_total{op="temp"}`) {
		t.Errorf("счётчик ошибок temp не должен появляться:\n%s", text)
	}
}

func TestMetrics_NoFile(t *testing.T) {
	m := newMetrics("")
	m.observe("status", time.Millisecond, nil)
}
