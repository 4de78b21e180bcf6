package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLoggerRedactsCardNumbers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug")

	logger.Info("card created", "pan", "4539578763621486", "error", errors.New("bad pan 4539578763621486"))

	out := buf.String()
	if strings.Contains(out, "4539578763621486") {
		t.Fatalf("plaintext PAN leaked into log: %s", out)
	}
	if !strings.Contains(out, "****1486") {
		t.Fatalf("expected masked PAN in log: %s", out)
	}
}

func TestLoggerKeepsShortNumbers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info")

	logger.Info("sweep completed", "expired", "42")

	if !strings.Contains(buf.String(), `"expired":"42"`) {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("from 4000000000000002 to 5555555555554444"); got != "from ****0002 to ****4444" {
		t.Fatalf("unexpected redaction %q", got)
	}
}
