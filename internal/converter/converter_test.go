//go:build !windows

package converter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pdfhtmlgo/internal/apperr"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-pdftohtml")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

const successScript = `for last; do :; done
dir=$(dirname "$last")
echo "$@" > "$dir/args.txt"
printf '<html><head></head><body><img src="bg001.png"></body></html>' > "$last"
: > "$dir/bg001.png"
`

func TestConvertSuccess(t *testing.T) {
	bin := writeScript(t, successScript)
	out := t.TempDir()
	conv := NewPdftohtml(bin, 5*time.Second, 1.3, nil)

	res, err := conv.Convert(context.Background(), "/uploads/report.pdf", out)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.HTMLPath != filepath.Join(out, "report.html") {
		t.Fatalf("html path = %s", res.HTMLPath)
	}
	if len(res.Files) != 2 || res.Files[0] != "args.txt" || res.Files[1] != "bg001.png" {
		t.Fatalf("unexpected files: %v", res.Files)
	}
	args, err := os.ReadFile(filepath.Join(out, "args.txt"))
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if !strings.Contains(string(args), "-f 1 -l 1") {
		t.Fatalf("converter must restrict to the first page, args: %s", args)
	}
}

func TestConvertFallsBackToAnyHTML(t *testing.T) {
	bin := writeScript(t, `for last; do :; done
printf '<html></html>' > "$(dirname "$last")/renamed-html.html"
`)
	out := t.TempDir()
	res, err := NewPdftohtml(bin, 5*time.Second, 0, nil).Convert(context.Background(), "in.pdf", out)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if filepath.Base(res.HTMLPath) != "renamed-html.html" {
		t.Fatalf("html path = %s", res.HTMLPath)
	}
}

func TestConvertNoOutputIsFailure(t *testing.T) {
	bin := writeScript(t, "exit 0\n")
	_, err := NewPdftohtml(bin, 5*time.Second, 0, nil).Convert(context.Background(), "in.pdf", t.TempDir())
	if !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("expected conversion failure, got %v", err)
	}
}

func TestConvertExitStatusMapping(t *testing.T) {
	corrupt := writeScript(t, "echo 'Syntax Error: broken xref' >&2\nexit 1\n")
	_, err := NewPdftohtml(corrupt, 5*time.Second, 0, nil).Convert(context.Background(), "in.pdf", t.TempDir())
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("exit 1 should be invalid input, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken xref") {
		t.Fatalf("stderr missing from error: %v", err)
	}

	crash := writeScript(t, "exit 99\n")
	_, err = NewPdftohtml(crash, 5*time.Second, 0, nil).Convert(context.Background(), "in.pdf", t.TempDir())
	if !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("exit 99 should be conversion failure, got %v", err)
	}
}

func TestConvertTimeoutKillsProcess(t *testing.T) {
	bin := writeScript(t, "sleep 10\n")
	start := time.Now()
	_, err := NewPdftohtml(bin, 200*time.Millisecond, 0, nil).Convert(context.Background(), "in.pdf", t.TempDir())
	if !errors.Is(err, apperr.ErrConversion) || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout failure, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout did not kill the process group, took %s", elapsed)
	}
}

func TestConvertMissingBinary(t *testing.T) {
	_, err := NewPdftohtml(filepath.Join(t.TempDir(), "absent"), time.Second, 0, nil).Convert(context.Background(), "in.pdf", t.TempDir())
	if !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("expected conversion failure, got %v", err)
	}
}
