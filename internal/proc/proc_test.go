//go:build unix

package proc

import (
	"context"
	"strings"
	"testing"
	"time"

	"agentguard/internal/domain"
)

func TestRun_CapturesCombinedOutput(t *testing.T) {
	res, err := Run(context.Background(), "echo", []string{"hello"}, Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(string(res.Output)) != "hello" {
		t.Fatalf("output = %q", res.Output)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
}

func TestRun_TimeoutKillsProcess(t *testing.T) {
	start := time.Now()
	_, err := Run(context.Background(), "sleep", []string{"10"}, Options{Timeout: 100 * time.Millisecond})
	if domain.KindOf(err) != domain.KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("kill took too long: %s", elapsed)
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := Run(ctx, "sleep", []string{"10"}, Options{})
	if domain.KindOf(err) != domain.KindTimeout {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestRun_OutputCap(t *testing.T) {
	res, err := Run(context.Background(), "echo", []string{strings.Repeat("x", 256)}, Options{
		Timeout:   5 * time.Second,
		MaxOutput: 32,
	})
	if domain.KindOf(err) != domain.KindOutputTooLarge {
		t.Fatalf("expected output-too-large, got %v", err)
	}
	if len(res.Output) > 33 {
		t.Fatalf("buffer retained %d bytes past the cap", len(res.Output))
	}
}

func TestHandle_CancelIsIdempotent(t *testing.T) {
	h, err := Start("sleep", []string{"10"}, Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.Cancel()
	h.Cancel()
	if _, err := h.Wait(context.Background()); domain.KindOf(err) != domain.KindTimeout {
		t.Fatalf("expected canceled error, got %v", err)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), "false", nil, Options{Timeout: 5 * time.Second})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if res.ExitCode != 1 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
}
