package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/VenkatGGG/shopping-agent/internal/agent"
	"github.com/VenkatGGG/shopping-agent/internal/approval"
	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/config"
	"github.com/VenkatGGG/shopping-agent/internal/validate"
)

func TestParseFlagsShortAndLongNames(t *testing.T) {
	t.Parallel()

	cfg := config.Config{OutputDir: "output", Domain: config.DefaultDomain}
	opts, err := parseFlags([]string{
		"-r", "  2 cookies  ",
		"--output-dir", "runs/1",
		"-v",
		"--headless",
		"-i", "cheapest first",
		"--domain", "https://shop.example",
	}, cfg, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.requirements != "2 cookies" {
		t.Fatalf("requirements = %q", opts.requirements)
	}
	if opts.outputDir != "runs/1" || !opts.verbose || !opts.headless {
		t.Fatalf("unexpected opts: %+v", opts)
	}
	if opts.instructions != "cheapest first" || opts.domain != "https://shop.example" {
		t.Fatalf("unexpected opts: %+v", opts)
	}
}

func TestParseFlagsDefaultsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Config{OutputDir: "out", Domain: "https://d.example", Headless: true, CDPURL: "http://127.0.0.1:9222"}
	opts, err := parseFlags([]string{"--requirements", "milk"}, cfg, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.outputDir != "out" || opts.domain != "https://d.example" || !opts.headless || opts.cdpURL != "http://127.0.0.1:9222" {
		t.Fatalf("config defaults not applied: %+v", opts)
	}
}

func TestParseFlagsRequiresRequirements(t *testing.T) {
	t.Parallel()

	if _, err := parseFlags([]string{"-v"}, config.Config{}, io.Discard); err == nil {
		t.Fatalf("expected error without requirements")
	}
	if _, err := parseFlags([]string{"-r", "milk", "extra"}, config.Config{}, io.Discard); err == nil {
		t.Fatalf("expected error for positional arguments")
	}
}

func TestApplyOverridesOnlyProvidedKeys(t *testing.T) {
	t.Parallel()

	cfg := config.Config{KeywordsAPIKey: "env-key", PaytatoAPIKey: "env-paytato", PayfillPrivateKey: "env-private"}
	got := options{apiKey: "flag-key", outputDir: "o", domain: "d"}.apply(cfg)
	if got.KeywordsAPIKey != "flag-key" {
		t.Fatalf("api key = %q", got.KeywordsAPIKey)
	}
	if got.PaytatoAPIKey != "env-paytato" || got.PayfillPrivateKey != "env-private" {
		t.Fatalf("env keys overwritten: %+v", got)
	}
	if got.OutputDir != "o" || got.Domain != "d" {
		t.Fatalf("flag values not applied: %+v", got)
	}
}

func TestRunFailsFastWithoutAPIKey(t *testing.T) {
	t.Setenv("KEYWORDS_API_KEY", "")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-r", "milk", "-o", t.TempDir()}, &stdout, &stderr)
	if code != exitFailed {
		t.Fatalf("exit code = %d, want %d", code, exitFailed)
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected no banner before configuration error, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "KEYWORDS_API_KEY") {
		t.Fatalf("expected api key error, got %q", stderr.String())
	}
}

func TestRunRejectsBadMockPayload(t *testing.T) {
	t.Setenv("KEYWORDS_API_KEY", "test-key")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-r", "milk", "-o", t.TempDir(), "--mock-payload", "{not json"}, &stdout, &stderr)
	if code != exitFailed {
		t.Fatalf("exit code = %d, want %d", code, exitFailed)
	}
	if !strings.Contains(stderr.String(), "mock payload") {
		t.Fatalf("expected mock payload error, got %q", stderr.String())
	}
}

func TestExitStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		out         agent.Output
		err         error
		interrupted bool
		want        int
	}{
		{name: "success", out: agent.Output{Success: true}, want: exitOK},
		{name: "rejected", out: agent.Output{Success: false}, want: exitFailed},
		{name: "error", out: agent.Output{Success: true}, err: errors.New("boom"), want: exitFailed},
		{name: "interrupted", err: context.Canceled, interrupted: true, want: exitInterrupted},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := exitStatus(tc.out, tc.err, tc.interrupted); got != tc.want {
				t.Fatalf("exitStatus = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPrintSummaryWithoutIntent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printSummary(&buf, "output", agent.Result{Output: agent.Output{
		Success:    false,
		Validation: validate.Result{Decision: validate.Reject},
		Cart:       cart.Cart{Totals: cart.Totals{TotalCents: 1234}},
	}}, true)

	text := buf.String()
	for _, want := range []string{"Decision:   REJECT", "Cart total: $12.34", "output/cart.json", "Payment intent NOT submitted"} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "PAYTATO STATUS") {
		t.Fatalf("unexpected paytato section:\n%s", text)
	}
}

func TestPrintSummaryWithPayment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printSummary(&buf, "output", agent.Result{
		Output: agent.Output{
			Success:    true,
			Validation: validate.Result{Decision: validate.Allow},
			Cart: cart.Cart{PaymentResult: &cart.PaymentResult{
				Success:            true,
				ConfirmationNumber: cart.StringPtr("ORD-42"),
			}},
		},
		Intent: &approval.SubmitResult{IntentID: "intent_abc", Status: "pending"},
	}, true)

	text := buf.String()
	for _, want := range []string{"PAYTATO STATUS", "intent_abc", "Payment:    SUCCESS", "ORD-42", "output/" + agent.IntentFile} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary missing %q:\n%s", want, text)
		}
	}
}
