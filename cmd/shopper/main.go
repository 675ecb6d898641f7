package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/VenkatGGG/shopping-agent/internal/agent"
	"github.com/VenkatGGG/shopping-agent/internal/artifact"
	"github.com/VenkatGGG/shopping-agent/internal/config"
	"github.com/VenkatGGG/shopping-agent/internal/payment"
	"github.com/VenkatGGG/shopping-agent/internal/tracing"
	"github.com/VenkatGGG/shopping-agent/internal/validate"
)

const (
	exitOK          = 0
	exitFailed      = 1
	exitInterrupted = 130
)

type options struct {
	requirements string
	outputDir    string
	headless     bool
	apiKey       string
	paytatoKey   string
	privateKey   string
	mockPayload  string
	verbose      bool
	domain       string
	instructions string
	cdpURL       string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "", log.LstdFlags)

	loaded, err := config.LoadDotEnv(".env")
	if err != nil {
		logger.Printf("warning: %v", err)
	}
	for _, path := range loaded {
		logger.Printf("loaded environment from %s", path)
	}

	cfg := config.Load()
	opts, err := parseFlags(args, cfg, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	cfg = opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Printf("configuration error: %v", err)
		return exitFailed
	}

	var mockCard *payment.Method
	if opts.mockPayload != "" {
		mockCard, err = payment.LoadMock(opts.mockPayload)
		if err != nil {
			logger.Printf("failed to parse mock payload: %v", err)
			return exitFailed
		}
		defer mockCard.Zero()
	}

	printBanner(stdout, opts, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(tracing.Config{Enabled: cfg.TracingEnabled, ServiceName: "shopper", Writer: stderr})
	if err != nil {
		logger.Printf("tracing disabled: %v", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Printf("tracing shutdown: %v", err)
			}
		}()
	}

	deps, agentOpts, cleanup, err := buildDeps(ctx, cfg, mockCard != nil, logger)
	if err != nil {
		logger.Printf("agent failed: %v", err)
		return exitFailed
	}
	defer cleanup()

	shopper, err := agent.New(deps, agentOpts, logger)
	if err != nil {
		logger.Printf("agent failed: %v", err)
		return exitFailed
	}

	result, err := shopper.Run(ctx, agent.Request{
		Requirements: opts.requirements,
		Instructions: opts.instructions,
		MockCard:     mockCard,
	})
	interrupted := ctx.Err() != nil && errors.Is(err, context.Canceled)
	switch {
	case interrupted:
		fmt.Fprintln(stdout, "\nAborted by user.")
	case err != nil:
		logger.Printf("agent failed: %v", err)
	default:
		printSummary(stdout, cfg.OutputDir, result, cfg.PaytatoEnabled())
	}
	return exitStatus(result.Output, err, interrupted)
}

func exitStatus(out agent.Output, err error, interrupted bool) int {
	switch {
	case interrupted:
		return exitInterrupted
	case err != nil:
		return exitFailed
	case !out.Success:
		return exitFailed
	default:
		return exitOK
	}
}

func parseFlags(args []string, cfg config.Config, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("shopper", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := options{outputDir: cfg.OutputDir, domain: cfg.Domain, headless: cfg.Headless, verbose: cfg.Verbose, cdpURL: cfg.CDPURL}
	stringFlag := func(p *string, short, long, usage string) {
		if short != "" {
			fs.StringVar(p, short, *p, usage)
		}
		fs.StringVar(p, long, *p, usage)
	}
	boolFlag := func(p *bool, short, long, usage string) {
		if short != "" {
			fs.BoolVar(p, short, *p, usage)
		}
		fs.BoolVar(p, long, *p, usage)
	}

	stringFlag(&opts.requirements, "r", "requirements", "natural language shopping requirements (required)")
	stringFlag(&opts.outputDir, "o", "output-dir", "directory to write output JSON files")
	boolFlag(&opts.headless, "", "headless", "run the browser without a visible window")
	stringFlag(&opts.apiKey, "", "api-key", "Keywords AI API key (defaults to KEYWORDS_API_KEY)")
	stringFlag(&opts.paytatoKey, "", "paytato-key", "Paytato API key (defaults to PAYTATO_API_KEY)")
	stringFlag(&opts.privateKey, "", "private-key", "PayFill private key for decryption (defaults to PAYFILL_PRIVATE_KEY)")
	stringFlag(&opts.mockPayload, "", "mock-payload", "JSON string or path to a JSON file with mock card credentials")
	boolFlag(&opts.verbose, "v", "verbose", "enable debug logging")
	stringFlag(&opts.domain, "d", "domain", "merchant domain URL")
	stringFlag(&opts.instructions, "i", "instructions", "custom instructions to guide the agent")
	stringFlag(&opts.cdpURL, "", "cdp-url", "attach to a running Chrome DevTools endpoint instead of launching one")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	opts.requirements = strings.TrimSpace(opts.requirements)
	if opts.requirements == "" {
		return options{}, errors.New("the -r/--requirements flag is required")
	}
	return opts, nil
}

// apply lets flags override environment configuration.
func (o options) apply(cfg config.Config) config.Config {
	cfg.OutputDir = o.outputDir
	cfg.Domain = o.domain
	cfg.Headless = o.headless
	cfg.Verbose = o.verbose
	cfg.CDPURL = o.cdpURL
	if o.apiKey != "" {
		cfg.KeywordsAPIKey = o.apiKey
	}
	if o.paytatoKey != "" {
		cfg.PaytatoAPIKey = o.paytatoKey
	}
	if o.privateKey != "" {
		cfg.PayfillPrivateKey = o.privateKey
	}
	return cfg
}

func printBanner(w io.Writer, opts options, cfg config.Config) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "  SHOPPING AGENT - Autonomous Shopping with Keywords AI")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Requirements: %s\n", opts.requirements)
	fmt.Fprintf(w, "Output dir:   %s\n", cfg.OutputDir)
	fmt.Fprintf(w, "Headless:     %t\n", cfg.Headless)
	fmt.Fprintf(w, "Domain:       %s\n", cfg.Domain)
	if opts.instructions != "" {
		fmt.Fprintf(w, "Instructions: %s\n", opts.instructions)
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, outputDir string, result agent.Result, paytatoEnabled bool) {
	out := result.Output
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "  RESULT")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Success:    %t\n", out.Success)
	fmt.Fprintf(w, "Decision:   %s\n", out.Validation.Decision)
	fmt.Fprintf(w, "Cart total: $%d.%02d\n", out.Cart.Totals.TotalCents/100, out.Cart.Totals.TotalCents%100)
	fmt.Fprintf(w, "Items:      %d\n", len(out.Cart.Items))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Output files:")
	for _, name := range []string{artifact.PlanFile, artifact.CartFile, artifact.ValidationFile, artifact.OutputFile} {
		fmt.Fprintf(w, "  - %s/%s\n", outputDir, name)
	}

	if result.Intent == nil {
		fmt.Fprintln(w)
		switch {
		case out.Validation.Decision == validate.Reject || !out.Success:
			fmt.Fprintln(w, "Note: Payment intent NOT submitted (validation failed)")
		case !paytatoEnabled:
			fmt.Fprintln(w, "Note: PAYTATO_API_KEY not set - no intent submitted")
		}
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, "  - %s/%s\n", outputDir, agent.IntentFile)
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "  PAYTATO STATUS")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Intent ID:  %s\n", result.Intent.IntentID)
	fmt.Fprintf(w, "Status:     %s\n", result.Intent.Status)
	if paid := out.Cart.PaymentResult; paid != nil {
		status := "FAILED"
		if paid.Success {
			status = "SUCCESS"
		}
		fmt.Fprintf(w, "Payment:    %s\n", status)
		if paid.ConfirmationNumber != nil {
			fmt.Fprintf(w, "Conf #:     %s\n", *paid.ConfirmationNumber)
		}
		if paid.ErrorMessage != nil {
			fmt.Fprintf(w, "Error:      %s\n", *paid.ErrorMessage)
		}
	} else {
		fmt.Fprintln(w, "Payment:    Pending/Not executed (approval timeout or browser closed)")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Agent run complete.")
	fmt.Fprintln(w)
}
