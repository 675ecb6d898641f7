package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/catalog"
	"github.com/VenkatGGG/shopping-agent/internal/cdp"
	"github.com/VenkatGGG/shopping-agent/internal/extract"
	"github.com/VenkatGGG/shopping-agent/internal/llm"
	"github.com/VenkatGGG/shopping-agent/internal/shop"
)

type BrowserConfig struct {
	Domain     string
	ChromePath string
	// CDPURL attaches to a running Chrome instead of launching one.
	CDPURL     string
	ProfileDir string
	Headless   bool

	LLM         llm.Completer
	Screenshots shop.ScreenshotSaver
}

// ChromeOpener launches Chrome on the persistent profile, or attaches to
// CDPURL, and returns a storefront session driving its first page.
func ChromeOpener(cfg BrowserConfig, logger *log.Logger) OpenFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(ctx context.Context, runID string) (Storefront, func() error, error) {
		if cfg.LLM == nil {
			return nil, nil, errors.New("llm completer is required")
		}

		var browser *cdp.Browser
		baseURL := strings.TrimSpace(cfg.CDPURL)
		profile := &cart.BrowserProfile{}
		if baseURL == "" {
			profileDir, err := filepath.Abs(cfg.ProfileDir)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve profile dir: %w", err)
			}
			if err := os.MkdirAll(profileDir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create profile dir: %w", err)
			}
			logger.Printf("using persistent browser profile: %s", profileDir)
			browser, err = cdp.Launch(ctx, cdp.LaunchOptions{
				ExecutablePath: cfg.ChromePath,
				UserDataDir:    profileDir,
				Headless:       cfg.Headless,
			}, logger)
			if err != nil {
				return nil, nil, err
			}
			baseURL = browser.BaseURL
			profile.UserDataDir = cart.StringPtr(profileDir)
			if cfg.ChromePath != "" {
				profile.ExecutablePath = cart.StringPtr(cfg.ChromePath)
			}
		} else {
			logger.Printf("attaching to running chrome: cdp_url=%s", baseURL)
			profile.CDPURL = cart.StringPtr(baseURL)
		}

		client, err := cdp.Dial(ctx, baseURL)
		if err != nil {
			if browser != nil {
				_ = browser.Close()
			}
			return nil, nil, err
		}
		closeAll := func() error {
			var errs []error
			if err := client.Close(); err != nil {
				errs = append(errs, err)
			}
			if browser != nil {
				if err := browser.Close(); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}

		session := shop.NewSession(
			client,
			catalog.NewMatcher(cfg.LLM, runID, logger),
			extract.NewExtractor(cfg.LLM, runID, logger),
			shop.Config{
				BaseURL:     cfg.Domain,
				RunID:       runID,
				Profile:     profile,
				Screenshots: cfg.Screenshots,
			},
			logger,
		)
		return session, closeAll, nil
	}
}
