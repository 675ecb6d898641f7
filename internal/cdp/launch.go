package cdp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

type LaunchOptions struct {
	ExecutablePath string
	UserDataDir    string
	Headless       bool
	StartTimeout   time.Duration
	ExtraArgs      []string
}

// Browser is a Chrome process started by Launch.
type Browser struct {
	BaseURL     string
	UserDataDir string
	cmd         *exec.Cmd
	logger      *log.Logger
}

var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

// Launch starts Chrome with a persistent profile and a random debugging
// port, then waits until the DevTools HTTP endpoint answers.
func Launch(ctx context.Context, opts LaunchOptions, logger *log.Logger) (*Browser, error) {
	if logger == nil {
		logger = log.Default()
	}
	if strings.TrimSpace(opts.UserDataDir) == "" {
		return nil, errors.New("browser user data dir is required")
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 20 * time.Second
	}
	executable, err := findChrome(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	userDataDir, err := filepath.Abs(opts.UserDataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve user data dir: %w", err)
	}
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create user data dir: %w", err)
	}
	portFile := filepath.Join(userDataDir, "DevToolsActivePort")
	_ = os.Remove(portFile)

	args := []string{
		"--remote-debugging-port=0",
		"--user-data-dir=" + userDataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-blink-features=AutomationControlled",
		"--window-size=1280,900",
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, "about:blank")

	cmd := exec.Command(executable, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	logger.Printf("chrome started: pid=%d profile=%s headless=%t", cmd.Process.Pid, userDataDir, opts.Headless)

	browser := &Browser{UserDataDir: userDataDir, cmd: cmd, logger: logger}
	waitCtx, cancel := context.WithTimeout(ctx, opts.StartTimeout)
	defer cancel()

	baseURL, err := waitForDebugPort(waitCtx, portFile)
	if err != nil {
		_ = browser.Close()
		return nil, err
	}
	browser.BaseURL = baseURL
	return browser, nil
}

func (b *Browser) Close() error {
	if b == nil || b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	if err := b.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop chrome: %w", err)
	}
	_ = b.cmd.Wait()
	b.logger.Printf("chrome stopped: profile=%s", b.UserDataDir)
	b.cmd = nil
	return nil
}

func findChrome(explicit string) (string, error) {
	if path := strings.TrimSpace(explicit); path != "" {
		return path, nil
	}
	if runtime.GOOS == "darwin" {
		const macChrome = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macChrome); err == nil {
			return macChrome, nil
		}
	}
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errors.New("chrome executable not found; set CHROME_PATH")
}

// waitForDebugPort reads the port Chrome writes to DevToolsActivePort and
// checks that /json/version answers on it.
func waitForDebugPort(ctx context.Context, portFile string) (string, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	for {
		if port, ok := readPort(portFile); ok {
			baseURL := "http://127.0.0.1:" + port
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/json/version", nil)
			if err == nil {
				if resp, err := client.Do(req); err == nil {
					resp.Body.Close()
					if resp.StatusCode == http.StatusOK {
						return baseURL, nil
					}
				}
			}
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for chrome debugging endpoint: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func readPort(path string) (string, bool) {
	file, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return "", false
	}
	port := strings.TrimSpace(scanner.Text())
	return port, port != ""
}
