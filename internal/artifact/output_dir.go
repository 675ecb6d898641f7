package artifact

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	PlanFile       = "shopping_plan.json"
	CartFile       = "cart.json"
	ValidationFile = "validation.json"
	OutputFile     = "agent_output.json"
)

// OutputDir writes the run's JSON documents and screenshots. Every write
// goes to a temporary file first and is renamed into place, so a reader
// never sees a half-written document.
type OutputDir struct {
	root string
	now  func() time.Time
}

func NewOutputDir(root string) (*OutputDir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("output dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &OutputDir{root: root, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (d *OutputDir) Root() string {
	return d.root
}

func (d *OutputDir) Path(name string) string {
	return filepath.Join(d.root, sanitizeName(name))
}

// SaveJSON writes v as two-space indented JSON and returns the file path.
func (d *OutputDir) SaveJSON(name string, v any) (string, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	payload = append(payload, '\n')
	path := d.Path(name)
	if err := writeAtomic(path, payload); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return path, nil
}

// SaveScreenshotBase64 stores a base64 PNG (optionally a data URL) under
// screenshots/ and returns its path.
func (d *OutputDir) SaveScreenshotBase64(ctx context.Context, name, payload string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("screenshot name is required")
	}
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return "", errors.New("payload is required")
	}

	decoded, err := decodeBase64(trimmed)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(d.root, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	file := fmt.Sprintf("%s-%d.png", sanitizeName(name), d.now().UnixNano())
	path := filepath.Join(dir, file)
	if err := writeAtomic(path, decoded); err != nil {
		return "", fmt.Errorf("save screenshot: %w", err)
	}
	return path, nil
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func decodeBase64(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		parts := strings.SplitN(payload, ",", 2)
		if len(parts) != 2 {
			return nil, errors.New("invalid data url payload")
		}
		payload = parts[1]
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 payload: %w", err)
	}
	if len(decoded) == 0 {
		return nil, errors.New("decoded payload is empty")
	}
	return decoded, nil
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, `\`, "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		return "artifact"
	}
	return name
}
