package artifact

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOutputDirSavesIndentedJSON(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "nested", "output")
	dir, err := NewOutputDir(root)
	if err != nil {
		t.Fatalf("new output dir: %v", err)
	}

	path, err := dir.SaveJSON(CartFile, map[string]any{"cart_id": "c1", "items": []int{1}})
	if err != nil {
		t.Fatalf("save json: %v", err)
	}
	if path != filepath.Join(root, CartFile) {
		t.Fatalf("unexpected path %s", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "{\n  \"cart_id\": \"c1\",\n  \"items\": [\n    1\n  ]\n}\n"
	if string(content) != want {
		t.Fatalf("unexpected content:\n%s", content)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected tmp file to be renamed away, stat err=%v", err)
	}
}

func TestOutputDirSavesScreenshot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir, err := NewOutputDir(root)
	if err != nil {
		t.Fatalf("new output dir: %v", err)
	}
	dir.now = func() time.Time { return time.Unix(0, 42) }

	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	path, err := dir.SaveScreenshotBase64(context.Background(), "run/1-purchase-failed", payload)
	if err != nil {
		t.Fatalf("save screenshot: %v", err)
	}
	if want := filepath.Join(root, "screenshots", "run_1-purchase-failed-42.png"); path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(content) != "png-bytes" {
		t.Fatalf("unexpected content %q", string(content))
	}
}

func TestOutputDirRejectsBadScreenshots(t *testing.T) {
	t.Parallel()

	dir, err := NewOutputDir(t.TempDir())
	if err != nil {
		t.Fatalf("new output dir: %v", err)
	}
	ctx := context.Background()

	cases := map[string]string{
		"empty":       "",
		"not base64":  "%%%",
		"bad dataurl": "data:image/png;base64",
	}
	for name, payload := range cases {
		if _, err := dir.SaveScreenshotBase64(ctx, "shot", payload); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := dir.SaveScreenshotBase64(canceled, "shot", "cG5n"); err == nil || !strings.Contains(err.Error(), "canceled") {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}
