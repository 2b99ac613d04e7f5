package importer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// downloadFile downloads url to dest with retries and timeout.
func downloadFile(ctx context.Context, url, dest string) error {
	client := &http.Client{Timeout: 10 * time.Minute}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
			continue
		}

		f, err := os.Create(dest)
		if err != nil {
			resp.Body.Close()
			return fmt.Errorf("create file: %w", err)
		}

		_, copyErr := io.Copy(f, resp.Body)
		resp.Body.Close()
		closeErr := f.Close()

		if copyErr != nil {
			lastErr = copyErr
			continue
		}
		if closeErr != nil {
			return closeErr
		}
		return nil
	}
	return fmt.Errorf("download %s failed after 3 attempts: %w", url, lastErr)
}

func isURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

// fetchInput returns a local path for input, downloading URLs into a
// scratch directory under workDir. The file name of the URL path is kept so
// the reader can dispatch on its extension.
func fetchInput(ctx context.Context, input, workDir string) (string, func(), error) {
	noop := func() {}
	if input == "" {
		return "", noop, fmt.Errorf("no input configured")
	}
	if !isURL(input) {
		if _, err := os.Stat(input); err != nil {
			return "", noop, fmt.Errorf("input: %w", err)
		}
		return input, noop, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", noop, fmt.Errorf("input url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = "input.csv"
	}

	dlDir, err := os.MkdirTemp(workDir, "_download")
	if err != nil {
		return "", noop, fmt.Errorf("create download dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dlDir) }

	dest := filepath.Join(dlDir, name)
	if err := downloadFile(ctx, input, dest); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("download: %w", err)
	}
	return dest, cleanup, nil
}

// ensureDir creates a directory if it doesn't exist.
func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
