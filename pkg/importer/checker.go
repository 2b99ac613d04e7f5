package importer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Checker periodically verifies that every adapter input is reachable and
// records the result in the ledger. URLs get a HEAD request; local inputs
// are reported as 200 when the file exists and 404 otherwise.
type Checker struct {
	ledger   *Ledger
	logger   *slog.Logger
	interval time.Duration
	client   *http.Client
}

// NewChecker creates a Checker that will verify inputs every interval.
func NewChecker(ledger *Ledger, logger *slog.Logger, interval time.Duration) *Checker {
	return &Checker{
		ledger:   ledger,
		logger:   logger,
		interval: interval,
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Start runs an immediate check then repeats every interval until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll checks every source input and persists the result. It returns
// the number of reachable and unreachable inputs.
func (c *Checker) CheckAll(ctx context.Context) (ok, failed int) {
	sources, err := c.ledger.ListSources()
	if err != nil {
		c.logger.Error("source check: list sources", "error", err)
		return 0, 0
	}
	if len(sources) == 0 {
		return 0, 0
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			return ok, failed
		}

		status, checkErr := c.checkOne(ctx, src.Input)
		errMsg := ""
		if checkErr != nil {
			errMsg = checkErr.Error()
		}

		if err := c.ledger.UpdateCheck(src.AdapterID, status, errMsg); err != nil {
			c.logger.Error("source check: update ledger", "adapter", src.AdapterID, "error", err)
		}

		if status >= 200 && status < 400 {
			ok++
		} else {
			failed++
			c.logger.Warn("source unreachable",
				"adapter", src.AdapterID,
				"input", src.Input,
				"status", status,
				"error", errMsg,
			)
		}
	}

	c.logger.Info("source check complete", "total", ok+failed, "ok", ok, "failed", failed)
	return ok, failed
}

// checkOne returns an HTTP-style status for input. On network error, status is 0.
func (c *Checker) checkOne(ctx context.Context, input string) (int, error) {
	if !isURL(input) {
		if _, err := os.Stat(input); err != nil {
			return http.StatusNotFound, err
		}
		return http.StatusOK, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, input, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", input, err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
