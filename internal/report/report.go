// Package report forwards fatal errors to Sentry.
//
// Only the two documented fatal cases are reported: a failed feed-list
// load at the start of a sync run, and any failure inside the prune
// routine. Per-feed errors are recorded on the feed itself and never
// reported here.
package report

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"feedie/internal/config"
)

// Init configures the Sentry client from the three-part credentials.
// With no SENTRY_ID configured reporting stays disabled and every other
// function in this package is a no-op.
func Init(cfg config.Config) error {
	if cfg.SentryID == "" {
		return nil
	}
	dsn := fmt.Sprintf("https://%s:%s@app.getsentry.com/%s",
		cfg.SentryKey, cfg.SentryPass, cfg.SentryID)
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
		return fmt.Errorf("error initializing sentry: %w", err)
	}
	return nil
}

// Error captures a fatal error. Safe to call when reporting is disabled.
func Error(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}

// Flush drains pending events before process exit.
func Flush() {
	sentry.Flush(2 * time.Second)
}
