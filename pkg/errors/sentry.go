package errors

import (
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled = false

func init() {
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err == nil {
			sentryEnabled = true
		}
	}
}

// EmitSentry sends err to Sentry if SENTRY_DSN is set. Structured values of
// *Error are attached as extra context.
func EmitSentry(err error) {
	if !sentryEnabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		if e, ok := err.(*Error); ok {
			for key, value := range e.Values {
				scope.SetExtra(key, value)
			}
		}
		sentry.CaptureException(err)
	})
}

// FlushSentry waits for buffered events to be delivered. Call via defer at
// the top of an entrypoint.
func FlushSentry() {
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}
