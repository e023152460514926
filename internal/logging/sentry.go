package logging

import (
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/coderun-ai/orchestrator/internal/policy"
)

const flushTimeout = 2 * time.Second

// InitSentry initializes the Sentry SDK for one of the orchestrator's
// three processes (runner, scheduler, gateway). If SENTRY_DSN is
// unset, Sentry is disabled and InitSentry is a no-op. redactor scrubs
// breadcrumb and event messages before they leave the process.
func InitSentry(process, version string, redactor *policy.Redactor) func() {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return func() {}
	}

	env := os.Getenv("SENTRY_ENVIRONMENT")
	if env == "" {
		env = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "orchestrator-" + process + "@" + version,
		Environment:      env,
		AttachStacktrace: true,
		SampleRate:       1.0,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if redactor != nil {
				event.Message = redactor.Redact(event.Message)
				for i := range event.Exception {
					event.Exception[i].Value = redactor.Redact(event.Exception[i].Value)
				}
			}
			return event
		},
		BeforeBreadcrumb: func(b *sentry.Breadcrumb, hint *sentry.BreadcrumbHint) *sentry.Breadcrumb {
			if redactor != nil {
				b.Message = redactor.Redact(b.Message)
			}
			return b
		},
	})
	if err != nil {
		return func() {}
	}

	return func() {
		sentry.Flush(flushTimeout)
	}
}

// CaptureError reports err to Sentry if initialized. Safe to call even
// when Sentry is disabled.
func CaptureError(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}

// RecoverAndPanic reports a panic to Sentry, flushes, and re-panics so
// the process still crashes (and a supervisor can restart it).
func RecoverAndPanic() {
	if r := recover(); r != nil {
		sentry.CurrentHub().Recover(r)
		sentry.Flush(flushTimeout)
		panic(r)
	}
}
