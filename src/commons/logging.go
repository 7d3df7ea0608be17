package commons

import (
	"github.com/getsentry/raven-go"
	log "github.com/sirupsen/logrus"
)

// SetupLogging configures the global logrus logger. Development gets the
// human readable text formatter, everything else JSON.
func SetupLogging(config Config) {
	if config.VerboseLogging {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if config.IsDevelopment() {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

// SetupErrorReporting enables sentry reporting when a DSN is configured.
// Without a DSN all Report* calls are no-ops.
func SetupErrorReporting(config Config) error {
	if config.SentryDsn == "" {
		return nil
	}
	if err := raven.SetDSN(config.SentryDsn); err != nil {
		return err
	}
	raven.SetEnvironment(config.Environment)
	log.Info("[Main] Sentry error reporting enabled")
	return nil
}

func ReportError(err error, tags map[string]string) {
	if err == nil || raven.ProjectID() == "" {
		return
	}
	raven.CaptureError(err, tags)
}
