package commons

import (
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	})

	SetupLogging(Config{Environment: "production", VerboseLogging: false})
	require.Equal(t, log.InfoLevel, log.GetLevel())
	require.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	SetupLogging(Config{Environment: DevelopmentEnvironment, VerboseLogging: true})
	require.Equal(t, log.DebugLevel, log.GetLevel())
	require.IsType(t, &log.TextFormatter{}, log.StandardLogger().Formatter)
}

func TestErrorReportingDisabledWithoutDsn(t *testing.T) {
	require.NoError(t, SetupErrorReporting(Config{}))
	require.NotPanics(t, func() {
		ReportError(errors.New("boom"), map[string]string{"endpoint": "/predict"})
	})
}
